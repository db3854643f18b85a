//go:generate go run go.uber.org/mock/mockgen -source=reactions.go -destination=../mocks/mock_edge_loader.go -package=mocks

// Package reactions validates emoji and folds reaction edges into the
// per-message summaries returned by every read path.
package reactions

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	"voxium/internal/store"
)

// MaxEmojiRunes is the longest accepted emoji, in code points.
const MaxEmojiRunes = 16

var ErrInvalidEmoji = errors.New("invalid emoji")

type EdgeLoader interface {
	ListReactionEdges(ctx context.Context, messageIDs []string) ([]store.ReactionEdge, error)
}

// NormalizeEmoji trims raw and rejects empty values, values longer than
// MaxEmojiRunes code points and values holding control or whitespace runes.
func NormalizeEmoji(raw string) (string, error) {
	emoji := strings.TrimSpace(raw)
	if emoji == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmoji)
	}
	if !utf8.ValidString(emoji) {
		return "", fmt.Errorf("%w: not valid utf-8", ErrInvalidEmoji)
	}
	if n := utf8.RuneCountInString(emoji); n > MaxEmojiRunes {
		return "", fmt.Errorf("%w: %d code points, max %d", ErrInvalidEmoji, n, MaxEmojiRunes)
	}
	if strings.IndexFunc(emoji, func(r rune) bool { return unicode.IsControl(r) || unicode.IsSpace(r) }) >= 0 {
		return "", fmt.Errorf("%w: contains control or whitespace", ErrInvalidEmoji)
	}
	return emoji, nil
}

// Summarize groups edges by message, then by emoji. Malformed edges and
// repeated (message, user, emoji) triples are skipped and counted.
func Summarize(edges []store.ReactionEdge) (map[string][]store.ReactionSummary, int) {
	ordered := slices.Clone(edges)
	slices.SortStableFunc(ordered, func(a, b store.ReactionEdge) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	type key struct{ message, emoji string }
	seen := make(map[store.ReactionEdge]struct{}, len(ordered))
	users := make(map[key][]string)
	emojisByMessage := make(map[string][]string)
	skipped := 0

	for _, edge := range ordered {
		if edge.Malformed() {
			skipped++
			continue
		}
		identity := store.ReactionEdge{MessageID: edge.MessageID, UserID: edge.UserID, Emoji: edge.Emoji}
		if _, dup := seen[identity]; dup {
			skipped++
			continue
		}
		seen[identity] = struct{}{}

		k := key{edge.MessageID, edge.Emoji}
		if _, ok := users[k]; !ok {
			emojisByMessage[edge.MessageID] = append(emojisByMessage[edge.MessageID], edge.Emoji)
		}
		users[k] = append(users[k], edge.UserID)
	}

	out := make(map[string][]store.ReactionSummary, len(emojisByMessage))
	for messageID, emojis := range emojisByMessage {
		summaries := lo.Map(emojis, func(emoji string, _ int) store.ReactionSummary {
			ids := users[key{messageID, emoji}]
			return store.ReactionSummary{Emoji: emoji, Count: len(ids), UserIDs: ids}
		})
		SortSummaries(summaries)
		out[messageID] = summaries
	}
	return out, skipped
}

// SortSummaries orders by count descending, then emoji ascending.
func SortSummaries(summaries []store.ReactionSummary) {
	slices.SortFunc(summaries, func(a, b store.ReactionSummary) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Emoji, b.Emoji)
	})
}

// Enrich fills Reactions on every message in place with a single batched
// fetch. Messages without reactions get an empty list.
func Enrich(ctx context.Context, log *slog.Logger, loader EdgeLoader, messages []store.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := lo.Uniq(lo.Map(messages, func(m store.Message, _ int) string { return m.ID }))
	edges, err := loader.ListReactionEdges(ctx, ids)
	if err != nil {
		return fmt.Errorf("load reactions: %w", err)
	}

	summaries, skipped := Summarize(edges)
	if skipped > 0 {
		log.Debug("skipped reaction rows", "skipped", skipped, "messages", len(ids))
	}
	for i := range messages {
		if s, ok := summaries[messages[i].ID]; ok {
			messages[i].Reactions = s
		} else {
			messages[i].Reactions = []store.ReactionSummary{}
		}
	}
	return nil
}
