package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type rowScanner interface {
	Scan(dest ...any) error
}

var errMissingColumn = errors.New("required column is null")

// messageColumns must stay in the order scanMessage reads them.
const messageColumns = `m.id, m.room_id, m.user_id, m.username, m.content, m.reply_to_id,
	m.created_at, m.image_url, m.pinned_at, m.pinned_by, u.avatar_url`

const messageFrom = `FROM messages m LEFT JOIN users u ON u.id = m.user_id`

// scanMessage decodes one message row. id, room_id, user_id and created_at
// are required; username and content fall back to ""; the remaining columns
// are optional and stay nil when NULL.
func scanMessage(row rowScanner) (Message, error) {
	var (
		id, roomID, userID  sql.NullString
		username, content   sql.NullString
		replyTo, imageURL   sql.NullString
		pinnedBy, avatarURL sql.NullString
		createdAt, pinnedAt sql.NullTime
	)
	if err := row.Scan(&id, &roomID, &userID, &username, &content, &replyTo,
		&createdAt, &imageURL, &pinnedAt, &pinnedBy, &avatarURL); err != nil {
		return Message{}, err
	}

	switch {
	case !id.Valid:
		return Message{}, fmt.Errorf("decode message: id: %w", errMissingColumn)
	case !roomID.Valid:
		return Message{}, fmt.Errorf("decode message %s: room_id: %w", id.String, errMissingColumn)
	case !userID.Valid:
		return Message{}, fmt.Errorf("decode message %s: user_id: %w", id.String, errMissingColumn)
	case !createdAt.Valid:
		return Message{}, fmt.Errorf("decode message %s: created_at: %w", id.String, errMissingColumn)
	}

	msg := Message{
		ID:        id.String,
		RoomID:    roomID.String,
		UserID:    userID.String,
		Username:  username.String,
		Content:   content.String,
		ReplyToID: optionalString(replyTo),
		CreatedAt: createdAt.Time.UTC(),
		ImageURL:  optionalString(imageURL),
		PinnedBy:  optionalString(pinnedBy),
		AvatarURL: optionalString(avatarURL),
		Reactions: []ReactionSummary{},
	}
	if pinnedAt.Valid {
		at := pinnedAt.Time.UTC()
		msg.PinnedAt = &at
	}
	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// scanReactionEdge never fails on NULL columns: a NULL key becomes "" and the
// edge is reported malformed, so the aggregator can skip it.
func scanReactionEdge(row rowScanner) (ReactionEdge, error) {
	var messageID, userID, emoji sql.NullString
	var createdAt sql.NullTime
	if err := row.Scan(&messageID, &userID, &emoji, &createdAt); err != nil {
		return ReactionEdge{}, err
	}
	edge := ReactionEdge{
		MessageID: messageID.String,
		UserID:    userID.String,
		Emoji:     emoji.String,
	}
	if createdAt.Valid {
		edge.CreatedAt = createdAt.Time.UTC()
	}
	return edge, nil
}

// Malformed reports whether the edge is missing one of its key fields.
func (e ReactionEdge) Malformed() bool {
	return strings.TrimSpace(e.MessageID) == "" || strings.TrimSpace(e.UserID) == "" || strings.TrimSpace(e.Emoji) == ""
}

func optionalString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	out := value.String
	return &out
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
