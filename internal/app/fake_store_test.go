package app

import (
	"context"
	"database/sql"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"voxium/internal/search"
	"voxium/internal/store"
)

// fakeStore is an in-memory dataStore with the same not-found and
// idempotency rules as the Postgres store.
type fakeStore struct {
	mu       sync.Mutex
	rooms    map[string]store.Room
	messages map[string]store.Message
	edges    []store.ReactionEdge
	failures map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms: map[string]store.Room{
			"general": {ID: "general", Name: "General", RequiredRole: "user"},
			"vip":     {ID: "vip", Name: "VIP lounge", RequiredRole: "vip"},
			"staff":   {ID: "staff", Name: "Staff", RequiredRole: "admin"},
		},
		messages: map[string]store.Message{},
		failures: map[string]error{},
	}
}

func (f *fakeStore) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// fail must be called with mu held.
func (f *fakeStore) fail(op string) error {
	return f.failures[op]
}

func (f *fakeStore) seed(msg store.Message) store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Date(2026, 1, 2, 10, 0, len(f.messages), 0, time.UTC)
	}
	if msg.Username == "" {
		msg.Username = msg.UserID
	}
	f.messages[msg.ID] = msg
	return msg
}

func (f *fakeStore) message(id string) (store.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	return msg, ok
}

func (f *fakeStore) edgeCount(messageID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, edge := range f.edges {
		if edge.MessageID == messageID {
			n++
		}
	}
	return n
}

func (f *fakeStore) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail("ping")
}

func (f *fakeStore) GetRoom(_ context.Context, roomID string) (store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return store.Room{}, sql.ErrNoRows
	}
	return room, nil
}

func (f *fakeStore) sorted(keep func(store.Message) bool) []store.Message {
	out := []store.Message{}
	for _, msg := range f.messages {
		if keep(msg) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (f *fakeStore) ListRoomMessages(_ context.Context, roomID string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("list"); err != nil {
		return nil, err
	}
	out := f.sorted(func(m store.Message) bool { return m.RoomID == roomID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ListPinnedMessages(_ context.Context, roomID string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sorted(func(m store.Message) bool { return m.RoomID == roomID && m.PinnedAt != nil })
	sort.SliceStable(out, func(i, j int) bool { return out[i].PinnedAt.After(*out[j].PinnedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetMessageRoom(_ context.Context, messageID string) (store.MessageRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return store.MessageRoom{}, sql.ErrNoRows
	}
	role := "user"
	if room, ok := f.rooms[msg.RoomID]; ok {
		role = room.RequiredRole
	}
	return store.MessageRoom{
		MessageID:    msg.ID,
		RoomID:       msg.RoomID,
		OwnerID:      msg.UserID,
		RequiredRole: role,
		ImageURL:     msg.ImageURL,
	}, nil
}

func (f *fakeStore) visible(msg store.Message, viewerRole string, admin bool) bool {
	if admin {
		return true
	}
	room := f.rooms[msg.RoomID]
	return room.RequiredRole == "user" || room.RequiredRole == viewerRole
}

func (f *fakeStore) SearchMessages(_ context.Context, filter store.SearchFilter) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sorted(func(m store.Message) bool {
		switch {
		case !f.visible(m, filter.ViewerRole, filter.Admin):
			return false
		case len(filter.IDs) > 0 && !slices.Contains(filter.IDs, m.ID):
			return false
		case filter.RoomID != "" && m.RoomID != filter.RoomID:
			return false
		case filter.Content != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(filter.Content)):
			return false
		case filter.Author != "" && !strings.Contains(strings.ToLower(m.Username), strings.ToLower(filter.Author)):
			return false
		case filter.From != nil && m.CreatedAt.Before(*filter.From):
			return false
		case filter.To != nil && m.CreatedAt.After(*filter.To):
			return false
		}
		return true
	})
	slices.Reverse(out)
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) InsertMessage(_ context.Context, msg store.Message) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("insert"); err != nil {
		return store.Message{}, err
	}
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("delete"); err != nil {
		return err
	}
	if _, ok := f.messages[messageID]; !ok {
		return sql.ErrNoRows
	}
	f.dropEdgesLocked(func(e store.ReactionEdge) bool { return e.MessageID == messageID })
	delete(f.messages, messageID)
	return nil
}

func (f *fakeStore) dropEdgesLocked(drop func(store.ReactionEdge) bool) {
	f.edges = slices.DeleteFunc(f.edges, drop)
}

func (f *fakeStore) AddReaction(_ context.Context, edge store.ReactionEdge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[edge.MessageID]; !ok {
		return sql.ErrNoRows
	}
	for _, existing := range f.edges {
		if existing.MessageID == edge.MessageID && existing.UserID == edge.UserID && existing.Emoji == edge.Emoji {
			return nil
		}
	}
	f.edges = append(f.edges, edge)
	return nil
}

func (f *fakeStore) RemoveReaction(_ context.Context, edge store.ReactionEdge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropEdgesLocked(func(e store.ReactionEdge) bool {
		return e.MessageID == edge.MessageID && e.UserID == edge.UserID && e.Emoji == edge.Emoji
	})
	return nil
}

func (f *fakeStore) ListReactionUsers(_ context.Context, messageID, emoji string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := []string{}
	for _, edge := range f.edges {
		if edge.MessageID == messageID && edge.Emoji == emoji {
			users = append(users, edge.UserID)
		}
	}
	return users, nil
}

func (f *fakeStore) ListReactionEdges(_ context.Context, messageIDs []string) ([]store.ReactionEdge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("edges"); err != nil {
		return nil, err
	}
	out := []store.ReactionEdge{}
	for _, edge := range f.edges {
		if slices.Contains(messageIDs, edge.MessageID) {
			out = append(out, edge)
		}
	}
	return out, nil
}

func (f *fakeStore) PinMessage(_ context.Context, messageID, pinnedBy string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("pin"); err != nil {
		return err
	}
	msg, ok := f.messages[messageID]
	if !ok {
		return sql.ErrNoRows
	}
	msg.PinnedAt = &at
	msg.PinnedBy = &pinnedBy
	f.messages[messageID] = msg
	return nil
}

func (f *fakeStore) UnpinMessage(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return sql.ErrNoRows
	}
	msg.PinnedAt = nil
	msg.PinnedBy = nil
	f.messages[messageID] = msg
	return nil
}

func (f *fakeStore) PurgeUserMessages(_ context.Context, userID string) ([]store.PurgedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	purged := []store.PurgedMessage{}
	for id, msg := range f.messages {
		if msg.UserID != userID {
			continue
		}
		f.dropEdgesLocked(func(e store.ReactionEdge) bool { return e.MessageID == id })
		delete(f.messages, id)
		purged = append(purged, store.PurgedMessage{ID: id, RoomID: msg.RoomID, ImageURL: msg.ImageURL})
	}
	return purged, nil
}

func (f *fakeStore) ListIndexRecords(context.Context) ([]store.IndexRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := []store.IndexRecord{}
	for _, msg := range f.messages {
		records = append(records, store.IndexRecord{
			ID:           msg.ID,
			RoomID:       msg.RoomID,
			UserID:       msg.UserID,
			Username:     msg.Username,
			Content:      msg.Content,
			RequiredRole: f.rooms[msg.RoomID].RequiredRole,
			CreatedAt:    msg.CreatedAt,
		})
	}
	return records, nil
}

// fakeIndex records index traffic and can answer searches with fixed ids.
type fakeIndex struct {
	mu        sync.Mutex
	ids       []string
	answer    bool
	queries   []search.Query
	indexed   []string
	deleted   []string
	reindexed int
}

func (f *fakeIndex) SearchIDs(q search.Query) ([]string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return f.ids, f.answer
}

func (f *fakeIndex) IndexMessage(msg store.Message, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, msg.ID)
}

func (f *fakeIndex) DeleteMessages(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
}

func (f *fakeIndex) ReindexAll(ctx context.Context, loader search.RecordLoader) {
	records, err := loader.ListIndexRecords(ctx)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexed = len(records)
}
