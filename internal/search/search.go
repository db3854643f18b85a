package search

import (
	"time"

	"voxium/internal/store"
)

// Query describes a message search pushed down to the index. The index only
// returns ids; rows and access checks come from the store.
type Query struct {
	Text       string
	RoomID     string
	ViewerRole string
	Admin      bool
	From       *time.Time
	To         *time.Time
	Limit      int
}

// MessageRecord is the document we index for a message. CreatedAt is in unix
// milliseconds so range filters work.
type MessageRecord struct {
	ID           string `json:"id"`
	RoomID       string `json:"room_id"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Content      string `json:"content"`
	RequiredRole string `json:"required_role"`
	CreatedAt    int64  `json:"created_at"`
}

func RecordFromMessage(msg store.Message, requiredRole string) MessageRecord {
	return MessageRecord{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		UserID:       msg.UserID,
		Username:     msg.Username,
		Content:      msg.Content,
		RequiredRole: requiredRole,
		CreatedAt:    msg.CreatedAt.UnixMilli(),
	}
}

func RecordFromIndex(rec store.IndexRecord) MessageRecord {
	return MessageRecord{
		ID:           rec.ID,
		RoomID:       rec.RoomID,
		UserID:       rec.UserID,
		Username:     rec.Username,
		Content:      rec.Content,
		RequiredRole: rec.RequiredRole,
		CreatedAt:    rec.CreatedAt.UnixMilli(),
	}
}

// Searcher returns matching message ids, newest first.
type Searcher interface {
	SearchIDs(q Query) ([]string, error)
	Healthy() bool
}

// Indexer can push messages into a search index.
type Indexer interface {
	IndexMessages(records []MessageRecord) error
	DeleteMessage(id string) error
}
