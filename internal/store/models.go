package store

import "time"

type Room struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RequiredRole string `json:"required_role"`
}

type Message struct {
	ID        string            `json:"id"`
	RoomID    string            `json:"room_id"`
	UserID    string            `json:"user_id"`
	Username  string            `json:"username"`
	Content   string            `json:"content"`
	ReplyToID *string           `json:"reply_to_id"`
	CreatedAt time.Time         `json:"created_at"`
	ImageURL  *string           `json:"image_url"`
	PinnedAt  *time.Time        `json:"pinned_at"`
	PinnedBy  *string           `json:"pinned_by"`
	AvatarURL *string           `json:"avatar_url"`
	Reactions []ReactionSummary `json:"reactions"`
}

// ReactionEdge is one user's reaction with one emoji on one message.
type ReactionEdge struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

type ReactionSummary struct {
	Emoji   string   `json:"emoji"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// MessageRoom is the access metadata of the room owning a message.
type MessageRoom struct {
	MessageID    string
	RoomID       string
	OwnerID      string
	RequiredRole string
	ImageURL     *string
}

type PurgedMessage struct {
	ID       string
	RoomID   string
	ImageURL *string
}

// SearchFilter carries the already parsed search parameters. Blank strings and
// nil bounds disable their predicate.
type SearchFilter struct {
	ViewerRole string
	Admin      bool
	RoomID     string
	Content    string
	Author     string
	From       *time.Time
	To         *time.Time
	// IDs, when set, restricts the search to these messages.
	IDs   []string
	Limit int
}

// IndexRecord is the projection of a message pushed to the search index.
type IndexRecord struct {
	ID           string
	RoomID       string
	UserID       string
	Username     string
	Content      string
	RequiredRole string
	CreatedAt    time.Time
}
