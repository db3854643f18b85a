// Package events defines the notifications streamed to live connections after
// a state change commits. Every event serializes with a "type" discriminator.
package events

import (
	"encoding/json"
	"time"

	"voxium/internal/rbac"
	"voxium/internal/store"
)

type Type string

const (
	TypeMessage                Type = "message"
	TypeMessageDeleted         Type = "message_deleted"
	TypeMessageReactionUpdated Type = "message_reaction_updated"
	TypeMessagePinned          Type = "message_pinned"
	TypeMessageUnpinned        Type = "message_unpinned"
	TypeMessagesPurged         Type = "messages_purged"
	TypeTyping                 Type = "typing"
	TypeJoin                   Type = "join"
	TypeLeave                  Type = "leave"
	TypePresence               Type = "presence"
)

// Event is implemented by every broadcastable notification. RequiredRole is
// the required role of the room the event belongs to, or rbac.RoleUser when
// the event is not room scoped. It is never serialized.
type Event interface {
	EventType() Type
	RequiredRole() string
}

// Encode serializes an event to the JSON frame sent to clients.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// roomScope carries the room's required role without exposing it on the wire.
type roomScope struct {
	requiredRole string
}

func (s roomScope) RequiredRole() string {
	if s.requiredRole == "" {
		return string(rbac.RoleUser)
	}
	return s.requiredRole
}

type global struct{}

func (global) RequiredRole() string { return string(rbac.RoleUser) }

type Message struct {
	Type Type `json:"type"`
	store.Message
	roomScope
}

func NewMessage(msg store.Message, requiredRole string) Message {
	return Message{Type: TypeMessage, Message: msg, roomScope: roomScope{requiredRole}}
}

func (Message) EventType() Type { return TypeMessage }

type MessageDeleted struct {
	Type   Type   `json:"type"`
	ID     string `json:"id"`
	RoomID string `json:"room_id"`
	roomScope
}

func NewMessageDeleted(id, roomID, requiredRole string) MessageDeleted {
	return MessageDeleted{Type: TypeMessageDeleted, ID: id, RoomID: roomID, roomScope: roomScope{requiredRole}}
}

func (MessageDeleted) EventType() Type { return TypeMessageDeleted }

// ReactionUpdated reports the full, recomputed user list for one emoji.
type ReactionUpdated struct {
	Type      Type     `json:"type"`
	RoomID    string   `json:"room_id"`
	MessageID string   `json:"message_id"`
	Emoji     string   `json:"emoji"`
	Count     int      `json:"count"`
	UserIDs   []string `json:"user_ids"`
	roomScope
}

func NewReactionUpdated(roomID, messageID, emoji string, userIDs []string, requiredRole string) ReactionUpdated {
	if userIDs == nil {
		userIDs = []string{}
	}
	return ReactionUpdated{
		Type:      TypeMessageReactionUpdated,
		RoomID:    roomID,
		MessageID: messageID,
		Emoji:     emoji,
		Count:     len(userIDs),
		UserIDs:   userIDs,
		roomScope: roomScope{requiredRole},
	}
}

func (ReactionUpdated) EventType() Type { return TypeMessageReactionUpdated }

type MessagePinned struct {
	Type     Type      `json:"type"`
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	PinnedAt time.Time `json:"pinned_at"`
	PinnedBy string    `json:"pinned_by"`
	roomScope
}

func NewMessagePinned(id, roomID string, pinnedAt time.Time, pinnedBy, requiredRole string) MessagePinned {
	return MessagePinned{
		Type:      TypeMessagePinned,
		ID:        id,
		RoomID:    roomID,
		PinnedAt:  pinnedAt,
		PinnedBy:  pinnedBy,
		roomScope: roomScope{requiredRole},
	}
}

func (MessagePinned) EventType() Type { return TypeMessagePinned }

type MessageUnpinned struct {
	Type   Type   `json:"type"`
	ID     string `json:"id"`
	RoomID string `json:"room_id"`
	roomScope
}

func NewMessageUnpinned(id, roomID, requiredRole string) MessageUnpinned {
	return MessageUnpinned{Type: TypeMessageUnpinned, ID: id, RoomID: roomID, roomScope: roomScope{requiredRole}}
}

func (MessageUnpinned) EventType() Type { return TypeMessageUnpinned }

type MessagesPurged struct {
	Type   Type   `json:"type"`
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
	global
}

func NewMessagesPurged(userID string, count int) MessagesPurged {
	return MessagesPurged{Type: TypeMessagesPurged, UserID: userID, Count: count}
}

func (MessagesPurged) EventType() Type { return TypeMessagesPurged }

type Typing struct {
	Type     Type   `json:"type"`
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	roomScope
}

func NewTyping(roomID, userID, username, requiredRole string) Typing {
	return Typing{Type: TypeTyping, RoomID: roomID, UserID: userID, Username: username, roomScope: roomScope{requiredRole}}
}

func (Typing) EventType() Type { return TypeTyping }

type Join struct {
	Type     Type   `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Status   string `json:"status"`
	global
}

func NewJoin(userID, username, role, status string) Join {
	return Join{Type: TypeJoin, UserID: userID, Username: username, Role: role, Status: status}
}

func (Join) EventType() Type { return TypeJoin }

type Leave struct {
	Type   Type   `json:"type"`
	UserID string `json:"user_id"`
	global
}

func NewLeave(userID string) Leave {
	return Leave{Type: TypeLeave, UserID: userID}
}

func (Leave) EventType() Type { return TypeLeave }

type Presence struct {
	Type   Type   `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
	global
}

func NewPresence(userID, status string) Presence {
	return Presence{Type: TypePresence, UserID: userID, Status: status}
}

func (Presence) EventType() Type { return TypePresence }
