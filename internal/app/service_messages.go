package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"voxium/internal/auth"
	"voxium/internal/events"
	"voxium/internal/rbac"
	"voxium/internal/reactions"
	"voxium/internal/store"
	"voxium/internal/util"
)

type PostMessageInput struct {
	Content   string  `json:"content" validate:"max=4000"`
	ReplyToID *string `json:"reply_to_id" validate:"omitempty,max=128"`
	ImageURL  *string `json:"image_url" validate:"omitempty,max=2048"`
}

// ListRoomMessages returns the first historyLimit messages of a room, oldest first.
func (s *Service) ListRoomMessages(ctx context.Context, claims auth.Claims, roomID string) ([]store.Message, error) {
	if err := requireClaims(claims); err != nil {
		return nil, err
	}
	if _, err := s.accessibleRoom(ctx, claims, roomID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListRoomMessages(ctx, roomID, historyLimit)
	if err != nil {
		return nil, s.storeFailure("list room messages", err, "")
	}
	return s.enrich(ctx, messages)
}

// ListPinnedMessages returns a room's pinned messages, latest pin first.
func (s *Service) ListPinnedMessages(ctx context.Context, claims auth.Claims, roomID string) ([]store.Message, error) {
	if err := requireClaims(claims); err != nil {
		return nil, err
	}
	if _, err := s.accessibleRoom(ctx, claims, roomID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListPinnedMessages(ctx, roomID, pinsLimit)
	if err != nil {
		return nil, s.storeFailure("list pinned messages", err, "")
	}
	return s.enrich(ctx, messages)
}

func (s *Service) enrich(ctx context.Context, messages []store.Message) ([]store.Message, error) {
	if err := reactions.Enrich(ctx, s.log, s.store, messages); err != nil {
		return nil, s.storeFailure("enrich reactions", err, "")
	}
	if messages == nil {
		return []store.Message{}, nil
	}
	return messages, nil
}

// PostMessage stores a message in a room the caller can access and
// broadcasts it.
func (s *Service) PostMessage(ctx context.Context, claims auth.Claims, roomID string, input PostMessageInput) (msg store.Message, err error) {
	defer recordMutation("post_message", &err)
	if err := requireClaims(claims); err != nil {
		return store.Message{}, err
	}
	room, err := s.accessibleRoom(ctx, claims, roomID)
	if err != nil {
		return store.Message{}, err
	}

	input.Content = strings.TrimSpace(input.Content)
	input.ReplyToID = trimOptional(input.ReplyToID)
	input.ImageURL = trimOptional(input.ImageURL)
	if err := s.validate.Struct(input); err != nil {
		return store.Message{}, errInvalidInput("Invalid message", validationDetails(err))
	}
	if input.Content == "" && input.ImageURL == nil {
		return store.Message{}, errInvalidInput("content or image_url is required", nil)
	}
	if input.ReplyToID != nil {
		target, err := s.store.GetMessageRoom(ctx, *input.ReplyToID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Message{}, errInvalidInput("reply_to_id does not reference a message", nil)
		}
		if err != nil {
			return store.Message{}, s.storeFailure("get reply target", err, "")
		}
		if target.RoomID != room.ID {
			return store.Message{}, errInvalidInput("reply_to_id references a message in another room", nil)
		}
	}

	msg, err = s.store.InsertMessage(ctx, store.Message{
		ID:        util.NewID(""),
		RoomID:    room.ID,
		UserID:    claims.Sub,
		Username:  displayName(claims),
		Content:   input.Content,
		ReplyToID: input.ReplyToID,
		ImageURL:  input.ImageURL,
		CreatedAt: s.now(),
	})
	if err != nil {
		return store.Message{}, s.storeFailure("insert message", err, "")
	}
	msg.Reactions = []store.ReactionSummary{}

	s.publish(events.NewMessage(msg, room.RequiredRole))
	s.index.IndexMessage(msg, room.RequiredRole)
	return msg, nil
}

// DeleteMessage lets the author or an admin remove a message together with
// its uploaded image and reactions.
func (s *Service) DeleteMessage(ctx context.Context, claims auth.Claims, messageID string) (err error) {
	defer recordMutation("delete_message", &err)
	if err := requireClaims(claims); err != nil {
		return err
	}
	target, err := s.store.GetMessageRoom(ctx, messageID)
	if err != nil {
		return s.storeFailure("get message room", err, "Message not found")
	}
	if target.OwnerID != claims.Sub && !rbac.IsAdmin(claims.Role) {
		return errForbidden("Only the author or an admin can delete this message")
	}

	s.removeFile(ctx, target.ImageURL)
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return s.storeFailure("delete message", err, "Message not found")
	}

	s.publish(events.NewMessageDeleted(target.MessageID, target.RoomID, target.RequiredRole))
	s.index.DeleteMessages([]string{target.MessageID})
	return nil
}

// PurgeUserMessages deletes every message of a user. Admin only.
func (s *Service) PurgeUserMessages(ctx context.Context, claims auth.Claims, userID string) (count int, err error) {
	defer recordMutation("purge_user_messages", &err)
	if err := requireClaims(claims); err != nil {
		return 0, err
	}
	if !rbac.IsAdmin(claims.Role) {
		return 0, errForbidden("Admin role required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, errInvalidInput("user id is required", nil)
	}

	purged, err := s.store.PurgeUserMessages(ctx, userID)
	if err != nil {
		return 0, s.storeFailure("purge user messages", err, "")
	}

	ids := make([]string, 0, len(purged))
	for _, item := range purged {
		ids = append(ids, item.ID)
		s.removeFile(ctx, item.ImageURL)
	}
	s.publish(events.NewMessagesPurged(userID, len(purged)))
	s.index.DeleteMessages(ids)
	s.log.Info("user messages purged", "user_id", userID, "count", len(purged), "by", claims.Sub)
	return len(purged), nil
}

// Typing broadcasts a typing indicator for a room the caller can access.
func (s *Service) Typing(ctx context.Context, claims auth.Claims, roomID string) error {
	if err := requireClaims(claims); err != nil {
		return err
	}
	room, err := s.accessibleRoom(ctx, claims, roomID)
	if err != nil {
		return err
	}
	s.publish(events.NewTyping(room.ID, claims.Sub, displayName(claims), room.RequiredRole))
	return nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
