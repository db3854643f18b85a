package app

import (
	"context"

	"voxium/internal/auth"
	"voxium/internal/events"
	"voxium/internal/rbac"
)

// PinMessage marks a message as pinned by the caller. Admin only.
func (s *Service) PinMessage(ctx context.Context, claims auth.Claims, messageID string) (err error) {
	defer recordMutation("pin_message", &err)
	if err := requireClaims(claims); err != nil {
		return err
	}
	if !rbac.IsAdmin(claims.Role) {
		return errForbidden("Admin role required")
	}
	target, err := s.store.GetMessageRoom(ctx, messageID)
	if err != nil {
		return s.storeFailure("get message room", err, "Message not found")
	}

	pinnedAt := s.now()
	if err := s.store.PinMessage(ctx, target.MessageID, claims.Sub, pinnedAt); err != nil {
		return s.storeFailure("pin message", err, "Message not found")
	}
	s.publish(events.NewMessagePinned(target.MessageID, target.RoomID, pinnedAt, claims.Sub, target.RequiredRole))
	return nil
}

// UnpinMessage clears both pin fields. Admin only.
func (s *Service) UnpinMessage(ctx context.Context, claims auth.Claims, messageID string) (err error) {
	defer recordMutation("unpin_message", &err)
	if err := requireClaims(claims); err != nil {
		return err
	}
	if !rbac.IsAdmin(claims.Role) {
		return errForbidden("Admin role required")
	}
	target, err := s.store.GetMessageRoom(ctx, messageID)
	if err != nil {
		return s.storeFailure("get message room", err, "Message not found")
	}

	if err := s.store.UnpinMessage(ctx, target.MessageID); err != nil {
		return s.storeFailure("unpin message", err, "Message not found")
	}
	s.publish(events.NewMessageUnpinned(target.MessageID, target.RoomID, target.RequiredRole))
	return nil
}
