package app

import (
	"context"

	"voxium/internal/auth"
	"voxium/internal/events"
	"voxium/internal/rbac"
	"voxium/internal/reactions"
	"voxium/internal/store"
)

// AddReaction records the caller's emoji on a message. Adding the same
// reaction twice leaves a single edge.
func (s *Service) AddReaction(ctx context.Context, claims auth.Claims, messageID, rawEmoji string) (ev events.ReactionUpdated, err error) {
	defer recordMutation("add_reaction", &err)
	return s.react(ctx, claims, messageID, rawEmoji, s.store.AddReaction)
}

// RemoveReaction drops the caller's emoji from a message. Removing a reaction
// that does not exist is not an error.
func (s *Service) RemoveReaction(ctx context.Context, claims auth.Claims, messageID, rawEmoji string) (ev events.ReactionUpdated, err error) {
	defer recordMutation("remove_reaction", &err)
	return s.react(ctx, claims, messageID, rawEmoji, s.store.RemoveReaction)
}

func (s *Service) react(
	ctx context.Context,
	claims auth.Claims,
	messageID, rawEmoji string,
	write func(context.Context, store.ReactionEdge) error,
) (events.ReactionUpdated, error) {
	if err := requireClaims(claims); err != nil {
		return events.ReactionUpdated{}, err
	}
	emoji, err := reactions.NormalizeEmoji(rawEmoji)
	if err != nil {
		return events.ReactionUpdated{}, errInvalidInput("Invalid emoji", err.Error())
	}

	target, err := s.store.GetMessageRoom(ctx, messageID)
	if err != nil {
		return events.ReactionUpdated{}, s.storeFailure("get message room", err, "Message not found")
	}
	if !rbac.CanAccess(claims.Role, target.RequiredRole) {
		return events.ReactionUpdated{}, errForbidden("You do not have access to this room")
	}

	edge := store.ReactionEdge{
		MessageID: target.MessageID,
		UserID:    claims.Sub,
		Emoji:     emoji,
		CreatedAt: s.now(),
	}
	if err := write(ctx, edge); err != nil {
		return events.ReactionUpdated{}, s.storeFailure("write reaction", err, "Message not found")
	}

	userIDs, err := s.store.ListReactionUsers(ctx, target.MessageID, emoji)
	if err != nil {
		return events.ReactionUpdated{}, s.storeFailure("list reaction users", err, "")
	}

	ev := events.NewReactionUpdated(target.RoomID, target.MessageID, emoji, userIDs, target.RequiredRole)
	s.publish(ev)
	return ev, nil
}
