package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"voxium/internal/auth"
	"voxium/internal/events"
	"voxium/internal/hub"
	"voxium/internal/presence"
)

// clientFrame is what browsers send over the socket. Any user id in the
// payload is ignored; identity comes from the connection.
type clientFrame struct {
	Type      string  `json:"type"`
	RoomID    string  `json:"room_id"`
	Content   string  `json:"content"`
	ReplyToID *string `json:"reply_to_id"`
	ImageURL  *string `json:"image_url"`
	Status    string  `json:"status"`
}

// SetPresence changes the status of every connection of the caller's user and
// announces it.
func (s *Service) SetPresence(connID string, claims auth.Claims, rawStatus string) (err error) {
	defer recordMutation("set_presence", &err)
	if err := requireClaims(claims); err != nil {
		return err
	}
	status, ok := presence.NormalizeStatus(rawStatus)
	if !ok {
		return errInvalidInput("status must be online, idle, dnd or invisible", map[string]string{"status": rawStatus})
	}
	if s.presence == nil {
		return nil
	}
	entry, ok := s.presence.SetStatus(connID, status)
	if !ok {
		return errNotFound("Connection not found")
	}
	s.publish(events.NewPresence(entry.UserID, string(entry.Status)))
	return nil
}

// HandleFrame dispatches one client frame. Invalid frames are logged and
// dropped; nothing is written back to the sender.
func (s *Service) HandleFrame(ctx context.Context, connID string, who hub.Identity, frame []byte) {
	var in clientFrame
	if err := json.Unmarshal(frame, &in); err != nil {
		s.log.Debug("drop malformed frame", "conn_id", connID, "user_id", who.UserID, "error", err)
		return
	}
	claims := auth.Claims{Sub: who.UserID, Name: who.Username, Role: who.Role}

	var err error
	switch strings.TrimSpace(in.Type) {
	case "message":
		_, err = s.PostMessage(ctx, claims, in.RoomID, PostMessageInput{
			Content:   in.Content,
			ReplyToID: in.ReplyToID,
			ImageURL:  in.ImageURL,
		})
	case "typing":
		err = s.Typing(ctx, claims, in.RoomID)
	case "presence":
		err = s.SetPresence(connID, claims, in.Status)
	default:
		s.log.Debug("drop unknown frame", "conn_id", connID, "type", in.Type)
		return
	}
	if err == nil {
		return
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Status < 500 {
		s.log.Debug("frame rejected", "conn_id", connID, "type", in.Type, "code", domainErr.Code, "reason", domainErr.Message)
		return
	}
	s.log.Warn("frame failed", "conn_id", connID, "type", in.Type, "error", err)
}
