package app

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"voxium/internal/auth"
	"voxium/internal/config"
	"voxium/internal/events"
	"voxium/internal/presence"
	"voxium/internal/rbac"
	"voxium/internal/search"
	"voxium/internal/store"
)

//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../mocks/mock_app.go -package=mocks -exclude_interfaces=dataStore,messageIndex

// Publisher broadcasts committed events. Delivery is best effort.
type Publisher interface {
	Publish(ev events.Event)
}

// PresenceTracker answers who is connected and updates presence status.
type PresenceTracker interface {
	Online() []string
	SetStatus(connID string, status presence.Status) (presence.Entry, bool)
}

// FileRemover deletes uploaded files referenced by messages.
type FileRemover interface {
	Remove(ctx context.Context, fileURL string) error
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetRoom(ctx context.Context, roomID string) (store.Room, error)
	ListRoomMessages(ctx context.Context, roomID string, limit int) ([]store.Message, error)
	ListPinnedMessages(ctx context.Context, roomID string, limit int) ([]store.Message, error)
	GetMessageRoom(ctx context.Context, messageID string) (store.MessageRoom, error)
	SearchMessages(ctx context.Context, filter store.SearchFilter) ([]store.Message, error)
	InsertMessage(ctx context.Context, msg store.Message) (store.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	AddReaction(ctx context.Context, edge store.ReactionEdge) error
	RemoveReaction(ctx context.Context, edge store.ReactionEdge) error
	ListReactionUsers(ctx context.Context, messageID, emoji string) ([]string, error)
	ListReactionEdges(ctx context.Context, messageIDs []string) ([]store.ReactionEdge, error)
	PinMessage(ctx context.Context, messageID, pinnedBy string, at time.Time) error
	UnpinMessage(ctx context.Context, messageID string) error
	PurgeUserMessages(ctx context.Context, userID string) ([]store.PurgedMessage, error)
	ListIndexRecords(ctx context.Context) ([]store.IndexRecord, error)
}

type messageIndex interface {
	SearchIDs(q search.Query) ([]string, bool)
	IndexMessage(msg store.Message, requiredRole string)
	DeleteMessages(ids []string)
	ReindexAll(ctx context.Context, loader search.RecordLoader)
}

const (
	historyLimit = 200
	pinsLimit    = 50
)

type Service struct {
	cfg       config.Config
	store     dataStore
	publisher Publisher
	presence  PresenceTracker
	files     FileRemover
	index     messageIndex
	validate  *validator.Validate
	log       *slog.Logger
	now       func() time.Time
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	publisher Publisher,
	presence PresenceTracker,
	files FileRemover,
	index *search.Service,
	log *slog.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		publisher: publisher,
		presence:  presence,
		files:     files,
		index:     index,
		validate:  newValidator(),
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// Bootstrap rebuilds the search index from the database.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.index.ReindexAll(ctx, s.store)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ClaimsFromToken decodes a bearer token.
func (s *Service) ClaimsFromToken(token string) (auth.Claims, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return auth.Claims{}, err
	}
	claims.Role = rbac.Normalize(claims.Role)
	return claims, nil
}

func requireClaims(claims auth.Claims) error {
	if strings.TrimSpace(claims.Sub) == "" {
		return errUnauthenticated()
	}
	return nil
}

// accessibleRoom loads a room and applies the access rule. A missing room is
// NotFound; an existing room the caller may not read is Forbidden.
func (s *Service) accessibleRoom(ctx context.Context, claims auth.Claims, roomID string) (store.Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return store.Room{}, errNotFound("Room not found")
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return store.Room{}, s.storeFailure("get room", err, "Room not found")
	}
	if !rbac.CanAccess(claims.Role, room.RequiredRole) {
		return store.Room{}, errForbidden("You do not have access to this room")
	}
	return room, nil
}

func displayName(claims auth.Claims) string {
	if name := strings.TrimSpace(claims.Name); name != "" {
		return name
	}
	return claims.Sub
}

func (s *Service) publish(ev events.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ev)
}

// removeFile deletes an uploaded file, logging failures.
func (s *Service) removeFile(ctx context.Context, fileURL *string) {
	if s.files == nil || fileURL == nil || strings.TrimSpace(*fileURL) == "" {
		return
	}
	if err := s.files.Remove(ctx, *fileURL); err != nil {
		s.log.Warn("remove uploaded file", "url", *fileURL, "error", err)
	}
}

// Online returns the connected user ids.
func (s *Service) Online() []string {
	if s.presence == nil {
		return []string{}
	}
	return s.presence.Online()
}
