package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"voxium/internal/auth"
	"voxium/internal/config"
	"voxium/internal/events"
	"voxium/internal/mocks"
	"voxium/internal/store"
)

const testSecret = "voxium-test-secret"

var (
	fixedNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	alice = auth.Claims{Sub: "alice", Name: "Alice", Role: "user"}
	bob   = auth.Claims{Sub: "bob", Name: "Bob", Role: "user"}
	vera  = auth.Claims{Sub: "vera", Name: "Vera", Role: "vip"}
	root  = auth.Claims{Sub: "root", Name: "Root", Role: "admin"}
)

type testEnv struct {
	svc       *Service
	store     *fakeStore
	index     *fakeIndex
	publisher *mocks.MockPublisher
	files     *mocks.MockFileRemover
	presence  *mocks.MockPresenceTracker
	events    *eventLog
}

// eventLog collects everything the service publishes.
type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) add(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

func (l *eventLog) last(t *testing.T) events.Event {
	t.Helper()
	all := l.all()
	require.NotEmpty(t, all, "no event published")
	return all[len(all)-1]
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	env := &testEnv{
		store:     newFakeStore(),
		index:     &fakeIndex{},
		publisher: mocks.NewMockPublisher(ctrl),
		files:     mocks.NewMockFileRemover(ctrl),
		presence:  mocks.NewMockPresenceTracker(ctrl),
		events:    &eventLog{},
	}
	env.publisher.EXPECT().Publish(gomock.Any()).Do(env.events.add).AnyTimes()
	env.svc = &Service{
		cfg:       config.Config{JWTSecret: testSecret},
		store:     env.store,
		publisher: env.publisher,
		presence:  env.presence,
		files:     env.files,
		index:     env.index,
		validate:  newValidator(),
		log:       logs.GetLoggerFromLevel(slog.LevelDebug),
		now:       func() time.Time { return fixedNow },
	}
	return env
}

func requireDomainError(t *testing.T, err error, status int) *DomainError {
	t.Helper()
	require.Error(t, err)
	var domainErr *DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %T: %v", err, err)
	require.Equal(t, status, domainErr.Status, domainErr.Message)
	return domainErr
}

func ptr[T any](v T) *T { return &v }

func TestListRoomMessagesAccess(t *testing.T) {
	cases := []struct {
		name   string
		claims auth.Claims
		room   string
		status int
	}{
		{name: "member reads open room", claims: alice, room: "general"},
		{name: "member denied vip room", claims: alice, room: "vip", status: http.StatusForbidden},
		{name: "vip reads vip room", claims: vera, room: "vip"},
		{name: "vip denied admin room", claims: vera, room: "staff", status: http.StatusForbidden},
		{name: "admin reads any room", claims: root, room: "staff"},
		{name: "missing room", claims: alice, room: "nope", status: http.StatusNotFound},
		{name: "missing room wins over access", claims: vera, room: "nope", status: http.StatusNotFound},
		{name: "no identity", claims: auth.Claims{}, room: "general", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.seed(store.Message{ID: "m1", RoomID: tc.room, UserID: "alice", Content: "hi"})

			messages, err := env.svc.ListRoomMessages(context.Background(), tc.claims, tc.room)
			if tc.status != 0 {
				requireDomainError(t, err, tc.status)
				return
			}
			require.NoError(t, err)
			require.Len(t, messages, 1)
		})
	}
}

func TestListRoomMessagesReturnsOldestPageFirst(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i <= historyLimit; i++ {
		env.store.seed(store.Message{ID: fmt.Sprintf("m%03d", i), RoomID: "general", UserID: "bob", Content: "x"})
	}

	messages, err := env.svc.ListRoomMessages(context.Background(), alice, "general")
	require.NoError(t, err)
	require.Len(t, messages, historyLimit)
	assert.Equal(t, "m000", messages[0].ID)
	assert.Equal(t, fmt.Sprintf("m%03d", historyLimit-1), messages[historyLimit-1].ID)
}

func TestListRoomMessagesEnrichesReactions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "alice", Content: "first"})
	env.store.seed(store.Message{ID: "m2", RoomID: "general", UserID: "bob", Content: "second"})

	for _, r := range []struct {
		who   auth.Claims
		emoji string
	}{
		{bob, "🎉"}, {alice, "👍"}, {bob, "👍"}, {root, "🎉"}, {alice, "🔥"},
	} {
		_, err := env.svc.AddReaction(ctx, r.who, "m1", r.emoji)
		require.NoError(t, err)
	}

	messages, err := env.svc.ListRoomMessages(ctx, alice, "general")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, []store.ReactionSummary{
		{Emoji: "🎉", Count: 2, UserIDs: []string{"bob", "root"}},
		{Emoji: "👍", Count: 2, UserIDs: []string{"alice", "bob"}},
		{Emoji: "🔥", Count: 1, UserIDs: []string{"alice"}},
	}, messages[0].Reactions)
	assert.NotNil(t, messages[1].Reactions)
	assert.Empty(t, messages[1].Reactions)
}

func TestListRoomMessagesReactionFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "alice", Content: "hi"})
	env.store.failOn("edges", errors.New("connection reset"))

	_, err := env.svc.ListRoomMessages(context.Background(), alice, "general")
	domainErr := requireDomainError(t, err, http.StatusInternalServerError)
	assert.Equal(t, "Server error", domainErr.Message)
}

func TestListPinnedMessagesNewestPinFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "alice", Content: "one"})
	env.store.seed(store.Message{ID: "m2", RoomID: "general", UserID: "alice", Content: "two"})
	env.store.seed(store.Message{ID: "m3", RoomID: "general", UserID: "alice", Content: "three"})

	env.svc.now = func() time.Time { return fixedNow }
	require.NoError(t, env.svc.PinMessage(ctx, root, "m2"))
	env.svc.now = func() time.Time { return fixedNow.Add(time.Minute) }
	require.NoError(t, env.svc.PinMessage(ctx, root, "m1"))

	pins, err := env.svc.ListPinnedMessages(ctx, alice, "general")
	require.NoError(t, err)
	require.Len(t, pins, 2)
	assert.Equal(t, "m1", pins[0].ID)
	assert.Equal(t, "m2", pins[1].ID)

	_, err = env.svc.ListPinnedMessages(ctx, alice, "vip")
	requireDomainError(t, err, http.StatusForbidden)
}

func TestAddReactionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "bob", Content: "hi"})

	first, err := env.svc.AddReaction(context.Background(), alice, "m1", "👍")
	require.NoError(t, err)
	second, err := env.svc.AddReaction(context.Background(), alice, "m1", " 👍 ")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Count)
	assert.Equal(t, 1, second.Count)
	assert.Equal(t, []string{"alice"}, second.UserIDs)
	assert.Equal(t, 1, env.store.edgeCount("m1"))
}

func TestAddThenRemoveReactionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "m1", RoomID: "vip", UserID: "vera", Content: "hi"})

	added, err := env.svc.AddReaction(ctx, vera, "m1", "🔥")
	require.NoError(t, err)
	assert.Equal(t, 1, added.Count)

	removed, err := env.svc.RemoveReaction(ctx, vera, "m1", "🔥")
	require.NoError(t, err)
	assert.Equal(t, events.TypeMessageReactionUpdated, removed.Type)
	assert.Equal(t, "vip", removed.RoomID)
	assert.Equal(t, "m1", removed.MessageID)
	assert.Equal(t, 0, removed.Count)
	assert.Equal(t, []string{}, removed.UserIDs)

	published, ok := env.events.last(t).(events.ReactionUpdated)
	require.True(t, ok)
	assert.Equal(t, removed, published)
	assert.Equal(t, "vip", published.RequiredRole())

	again, err := env.svc.RemoveReaction(ctx, vera, "m1", "🔥")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Count)
}

func TestReactionEmojiValidation(t *testing.T) {
	cases := []struct {
		name  string
		emoji string
		ok    bool
	}{
		{name: "single emoji", emoji: "👍", ok: true},
		{name: "sixteen code points", emoji: strings.Repeat("😀", 16), ok: true},
		{name: "seventeen code points", emoji: strings.Repeat("😀", 17)},
		{name: "empty", emoji: ""},
		{name: "only spaces", emoji: "   "},
		{name: "inner space", emoji: "👍 👍"},
		{name: "control rune", emoji: "👍\u0007"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "bob", Content: "hi"})

			_, err := env.svc.AddReaction(context.Background(), alice, "m1", tc.emoji)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			requireDomainError(t, err, http.StatusBadRequest)
			assert.Equal(t, 0, env.store.edgeCount("m1"))
		})
	}
}

func TestReactionLookupPrecedesAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "secret", RoomID: "vip", UserID: "vera", Content: "hi"})

	_, err := env.svc.AddReaction(ctx, alice, "missing", "👍")
	requireDomainError(t, err, http.StatusNotFound)

	_, err = env.svc.AddReaction(ctx, alice, "secret", "👍")
	requireDomainError(t, err, http.StatusForbidden)

	_, err = env.svc.RemoveReaction(ctx, alice, "secret", "👍")
	requireDomainError(t, err, http.StatusForbidden)

	_, err = env.svc.AddReaction(ctx, alice, "missing", "not valid")
	requireDomainError(t, err, http.StatusBadRequest)

	assert.Empty(t, env.events.all())
}

func TestConcurrentReactionsCountEveryUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "alice", Content: "vote"})

	const users = 50
	var wg sync.WaitGroup
	errs := make(chan error, users)
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			who := auth.Claims{Sub: fmt.Sprintf("user-%02d", i), Role: "user"}
			if _, err := env.svc.AddReaction(ctx, who, "m1", "👍"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	messages, err := env.svc.ListRoomMessages(ctx, alice, "general")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Reactions, 1)
	assert.Equal(t, users, messages[0].Reactions[0].Count)
	assert.Len(t, env.events.all(), users)
}

func TestDeleteMessageOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "alice", Content: "mine"})
	env.store.seed(store.Message{ID: "m2", RoomID: "general", UserID: "alice", Content: "pic", ImageURL: ptr("/uploads/cat.png")})
	_, err := env.svc.AddReaction(ctx, bob, "m2", "👍")
	require.NoError(t, err)

	err = env.svc.DeleteMessage(ctx, bob, "m1")
	requireDomainError(t, err, http.StatusForbidden)
	_, stillThere := env.store.message("m1")
	assert.True(t, stillThere)

	require.NoError(t, env.svc.DeleteMessage(ctx, alice, "m1"))
	_, stillThere = env.store.message("m1")
	assert.False(t, stillThere)

	env.files.EXPECT().Remove(gomock.Any(), "/uploads/cat.png").Return(nil)
	require.NoError(t, env.svc.DeleteMessage(ctx, root, "m2"))
	_, stillThere = env.store.message("m2")
	assert.False(t, stillThere)
	assert.Equal(t, 0, env.store.edgeCount("m2"))

	deleted, ok := env.events.last(t).(events.MessageDeleted)
	require.True(t, ok)
	assert.Equal(t, "m2", deleted.ID)
	assert.Equal(t, "general", deleted.RoomID)
	assert.Equal(t, []string{"m1", "m2"}, env.index.deleted)

	err = env.svc.DeleteMessage(ctx, root, "m2")
	requireDomainError(t, err, http.StatusNotFound)
}

func TestDeleteMessageFileRemovalIsBestEffort(t *testing.T) {
	env := newTestEnv(t)
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "alice", ImageURL: ptr("/uploads/gone.png")})
	env.files.EXPECT().Remove(gomock.Any(), "/uploads/gone.png").Return(errors.New("disk on fire"))

	require.NoError(t, env.svc.DeleteMessage(context.Background(), alice, "m1"))
	_, stillThere := env.store.message("m1")
	assert.False(t, stillThere)
}

func TestDeleteMessageWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "alice", Content: "x"})
	env.store.failOn("delete", errors.New("deadlock"))

	err := env.svc.DeleteMessage(context.Background(), alice, "m1")
	requireDomainError(t, err, http.StatusInternalServerError)
	assert.Empty(t, env.events.all())
}

func TestPinThenUnpinClearsBothFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "m1", RoomID: "vip", UserID: "vera", Content: "important"})

	require.NoError(t, env.svc.PinMessage(ctx, root, "m1"))
	msg, _ := env.store.message("m1")
	require.NotNil(t, msg.PinnedAt)
	require.NotNil(t, msg.PinnedBy)
	assert.True(t, fixedNow.Equal(*msg.PinnedAt))
	assert.Equal(t, "root", *msg.PinnedBy)

	pinned, ok := env.events.last(t).(events.MessagePinned)
	require.True(t, ok)
	assert.Equal(t, "vip", pinned.RoomID)
	assert.Equal(t, "root", pinned.PinnedBy)

	require.NoError(t, env.svc.UnpinMessage(ctx, root, "m1"))
	msg, _ = env.store.message("m1")
	assert.Nil(t, msg.PinnedAt)
	assert.Nil(t, msg.PinnedBy)

	unpinned, ok := env.events.last(t).(events.MessageUnpinned)
	require.True(t, ok)
	assert.Equal(t, "m1", unpinned.ID)
	assert.Equal(t, "vip", unpinned.RoomID)
}

func TestPinRequiresAdminBeforeLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "alice", Content: "x"})

	requireDomainError(t, env.svc.PinMessage(ctx, alice, "missing"), http.StatusForbidden)
	requireDomainError(t, env.svc.UnpinMessage(ctx, vera, "m1"), http.StatusForbidden)
	requireDomainError(t, env.svc.PinMessage(ctx, root, "missing"), http.StatusNotFound)

	env.store.failOn("pin", errors.New("read only"))
	requireDomainError(t, env.svc.PinMessage(ctx, root, "m1"), http.StatusInternalServerError)
	assert.Empty(t, env.events.all())
}

func TestPurgeUserMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "spammer", Content: "buy"})
	env.store.seed(store.Message{ID: "m2", RoomID: "vip", UserID: "spammer", Content: "buy", ImageURL: ptr("/uploads/ad.png")})
	env.store.seed(store.Message{ID: "m3", RoomID: "general", UserID: "alice", Content: "ugh"})
	_, err := env.svc.AddReaction(ctx, alice, "m1", "👎")
	require.NoError(t, err)

	_, err = env.svc.PurgeUserMessages(ctx, alice, "spammer")
	requireDomainError(t, err, http.StatusForbidden)
	_, err = env.svc.PurgeUserMessages(ctx, root, "  ")
	requireDomainError(t, err, http.StatusBadRequest)

	env.files.EXPECT().Remove(gomock.Any(), "/uploads/ad.png").Return(nil)
	count, err := env.svc.PurgeUserMessages(ctx, root, "spammer")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, env.store.edgeCount("m1"))
	_, kept := env.store.message("m3")
	assert.True(t, kept)

	purged, ok := env.events.last(t).(events.MessagesPurged)
	require.True(t, ok)
	assert.Equal(t, "spammer", purged.UserID)
	assert.Equal(t, 2, purged.Count)
	assert.ElementsMatch(t, []string{"m1", "m2"}, env.index.deleted)

	count, err = env.svc.PurgeUserMessages(ctx, root, "spammer")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPostMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "parent", RoomID: "general", UserID: "bob", Content: "question"})
	env.store.seed(store.Message{ID: "elsewhere", RoomID: "vip", UserID: "vera", Content: "psst"})

	msg, err := env.svc.PostMessage(ctx, alice, "general", PostMessageInput{Content: "  answer  ", ReplyToID: ptr("parent")})
	require.NoError(t, err)
	assert.Equal(t, "answer", msg.Content)
	assert.Equal(t, "alice", msg.UserID)
	assert.Equal(t, "Alice", msg.Username)
	assert.Equal(t, "general", msg.RoomID)
	assert.Equal(t, "parent", *msg.ReplyToID)
	assert.True(t, fixedNow.Equal(msg.CreatedAt))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, []store.ReactionSummary{}, msg.Reactions)

	published, ok := env.events.last(t).(events.Message)
	require.True(t, ok)
	assert.Equal(t, msg.ID, published.ID)
	assert.Equal(t, []string{msg.ID}, env.index.indexed)

	imageOnly, err := env.svc.PostMessage(ctx, alice, "general", PostMessageInput{ImageURL: ptr("/uploads/cat.png")})
	require.NoError(t, err)
	assert.Equal(t, "", imageOnly.Content)
}

func TestPostMessageRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name   string
		claims auth.Claims
		room   string
		input  PostMessageInput
		status int
	}{
		{name: "blank content without image", claims: alice, room: "general", input: PostMessageInput{Content: "   "}, status: http.StatusBadRequest},
		{name: "content too long", claims: alice, room: "general", input: PostMessageInput{Content: strings.Repeat("é", 4001)}, status: http.StatusBadRequest},
		{name: "reply to missing message", claims: alice, room: "general", input: PostMessageInput{Content: "hi", ReplyToID: ptr("ghost")}, status: http.StatusBadRequest},
		{name: "reply across rooms", claims: root, room: "general", input: PostMessageInput{Content: "hi", ReplyToID: ptr("elsewhere")}, status: http.StatusBadRequest},
		{name: "room denied", claims: alice, room: "vip", input: PostMessageInput{Content: "hi"}, status: http.StatusForbidden},
		{name: "room missing", claims: alice, room: "ghost", input: PostMessageInput{Content: "hi"}, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.seed(store.Message{ID: "elsewhere", RoomID: "vip", UserID: "vera", Content: "psst"})

			_, err := env.svc.PostMessage(context.Background(), tc.claims, tc.room, tc.input)
			requireDomainError(t, err, tc.status)
			assert.Empty(t, env.events.all())
		})
	}
}

func TestPostMessageReportsFieldDetails(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.PostMessage(context.Background(), alice, "general", PostMessageInput{Content: strings.Repeat("a", 4001)})
	domainErr := requireDomainError(t, err, http.StatusBadRequest)
	assert.Equal(t, map[string]string{"content": "max"}, domainErr.Details)
}

func TestSearchMessagesRespectsRoomAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "g1", RoomID: "general", UserID: "bob", Content: "Launch at noon"})
	env.store.seed(store.Message{ID: "v1", RoomID: "vip", UserID: "vera", Content: "launch party"})
	env.store.seed(store.Message{ID: "s1", RoomID: "staff", UserID: "root", Content: "launch codes"})

	ids := func(messages []store.Message) []string {
		out := make([]string, 0, len(messages))
		for _, m := range messages {
			out = append(out, m.ID)
		}
		return out
	}

	found, err := env.svc.SearchMessages(ctx, alice, SearchInput{Query: "LAUNCH"})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, ids(found))

	found, err = env.svc.SearchMessages(ctx, vera, SearchInput{Query: "launch"})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "g1"}, ids(found))

	found, err = env.svc.SearchMessages(ctx, root, SearchInput{Query: "launch"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "v1", "g1"}, ids(found))

	found, err = env.svc.SearchMessages(ctx, vera, SearchInput{Author: "ver"})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, ids(found))

	_, err = env.svc.SearchMessages(ctx, alice, SearchInput{RoomID: "vip"})
	requireDomainError(t, err, http.StatusForbidden)
	_, err = env.svc.SearchMessages(ctx, alice, SearchInput{RoomID: "ghost"})
	requireDomainError(t, err, http.StatusNotFound)
	_, err = env.svc.SearchMessages(ctx, alice, SearchInput{Limit: "lots"})
	requireDomainError(t, err, http.StatusBadRequest)
	_, err = env.svc.SearchMessages(ctx, alice, SearchInput{From: "last tuesday"})
	requireDomainError(t, err, http.StatusBadRequest)
}

func TestSearchMessagesUsesIndexAndReappliesAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "g1", RoomID: "general", UserID: "bob", Content: "launch"})
	env.store.seed(store.Message{ID: "v1", RoomID: "vip", UserID: "vera", Content: "launch"})
	env.index.answer = true
	env.index.ids = []string{"v1", "g1"}

	found, err := env.svc.SearchMessages(ctx, alice, SearchInput{Query: "launch", Limit: "10"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "g1", found[0].ID)
	require.Len(t, env.index.queries, 1)
	assert.Equal(t, "user", env.index.queries[0].ViewerRole)
	assert.Equal(t, 10, env.index.queries[0].Limit)

	_, err = env.svc.SearchMessages(ctx, alice, SearchInput{Query: "launch", Author: "bob"})
	require.NoError(t, err)
	assert.Len(t, env.index.queries, 1, "author filters are answered by the database")
}

func TestSearchMessagesNarrowsWithConfirmedIndexHits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "g0", RoomID: "general", UserID: "bob", Content: "launch old"})
	env.store.seed(store.Message{ID: "g1", RoomID: "general", UserID: "bob", Content: "launch"})
	env.store.seed(store.Message{ID: "g2", RoomID: "general", UserID: "bob", Content: "relaunch"})
	env.store.seed(store.Message{ID: "v1", RoomID: "vip", UserID: "vera", Content: "launch"})
	env.index.answer = true
	env.index.ids = []string{"v1", "g1", "g0"}

	found, err := env.svc.SearchMessages(ctx, alice, SearchInput{Query: "launch", Limit: "2"})
	require.NoError(t, err)
	got := make([]string, 0, len(found))
	for _, m := range found {
		got = append(got, m.ID)
	}
	// g2 only matches as a substring, the index never returned it.
	assert.Equal(t, []string{"g2", "g1"}, got)
	require.Len(t, env.index.queries, 1)
	assert.Equal(t, 2, env.index.queries[0].Limit)
}

func TestSearchMessagesIgnoresIndexHitsOutsideTheFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.seed(store.Message{ID: "name", RoomID: "general", UserID: "launchpad", Content: "hello"})
	env.store.seed(store.Message{ID: "typo", RoomID: "general", UserID: "bob", Content: "lunch"})
	env.store.seed(store.Message{ID: "real", RoomID: "general", UserID: "bob", Content: "prelaunch check"})
	env.index.answer = true
	env.index.ids = []string{"typo", "name"}

	found, err := env.svc.SearchMessages(ctx, alice, SearchInput{Query: "launch", Limit: "2"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "real", found[0].ID)
}

func TestParseSearchInput(t *testing.T) {
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		input SearchInput
		limit int
		from  *time.Time
		to    *time.Time
	}{
		{name: "defaults", input: SearchInput{}, limit: 80},
		{name: "clamped low", input: SearchInput{Limit: "0"}, limit: 1},
		{name: "clamped high", input: SearchInput{Limit: "5000"}, limit: 200},
		{name: "negative", input: SearchInput{Limit: "-3"}, limit: 1},
		{
			name:  "date only widened",
			input: SearchInput{From: "2026-02-01", To: "2026-02-01"},
			limit: 80,
			from:  &day,
			to:    ptr(day.Add(24*time.Hour - time.Microsecond)),
		},
		{
			name:  "rfc3339 kept",
			input: SearchInput{From: "2026-02-01T10:30:00+02:00"},
			limit: 80,
			from:  ptr(time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)),
		},
		{name: "blank values ignored", input: SearchInput{Query: "  ", Author: " ", RoomID: "", From: " "}, limit: 80},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			filter, err := parseSearchInput(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.limit, filter.Limit)
			assert.Empty(t, filter.Content)
			assert.Empty(t, filter.Author)
			if tc.from == nil {
				assert.Nil(t, filter.From)
			} else {
				require.NotNil(t, filter.From)
				assert.True(t, tc.from.Equal(*filter.From), "from = %s", filter.From)
			}
			if tc.to == nil {
				assert.Nil(t, filter.To)
			} else {
				require.NotNil(t, filter.To)
				assert.True(t, tc.to.Equal(*filter.To), "to = %s", filter.To)
			}
		})
	}
}

func TestParseSearchInputRejectsGarbage(t *testing.T) {
	for _, input := range []SearchInput{
		{Limit: "ten"},
		{Limit: "1.5"},
		{From: "02/01/2026"},
		{To: "2026-13-01"},
	} {
		_, err := parseSearchInput(input)
		requireDomainError(t, err, http.StatusBadRequest)
	}
}

func TestTypingChecksRoomAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	requireDomainError(t, env.svc.Typing(ctx, alice, "vip"), http.StatusForbidden)
	assert.Empty(t, env.events.all())

	require.NoError(t, env.svc.Typing(ctx, vera, "vip"))
	typing, ok := env.events.last(t).(events.Typing)
	require.True(t, ok)
	assert.Equal(t, "vera", typing.UserID)
	assert.Equal(t, "Vera", typing.Username)
	assert.Equal(t, "vip", typing.RequiredRole())
}

func TestBootstrapReindexesEveryMessage(t *testing.T) {
	env := newTestEnv(t)
	env.store.seed(store.Message{ID: "m1", RoomID: "general", UserID: "alice", Content: "a"})
	env.store.seed(store.Message{ID: "m2", RoomID: "vip", UserID: "vera", Content: "b"})

	require.NoError(t, env.svc.Bootstrap(context.Background()))
	assert.Equal(t, 2, env.index.reindexed)
}

func TestClaimsFromToken(t *testing.T) {
	env := newTestEnv(t)
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{Sub: "alice", Name: "Alice", Role: " VIP "}, time.Hour)
	require.NoError(t, err)

	claims, err := env.svc.ClaimsFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Sub)
	assert.Equal(t, "vip", claims.Role)

	_, err = env.svc.ClaimsFromToken("not-a-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
