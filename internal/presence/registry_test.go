package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestRegistryFirstAndLastConnection(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()

	req.True(r.Register("c1", Entry{UserID: "ann"}))
	req.False(r.Register("c2", Entry{UserID: "ann"}))
	req.True(r.Register("c3", Entry{UserID: "bob"}))
	req.Equal(3, r.Len())
	req.Equal([]string{"ann", "bob"}, r.Snapshot())

	entry, last, ok := r.Unregister("c1")
	req.True(ok)
	req.False(last)
	req.Equal("ann", entry.UserID)
	req.Equal([]string{"ann", "bob"}, r.Snapshot())

	_, last, ok = r.Unregister("c2")
	req.True(ok)
	req.True(last)
	req.Equal([]string{"bob"}, r.Snapshot())

	_, _, ok = r.Unregister("c2")
	req.False(ok)
}

func TestRegistryReRegisterSameConnection(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()

	req.True(r.Register("c1", Entry{UserID: "ann"}))
	req.False(r.Register("c1", Entry{UserID: "ann", Username: "Ann"}))
	req.Equal(1, r.Len())
	req.Equal("Ann", r.Users()[0].Username)

	_, last, ok := r.Unregister("c1")
	req.True(ok)
	req.True(last)
	req.Empty(r.Snapshot())
}

func TestRegistryReRegisterConnectionForOtherUser(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()

	req.True(r.Register("c1", Entry{UserID: "ann"}))
	req.True(r.Register("c1", Entry{UserID: "bob"}))
	req.Equal([]string{"bob"}, r.Snapshot())
}

type recordingMirror struct {
	mu  sync.Mutex
	ops []string
}

func (m *recordingMirror) Online(_ context.Context, entry Entry) error {
	m.record("online " + entry.UserID)
	return nil
}

func (m *recordingMirror) Offline(_ context.Context, userID string) error {
	m.record("offline " + userID)
	return nil
}

func (m *recordingMirror) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

func (m *recordingMirror) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func TestRegistryMirrorSeesOfflineLastAfterStatusRace(t *testing.T) {
	r := newTestRegistry()
	mirror := &recordingMirror{}
	r.SetMirror(mirror)
	defer r.Close()

	const users = 50
	for i := 0; i < users; i++ {
		connID := fmt.Sprintf("c%d", i)
		r.Register(connID, Entry{UserID: fmt.Sprintf("u%d", i)})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.SetStatus(connID, StatusIdle)
		}()
		go func() {
			defer wg.Done()
			r.Unregister(connID)
		}()
		wg.Wait()
	}
	r.Register("sentinel", Entry{UserID: "sentinel"})
	r.Unregister("sentinel")

	require.Eventually(t, func() bool {
		ops := mirror.snapshot()
		return len(ops) > 0 && ops[len(ops)-1] == "offline sentinel"
	}, time.Second, 5*time.Millisecond)

	lastOp := make(map[string]string)
	for _, op := range mirror.snapshot() {
		var kind, user string
		_, err := fmt.Sscanf(op, "%s %s", &kind, &user)
		require.NoError(t, err)
		lastOp[user] = kind
	}
	for i := 0; i < users; i++ {
		require.Equal(t, "offline", lastOp[fmt.Sprintf("u%d", i)])
	}
}

func TestRegistryDefaultsStatus(t *testing.T) {
	r := newTestRegistry()
	r.Register("c1", Entry{UserID: "ann"})

	users := r.Users()
	require.Len(t, users, 1)
	require.Equal(t, StatusOnline, users[0].Status)
	require.False(t, users[0].JoinedAt.IsZero())
}

func TestRegistrySetStatusAppliesToAllConnectionsOfUser(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	r.Register("c1", Entry{UserID: "ann"})
	r.Register("c2", Entry{UserID: "ann"})

	entry, ok := r.SetStatus("c2", StatusDND)
	req.True(ok)
	req.Equal(StatusDND, entry.Status)

	r.Unregister("c2")
	users := r.Users()
	req.Len(users, 1)
	req.Equal(StatusDND, users[0].Status)

	_, ok = r.SetStatus("missing", StatusIdle)
	req.False(ok)
}

func TestRegistryConcurrentLifecycle(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", i)
			r.Register(connID, Entry{UserID: fmt.Sprintf("u%d", i%10)})
			_ = r.Snapshot()
			if i%2 == 0 {
				r.Unregister(connID)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 50, r.Len())
	// odd connections remain: users u1, u3, u5, u7, u9
	require.Equal(t, []string{"u1", "u3", "u5", "u7", "u9"}, r.Snapshot())
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]Status{
		"online":    StatusOnline,
		" IDLE ":    StatusIdle,
		"dnd":       StatusDND,
		"invisible": StatusInvisible,
	}
	for raw, want := range tests {
		got, ok := NormalizeStatus(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got)
	}
	_, ok := NormalizeStatus("away")
	require.False(t, ok)
}
