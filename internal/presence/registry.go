// Package presence tracks which users currently hold a live connection.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Status string

const (
	StatusOnline    Status = "online"
	StatusIdle      Status = "idle"
	StatusDND       Status = "dnd"
	StatusInvisible Status = "invisible"
)

// NormalizeStatus maps a client supplied status onto a known one.
func NormalizeStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusOnline:
		return StatusOnline, true
	case StatusIdle:
		return StatusIdle, true
	case StatusDND:
		return StatusDND, true
	case StatusInvisible:
		return StatusInvisible, true
	}
	return "", false
}

var onlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "voxium_presence_online_users",
	Help: "Distinct users with at least one live connection.",
})

func init() {
	prometheus.MustRegister(onlineUsers)
}

// Entry is the identity bound to one connection.
type Entry struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	Status   Status    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
}

// Mirror receives user level transitions so other processes can read presence.
type Mirror interface {
	Online(ctx context.Context, entry Entry) error
	Offline(ctx context.Context, userID string) error
}

const (
	mirrorTimeout = 3 * time.Second
	mirrorQueue   = 256
)

// Registry maps connection ids to identities. A user may hold several
// connections; they count once in Snapshot.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]Entry
	perUser map[string]int
	mirror  Mirror
	ops     chan func(ctx context.Context) error
	stop    context.CancelFunc
	stopped context.Context
	log     *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		conns:   make(map[string]Entry),
		perUser: make(map[string]int),
		log:     log,
	}
}

// SetMirror installs a mirror and starts the goroutine feeding it, in order.
// It must be called before the registry is used.
func (r *Registry) SetMirror(m Mirror) {
	r.mirror = m
	r.ops = make(chan func(ctx context.Context) error, mirrorQueue)
	r.stopped, r.stop = context.WithCancel(context.Background())
	go r.runMirror()
}

// Close stops mirroring. Pending updates are dropped.
func (r *Registry) Close() {
	if r.stop != nil {
		r.stop()
	}
}

func (r *Registry) runMirror() {
	for {
		select {
		case <-r.stopped.Done():
			return
		case call := <-r.ops:
			ctx, cancel := context.WithTimeout(r.stopped, mirrorTimeout)
			if err := call(ctx); err != nil {
				r.log.Warn("presence mirror update failed", "error", err)
			}
			cancel()
		}
	}
}

// Register records a connection. It reports whether this is the user's first
// live connection. Registering a known connection id replaces its entry; for
// the same user that is not a new join.
func (r *Registry) Register(connID string, entry Entry) bool {
	if entry.Status == "" {
		entry.Status = StatusOnline
	}
	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = time.Now().UTC()
	}

	r.mu.Lock()
	previous, known := r.conns[connID]
	r.conns[connID] = entry
	first := false
	if !known || previous.UserID != entry.UserID {
		if known && r.dropLocked(previous.UserID) {
			r.mirrorAsync(func(ctx context.Context) error { return r.mirror.Offline(ctx, previous.UserID) })
		}
		r.perUser[entry.UserID]++
		first = r.perUser[entry.UserID] == 1
	}
	if first {
		r.mirrorAsync(func(ctx context.Context) error { return r.mirror.Online(ctx, entry) })
	}
	users := len(r.perUser)
	r.mu.Unlock()

	onlineUsers.Set(float64(users))
	return first
}

// Unregister forgets a connection. last reports whether the user has no live
// connection left; ok is false for unknown ids.
func (r *Registry) Unregister(connID string) (entry Entry, last bool, ok bool) {
	r.mu.Lock()
	entry, ok = r.conns[connID]
	if ok {
		delete(r.conns, connID)
		last = r.dropLocked(entry.UserID)
	}
	if last {
		userID := entry.UserID
		r.mirrorAsync(func(ctx context.Context) error { return r.mirror.Offline(ctx, userID) })
	}
	users := len(r.perUser)
	r.mu.Unlock()

	if !ok {
		return Entry{}, false, false
	}
	onlineUsers.Set(float64(users))
	return entry, last, true
}

func (r *Registry) dropLocked(userID string) bool {
	r.perUser[userID]--
	if r.perUser[userID] <= 0 {
		delete(r.perUser, userID)
		return true
	}
	return false
}

// SetStatus updates the status on every connection of the user owning connID.
// Mirror updates are queued under the lock so they keep the order of the
// transitions that caused them.
func (r *Registry) SetStatus(connID string, status Status) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[connID]
	if !ok {
		return Entry{}, false
	}
	for id, e := range r.conns {
		if e.UserID == entry.UserID {
			e.Status = status
			r.conns[id] = e
		}
	}
	entry.Status = status
	r.mirrorAsync(func(ctx context.Context) error { return r.mirror.Online(ctx, entry) })
	return entry, true
}

// Snapshot returns the distinct online user ids, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.perUser))
	for id := range r.perUser {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Users returns one entry per online user, sorted by user id.
func (r *Registry) Users() []Entry {
	r.mu.RLock()
	byUser := make(map[string]Entry, len(r.perUser))
	for _, e := range r.conns {
		if current, ok := byUser[e.UserID]; !ok || e.JoinedAt.Before(current.JoinedAt) {
			byUser[e.UserID] = e
		}
	}
	r.mu.RUnlock()

	out := make([]Entry, 0, len(byUser))
	for _, e := range byUser {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) mirrorAsync(call func(ctx context.Context) error) {
	if r.mirror == nil {
		return
	}
	select {
	case <-r.stopped.Done():
	case r.ops <- call:
	default:
		r.log.Warn("presence mirror queue full, dropping update")
	}
}
