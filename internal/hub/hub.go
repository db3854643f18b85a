// Package hub fans committed events out to every live WebSocket connection.
// A single run loop owns the connection set, so each connection observes
// events in the order they were published.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"voxium/internal/events"
	"voxium/internal/presence"
	"voxium/internal/rbac"
)

var (
	connectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voxium_hub_connections",
		Help: "Live WebSocket connections registered with the hub.",
	})
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxium_hub_events_total",
		Help: "Events fanned out by the hub, by event type.",
	}, []string{"type"})
	droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxium_hub_dropped_connections_total",
		Help: "Connections dropped because their send queue was full.",
	})
)

func init() {
	prometheus.MustRegister(connectionsGauge, eventsTotal, droppedTotal)
}

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID   string
	Username string
	Role     string
}

// Inbound handles one client frame. It runs on the connection's read
// goroutine, so frames of one connection are handled in order.
type Inbound func(ctx context.Context, connID string, who Identity, frame []byte)

type Options struct {
	SendBuffer       int
	BroadcastBuffer  int
	FilterByRoomRole bool
	ReadLimit        int64
	RateLimit        rate.Limit
	RateBurst        int
	PingPeriod       time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:      256,
		BroadcastBuffer: 1024,
		ReadLimit:       16384,
		RateLimit:       5,
		RateBurst:       10,
		PingPeriod:      54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.BroadcastBuffer <= 0 {
		o.BroadcastBuffer = d.BroadcastBuffer
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.RateLimit <= 0 {
		o.RateLimit = d.RateLimit
	}
	if o.RateBurst <= 0 {
		o.RateBurst = d.RateBurst
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = d.PingPeriod
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	return o
}

type envelope struct {
	eventType    events.Type
	requiredRole string
	payload      []byte
}

type Hub struct {
	log      *slog.Logger
	registry *presence.Registry
	opts     Options
	inbound  Inbound

	// clients is written only by Run; mu lets other goroutines read its size.
	clients    map[string]*client
	mu         sync.RWMutex
	register   chan *client
	unregister chan string
	broadcast  chan envelope

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(log *slog.Logger, registry *presence.Registry, opts Options) *Hub {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:        log,
		registry:   registry,
		opts:       opts,
		clients:    make(map[string]*client),
		register:   make(chan *client),
		unregister: make(chan string),
		broadcast:  make(chan envelope, opts.BroadcastBuffer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// SetInbound installs the client frame handler. Call it before Run.
func (h *Hub) SetInbound(fn Inbound) {
	h.inbound = fn
}

// Register hands an upgraded connection to the hub and returns its id. The
// hub owns conn afterwards. It returns "" when the hub is shutting down.
func (h *Hub) Register(conn *websocket.Conn, who Identity) string {
	c := newClient(h, uuid.NewString(), conn, who)
	select {
	case h.register <- c:
		return c.id
	case <-h.ctx.Done():
		_ = conn.Close()
		return ""
	}
}

// Unregister removes a connection. Unknown ids are ignored.
func (h *Hub) Unregister(connID string) {
	select {
	case h.unregister <- connID:
	case <-h.ctx.Done():
	}
}

// Publish serializes ev once and queues it for every connection. Failures are
// logged, never returned: delivery is best effort.
func (h *Hub) Publish(ev events.Event) {
	payload, err := events.Encode(ev)
	if err != nil {
		h.log.Error("encode event", "type", ev.EventType(), "error", err)
		return
	}
	env := envelope{eventType: ev.EventType(), requiredRole: ev.RequiredRole(), payload: payload}
	select {
	case h.broadcast <- env:
	case <-h.ctx.Done():
		h.log.Debug("hub stopped, event discarded", "type", ev.EventType())
	}
}

// Online returns the distinct connected user ids.
func (h *Hub) Online() []string {
	return h.registry.Snapshot()
}

// SetStatus changes the presence status of the user behind connID.
func (h *Hub) SetStatus(connID string, status presence.Status) (presence.Entry, bool) {
	return h.registry.SetStatus(connID, status)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run is the hub's event loop. Call it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case c := <-h.register:
			h.add(c)

		case connID := <-h.unregister:
			h.remove(connID, "disconnected")

		case env := <-h.broadcast:
			h.fanOut(env)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	connectionsGauge.Set(float64(count))

	first := h.registry.Register(c.id, presence.Entry{
		UserID:   c.who.UserID,
		Username: c.who.Username,
		Role:     c.who.Role,
	})
	h.log.Info("client registered", "conn_id", c.id, "user_id", c.who.UserID, "clients", count)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()

	if first {
		h.fanOutEvent(events.NewJoin(c.who.UserID, c.who.Username, c.who.Role, string(presence.StatusOnline)))
	}
}

// remove must only run on the Run goroutine: it closes the client's queue.
func (h *Hub) remove(connID, reason string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	close(c.send)
	connectionsGauge.Set(float64(count))
	h.log.Info("client unregistered", "conn_id", connID, "user_id", c.who.UserID, "reason", reason, "clients", count)

	if _, last, _ := h.registry.Unregister(connID); last {
		h.fanOutEvent(events.NewLeave(c.who.UserID))
	}
}

func (h *Hub) fanOutEvent(ev events.Event) {
	payload, err := events.Encode(ev)
	if err != nil {
		h.log.Error("encode event", "type", ev.EventType(), "error", err)
		return
	}
	h.fanOut(envelope{eventType: ev.EventType(), requiredRole: ev.RequiredRole(), payload: payload})
}

func (h *Hub) fanOut(env envelope) {
	eventsTotal.WithLabelValues(string(env.eventType)).Inc()

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if h.opts.FilterByRoomRole && !rbac.CanAccess(c.who.Role, env.requiredRole) {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var slow []string
	for _, c := range targets {
		select {
		case c.send <- env.payload:
		default:
			slow = append(slow, c.id)
		}
	}
	for _, connID := range slow {
		droppedTotal.Inc()
		h.remove(connID, "send queue full")
	}
	h.log.Debug("event broadcast", "type", env.eventType, "targets", len(targets), "dropped", len(slow))
}

func (h *Hub) shutdownClients() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		h.registry.Unregister(c.id)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("close client connection", "conn_id", c.id, "error", err)
		}
	}
	connectionsGauge.Set(0)
	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown stops the run loop, closes every connection and waits for the
// connection goroutines, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("hub shutdown initiated")
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some connection goroutines still running")
		return context.DeadlineExceeded
	}
}
