package hub

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type client struct {
	hub     *Hub
	id      string
	conn    *websocket.Conn
	who     Identity
	send    chan []byte
	limiter *rate.Limiter
}

func newClient(h *Hub, id string, conn *websocket.Conn, who Identity) *client {
	conn.SetReadLimit(h.opts.ReadLimit)
	return &client{
		hub:     h,
		id:      id,
		conn:    conn,
		who:     who,
		send:    make(chan []byte, h.opts.SendBuffer),
		limiter: rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst),
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.Unregister(c.id)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.hub.log.Warn("close connection in read pump", "conn_id", c.id, "error", err)
		}
	}()

	pongWait := c.hub.opts.PongWait
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.log.Warn("set read deadline", "conn_id", c.id, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if !c.limiter.Allow() {
			c.hub.log.Debug("rate limit exceeded, frame discarded", "conn_id", c.id, "user_id", c.who.UserID)
			continue
		}
		if c.hub.inbound != nil {
			c.hub.inbound(c.hub.ctx, c.id, c.who, frame)
		}
	}
}

func (c *client) logReadError(err error) {
	log := c.hub.log.With("conn_id", c.id, "user_id", c.who.UserID)
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn("frame exceeded read limit", "limit", c.hub.opts.ReadLimit)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Debug("client disconnected", "reason", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		log.Debug("client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		log.Warn("unexpected websocket close", "error", err)
	default:
		log.Debug("websocket read ended", "error", err)
	}
}

// writePump drains the send queue, one text message per event.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.hub.log.Warn("close connection in write pump", "conn_id", c.id, "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !c.write(payload, ok) {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.log.Debug("ping failed", "conn_id", c.id, "error", err)
				return
			}
		}
	}
}

func (c *client) write(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait)); err != nil {
		return false
	}
	if !ok {
		_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.hub.log.Debug("write event", "conn_id", c.id, "error", err)
		return false
	}
	return true
}

func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
