package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/BioHazard786/Tandem/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP bodies fit comfortably.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

var errRateLimited = errors.New("too many messages, slow down")

// Client is one user's websocket connection.
type Client struct {
	UserID string

	hub     *Hub
	conn    *websocket.Conn
	send    chan *Message
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
	log     *slog.Logger

	mu           sync.Mutex
	subs         map[string]*Subscription
	searchCancel context.CancelFunc
	searchDone   chan struct{}
}

// NewClient wraps an upgraded connection for userID.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		UserID:  userID,
		hub:     hub,
		conn:    conn,
		send:    make(chan *Message, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(hub.limit, hub.burst),
		log:     hub.log.With("user", userID),
		subs:    make(map[string]*Subscription),
	}
}

// ReadPump reads frames and hands them to the hub. There is at most one
// reader per connection; on exit the client is torn down.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.disconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.hub.metrics.Inc(metrics.RateLimited)
			c.sendError(CodeRateLimited, errRateLimited)
			continue
		}

		c.hub.handle(c, &msg)
	}
}

// WritePump owns every write to the connection, including keepalive pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("write failed", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.ctx.Done():
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues msg without blocking. A client that cannot keep up is closed.
func (c *Client) Send(msg *Message) bool {
	if msg == nil || c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn("send buffer full, closing connection")
		c.Close()
		return false
	}
}

// Close ends the connection. The write pump sends a close frame, which
// unblocks the read pump.
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) remoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

func (c *Client) sendError(code string, err error) {
	c.Send(errorMessage(code, "", err))
}

// sendRoomError reports a failed room-scoped request so the client can route
// it to that room.
func (c *Client) sendRoomError(code, roomID string, err error) {
	c.Send(errorMessage(code, roomID, err))
}

// flush writes whatever is still queued before the close frame.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) beginSearch() (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.searchCancel != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.searchCancel = cancel
	c.searchDone = make(chan struct{})
	return ctx, true
}

func (c *Client) endSearch() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.searchCancel != nil {
		c.searchCancel()
		close(c.searchDone)
	}
	c.searchCancel = nil
	c.searchDone = nil
}

// cancelSearch stops an in-flight search and waits for it to settle. It
// reports whether a search was running.
func (c *Client) cancelSearch() bool {
	c.mu.Lock()
	cancel, done := c.searchCancel, c.searchDone
	c.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

// addSubscription starts forwarding sub's signals to the socket, replacing
// any earlier subscription for the same room.
func (c *Client) addSubscription(sub *Subscription) {
	c.mu.Lock()
	old := c.subs[sub.RoomID]
	c.subs[sub.RoomID] = sub
	c.mu.Unlock()

	if old != nil && old != sub {
		old.Close()
	}

	go func() {
		for {
			sig, err := sub.Receive(c.ctx)
			if err != nil {
				return
			}
			msg, err := NewMessage(MessageTypeSignal, sig.RoomID, sig)
			if err != nil {
				c.log.Error("encode signal", "error", err)
				continue
			}
			c.Send(msg)
		}
	}()
}

func (c *Client) unsubscribe(roomID string) {
	c.mu.Lock()
	sub := c.subs[roomID]
	delete(c.subs, roomID)
	c.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// forgetRoom drops the bookkeeping for a room the relay already closed.
func (c *Client) forgetRoom(roomID string) {
	c.mu.Lock()
	delete(c.subs, roomID)
	c.mu.Unlock()
}

func (c *Client) closeSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
