package signalclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/resolve"
	"github.com/BioHazard786/Tandem/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	handshakeTimeout = 10 * time.Second
	withdrawTimeout  = 5 * time.Second

	outgoingBuffer = 64
	eventBuffer    = 16
)

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	UserID string

	conn     *websocket.Conn
	outgoing chan *signaling.Message
	done     chan struct{}
	once     sync.Once
	log      *slog.Logger

	// events carries search replies and errors that are not tied to a room.
	events chan *signaling.Message
	counts chan int

	readDone chan struct{}
	readErr  error

	mu    sync.Mutex
	rooms map[string]*RoomTransport
	ended map[string]matchmaking.Room
}

// Dial connects to wsURL as userID. wsURL must already carry the user_id
// query parameter.
func Dial(ctx context.Context, wsURL, userID string) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		NetDialContext:   resolve.New().DialContext,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		UserID:   userID,
		conn:     conn,
		outgoing: make(chan *signaling.Message, outgoingBuffer),
		done:     make(chan struct{}),
		log:      slog.Default().With("user_id", userID),
		events:   make(chan *signaling.Message, eventBuffer),
		counts:   make(chan int, 1),
		readDone: make(chan struct{}),
		rooms:    make(map[string]*RoomTransport),
		ended:    make(map[string]matchmaking.Room),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// readPump reads messages from the WebSocket connection and routes them.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.readDone)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.readErr = err
			return
		}
		c.route(&msg)
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.readDone:
			return

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) route(msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypePending, signaling.MessageTypeMatched, signaling.MessageTypeWithdrawn:
		c.event(msg)

	case signaling.MessageTypeOnlineCount:
		var payload signaling.OnlineCountPayload
		if err := msg.Decode(&payload); err != nil {
			c.log.Warn("Bad online count", "error", err)
			return
		}
		select {
		case c.counts <- payload.Count:
		default:
		}

	case signaling.MessageTypeRoomEnded:
		var payload signaling.RoomEndedPayload
		if err := msg.Decode(&payload); err != nil {
			c.log.Warn("Bad room_ended payload", "error", err)
			return
		}
		c.mu.Lock()
		c.ended[payload.Room.ID] = payload.Room
		rt := c.rooms[payload.Room.ID]
		c.mu.Unlock()
		if rt != nil {
			rt.markEnded(payload.Room)
		}

	case signaling.MessageTypeSignal, signaling.MessageTypeSubscribed, signaling.MessageTypeError:
		if msg.RoomID == "" {
			c.event(msg)
			return
		}
		c.mu.Lock()
		rt := c.rooms[msg.RoomID]
		c.mu.Unlock()
		if rt == nil {
			c.log.Debug("Message for unknown room", "type", msg.Type, "room_id", msg.RoomID)
			return
		}
		rt.deliver(msg)

	default:
		c.log.Debug("Ignoring message", "type", msg.Type)
	}
}

func (c *Client) event(msg *signaling.Message) {
	select {
	case c.events <- msg:
	default:
		c.log.Warn("Dropping search event", "type", msg.Type)
	}
}

// Send queues msg for the write pump.
func (c *Client) Send(msg *signaling.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.readDone:
		return c.closedErr()
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.readDone:
		return c.closedErr()
	}
}

func (c *Client) send(msgType, roomID string, payload any) error {
	msg, err := signaling.NewMessage(msgType, roomID, payload)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Done is closed when the connection to the server is gone.
func (c *Client) Done() <-chan struct{} {
	return c.readDone
}

func (c *Client) closedErr() error {
	<-c.readDone
	if c.readErr != nil && !websocket.IsCloseError(c.readErr, websocket.CloseNormalClosure) {
		return fmt.Errorf("%w: %w", ErrClosed, c.readErr)
	}
	return ErrClosed
}

// FindMatch searches until matched. onPending, if set, runs once the server
// has queued the search. Cancelling ctx withdraws; if a match races the
// withdrawal the room is returned anyway.
func (c *Client) FindMatch(ctx context.Context, onPending func()) (matchmaking.Room, error) {
	if err := c.send(signaling.MessageTypeFindMatch, "", nil); err != nil {
		return matchmaking.Room{}, err
	}

	for {
		select {
		case msg := <-c.events:
			room, done, err := c.searchEvent(msg, onPending)
			if done {
				return room, err
			}

		case <-ctx.Done():
			return c.withdraw(ctx.Err())

		case <-c.readDone:
			return matchmaking.Room{}, c.closedErr()
		}
	}
}

func (c *Client) searchEvent(msg *signaling.Message, onPending func()) (matchmaking.Room, bool, error) {
	switch msg.Type {
	case signaling.MessageTypePending:
		c.log.Debug("Waiting for a match")
		if onPending != nil {
			onPending()
		}
		return matchmaking.Room{}, false, nil

	case signaling.MessageTypeMatched:
		var payload signaling.MatchedPayload
		if err := msg.Decode(&payload); err != nil {
			return matchmaking.Room{}, true, err
		}
		c.log.Debug("Matched", "room_id", payload.Room.ID)
		return payload.Room, true, nil

	case signaling.MessageTypeWithdrawn:
		return matchmaking.Room{}, true, ErrWithdrawn

	case signaling.MessageTypeError:
		return matchmaking.Room{}, true, newServerError(msg)
	}
	return matchmaking.Room{}, false, nil
}

func (c *Client) withdraw(cause error) (matchmaking.Room, error) {
	if err := c.send(signaling.MessageTypeWithdraw, "", nil); err != nil {
		return matchmaking.Room{}, cause
	}

	timer := time.NewTimer(withdrawTimeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-c.events:
			room, done, err := c.searchEvent(msg, nil)
			if !done {
				continue
			}
			if err == nil {
				c.log.Info("Match arrived while withdrawing", "room_id", room.ID)
				return room, nil
			}
			return matchmaking.Room{}, cause
		case <-timer.C:
			return matchmaking.Room{}, cause
		case <-c.readDone:
			return matchmaking.Room{}, cause
		}
	}
}

// OnlineCount asks the server how many users are connected.
func (c *Client) OnlineCount(ctx context.Context) (int, error) {
	if err := c.send(signaling.MessageTypeOnlineCount, "", nil); err != nil {
		return 0, err
	}
	select {
	case n := <-c.counts:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.readDone:
		return 0, c.closedErr()
	}
}

// Room returns the signaling transport for room.
func (c *Client) Room(room matchmaking.Room) *RoomTransport {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rt, ok := c.rooms[room.ID]; ok {
		return rt
	}
	rt := newRoomTransport(c, room)
	if final, ok := c.ended[room.ID]; ok {
		rt.markEnded(final)
	}
	c.rooms[room.ID] = rt
	return rt
}

func (c *Client) forget(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}
