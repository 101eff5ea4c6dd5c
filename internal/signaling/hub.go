package signaling

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/metrics"
	"github.com/BioHazard786/Tandem/internal/presence"
)

var (
	ErrAlreadyConnected = errors.New("user already connected")
	ErrHubStopped       = errors.New("hub stopped")
)

const (
	DefaultRoomHistoryTTL  = 10 * time.Minute
	DefaultJanitorInterval = 30 * time.Second
	DefaultSignalRate      = 50
	DefaultSignalBurst     = 100

	// deliveryTimeout caps how long one signal may hold up its sender's stream.
	deliveryTimeout = 10 * time.Second
)

// HubOptions wires a Hub to its collaborators.
type HubOptions struct {
	Matchmaker *matchmaking.Matchmaker
	Relay      *Relay
	Presence   presence.Store
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	RoomHistoryTTL  time.Duration
	JanitorInterval time.Duration

	// SignalRate and SignalBurst bound inbound messages per connection.
	SignalRate  rate.Limit
	SignalBurst int
}

// Stats is served on /stats.
type Stats struct {
	Online int `json:"online"`
	matchmaking.Stats
}

// Hub is the server's connection registry.
//
// The client map is owned by the Run goroutine; connections register and
// unregister through channels, and room-ended notifications are fanned out
// from the same loop. Request handling runs on each connection's own read
// goroutine.
type Hub struct {
	matchmaker *matchmaking.Matchmaker
	relay      *Relay
	presence   presence.Store
	metrics    *metrics.Metrics
	log        *slog.Logger

	clients    map[string]*Client
	register   chan registration
	unregister chan *Client
	roomEnded  chan matchmaking.Room
	quit       chan struct{}

	historyTTL   time.Duration
	janitorEvery time.Duration
	limit        rate.Limit
	burst        int
}

type registration struct {
	client *Client
	result chan error
}

func NewHub(opts HubOptions) *Hub {
	h := &Hub{
		matchmaker:   opts.Matchmaker,
		relay:        opts.Relay,
		presence:     opts.Presence,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		clients:      make(map[string]*Client),
		register:     make(chan registration),
		unregister:   make(chan *Client),
		roomEnded:    make(chan matchmaking.Room, 256),
		quit:         make(chan struct{}),
		historyTTL:   opts.RoomHistoryTTL,
		janitorEvery: opts.JanitorInterval,
		limit:        opts.SignalRate,
		burst:        opts.SignalBurst,
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.presence == nil {
		h.presence = presence.NewMemory()
	}
	if h.historyTTL <= 0 {
		h.historyTTL = DefaultRoomHistoryTTL
	}
	if h.janitorEvery <= 0 {
		h.janitorEvery = DefaultJanitorInterval
	}
	if h.limit <= 0 {
		h.limit = DefaultSignalRate
	}
	if h.burst <= 0 {
		h.burst = DefaultSignalBurst
	}

	h.matchmaker.OnRoomEnded(func(room matchmaking.Room) {
		h.relay.CloseRoom(room.ID)
		select {
		case h.roomEnded <- room:
		case <-h.quit:
		}
	})
	return h
}

// Run is the hub's main loop. It returns when ctx ends, closing every
// connection on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.quit)

	janitor := time.NewTicker(h.janitorEvery)
	defer janitor.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				c.Close()
			}
			h.log.Info("hub stopped", "clients", len(h.clients))
			return

		case reg := <-h.register:
			c := reg.client
			if _, ok := h.clients[c.UserID]; ok {
				h.metrics.Inc(metrics.ConnectionRejected)
				reg.result <- ErrAlreadyConnected
				continue
			}
			h.clients[c.UserID] = c
			h.presence.SetOnline(c.UserID, true)
			h.metrics.Inc(metrics.ConnectionOpened)
			h.log.Info("client registered", "user", c.UserID, "remote", c.remoteAddr())
			reg.result <- nil

		case c := <-h.unregister:
			if h.clients[c.UserID] == c {
				delete(h.clients, c.UserID)
				h.presence.SetOnline(c.UserID, false)
			}
			h.metrics.Inc(metrics.ConnectionClosed)
			h.log.Info("client unregistered", "user", c.UserID)

		case room := <-h.roomEnded:
			msg, err := NewMessage(MessageTypeRoomEnded, room.ID, RoomEndedPayload{Room: room})
			if err != nil {
				h.log.Error("encode room_ended", "room", room.ID, "error", err)
				continue
			}
			for _, peer := range []string{room.PeerA, room.PeerB} {
				if c, ok := h.clients[peer]; ok {
					c.forgetRoom(room.ID)
					c.Send(msg)
				}
			}

		case <-janitor.C:
			pruned := h.matchmaker.PruneEnded(h.historyTTL)
			evicted := h.matchmaker.EvictOffline()
			if pruned > 0 || evicted > 0 {
				h.log.Debug("janitor pass", "pruned_rooms", pruned, "evicted_waiters", evicted)
			}
		}
	}
}

// Connect registers c. It fails when the user already has a live connection.
func (h *Hub) Connect(c *Client) error {
	reg := registration{client: c, result: make(chan error, 1)}
	select {
	case h.register <- reg:
	case <-h.quit:
		return ErrHubStopped
	}
	return <-reg.result
}

// Stats reports presence and matchmaking counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Online: h.presence.Count(),
		Stats:  h.matchmaker.Stats(),
	}
}

// disconnect releases everything c holds: its search, its subscriptions and
// its active room. It runs on c's read goroutine.
func (h *Hub) disconnect(c *Client) {
	c.cancelSearch()
	h.matchmaker.Withdraw(c.UserID)
	c.closeSubscriptions()

	if room, ok := h.matchmaker.ActiveRoom(c.UserID); ok {
		if _, err := h.matchmaker.EndRoom(room.ID, c.UserID); err != nil {
			h.log.Warn("end room on disconnect", "room", room.ID, "user", c.UserID, "error", err)
		}
	}

	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// handle dispatches one inbound message.
func (h *Hub) handle(c *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeFindMatch:
		h.handleFindMatch(c)

	case MessageTypeWithdraw:
		h.handleWithdraw(c)

	case MessageTypeSubscribe:
		h.handleSubscribe(c, msg.RoomID)

	case MessageTypeUnsubscribe:
		c.unsubscribe(msg.RoomID)

	case MessageTypeSignal:
		h.handleSignal(c, msg)

	case MessageTypeEndRoom:
		if _, err := h.matchmaker.EndRoom(msg.RoomID, c.UserID); err != nil {
			c.sendRoomError(errorCode(err), msg.RoomID, err)
		}

	case MessageTypeOnlineCount:
		reply, _ := NewMessage(MessageTypeOnlineCount, "", OnlineCountPayload{Count: h.presence.Count()})
		c.Send(reply)

	default:
		h.log.Debug("unknown message type", "user", c.UserID, "type", msg.Type)
		c.sendError(CodeBadRequest, errors.New("unknown message type "+msg.Type))
	}
}

func (h *Hub) handleFindMatch(c *Client) {
	ctx, ok := c.beginSearch()
	if !ok {
		c.sendError(CodeAlreadyWaiting, errors.New("search already in progress"))
		return
	}

	go func() {
		defer c.endSearch()

		room, matched, err := h.matchmaker.FindMatch(c.UserID)
		if err != nil {
			c.sendError(errorCode(err), err)
			return
		}
		if !matched {
			pending, _ := NewMessage(MessageTypePending, "", nil)
			c.Send(pending)

			room, err = h.matchmaker.AwaitMatch(ctx, c.UserID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, matchmaking.ErrNotWaiting) {
					withdrawn, _ := NewMessage(MessageTypeWithdrawn, "", nil)
					c.Send(withdrawn)
					return
				}
				c.sendError(errorCode(err), err)
				return
			}
		}

		reply, err := NewMessage(MessageTypeMatched, room.ID, MatchedPayload{Room: room})
		if err != nil {
			c.sendError(CodeInternal, err)
			return
		}
		c.Send(reply)
	}()
}

func (h *Hub) handleWithdraw(c *Client) {
	if c.cancelSearch() {
		// The search goroutine reports the outcome.
		return
	}
	h.matchmaker.Withdraw(c.UserID)
	withdrawn, _ := NewMessage(MessageTypeWithdrawn, "", nil)
	c.Send(withdrawn)
}

func (h *Hub) handleSubscribe(c *Client, roomID string) {
	sub, err := h.relay.Subscribe(roomID, c.UserID)
	if err != nil {
		c.sendRoomError(errorCode(err), roomID, err)
		return
	}
	c.addSubscription(sub)

	reply, _ := NewMessage(MessageTypeSubscribed, roomID, nil)
	c.Send(reply)
}

func (h *Hub) handleSignal(c *Client, msg *Message) {
	var sig Signal
	if err := msg.Decode(&sig); err != nil {
		c.sendRoomError(CodeBadRequest, msg.RoomID, err)
		return
	}
	if sig.RoomID == "" {
		sig.RoomID = msg.RoomID
	}
	sig.SenderID = c.UserID

	// Send blocks this connection's read loop so later messages from the
	// same user stay behind the signal in order.
	ctx, cancel := context.WithTimeout(c.ctx, deliveryTimeout)
	defer cancel()

	err := h.relay.Send(ctx, sig)
	if err == nil {
		return
	}
	if errors.Is(err, ErrDeliveryFailed) && !sig.LoadBearing() {
		h.log.Debug("candidate dropped", "room", sig.RoomID, "user", c.UserID)
		return
	}

	h.log.Warn("signal not relayed", "room", sig.RoomID, "user", c.UserID, "kind", sig.Kind, "error", err)
	reply, _ := NewMessage(MessageTypeError, sig.RoomID, ErrorPayload{
		Code:  errorCode(err),
		Error: err.Error(),
		Kind:  sig.Kind,
	})
	c.Send(reply)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, matchmaking.ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, matchmaking.ErrRoomInactive):
		return CodeRoomInactive
	case errors.Is(err, matchmaking.ErrNotRoomMember):
		return CodeNotRoomMember
	case errors.Is(err, matchmaking.ErrUserOffline):
		return CodeUserOffline
	case errors.Is(err, ErrDeliveryFailed):
		return CodeDeliveryFailed
	case errors.Is(err, ErrInvalidSignal), errors.Is(err, matchmaking.ErrInvalidUser):
		return CodeBadRequest
	}
	return CodeInternal
}
