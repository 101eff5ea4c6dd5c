package call

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const ChatLabel = "chat"

const (
	ChatTypeText = "text"
	ChatTypeBye  = "bye"
)

const (
	chatBuffer     = 64
	maxChatMessage = 4096
)

// ChatMessage travels peer to peer on the chat data channel.
type ChatMessage struct {
	Type   string    `msgpack:"type"`
	Body   string    `msgpack:"body,omitempty"`
	SentAt time.Time `msgpack:"sent_at"`
}

func EncodeChat(m ChatMessage) ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, NewError("marshal chat message", err)
	}
	return data, nil
}

func DecodeChat(data []byte) (ChatMessage, error) {
	var m ChatMessage
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return ChatMessage{}, NewError("unmarshal chat message", err)
	}
	return m, nil
}

type dataChannel interface {
	Send(data []byte) error
	ReadyState() webrtc.DataChannelState
}

// Chat is the text side of a call.
type Chat struct {
	mu    sync.Mutex
	dc    dataChannel
	onBye func()

	incoming chan ChatMessage
	now      func() time.Time
}

func newChat(onBye func()) *Chat {
	return &Chat{
		onBye:    onBye,
		incoming: make(chan ChatMessage, chatBuffer),
		now:      time.Now,
	}
}

// Messages delivers text messages from the remote peer.
func (c *Chat) Messages() <-chan ChatMessage {
	return c.incoming
}

func (c *Chat) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		slog.Debug("Chat channel open", "label", dc.Label())
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.receive(msg.Data)
	})
}

func (c *Chat) receive(data []byte) {
	m, err := DecodeChat(data)
	if err != nil {
		slog.Warn("Ignoring malformed chat message", "error", err)
		return
	}

	switch m.Type {
	case ChatTypeBye:
		if c.onBye != nil {
			c.onBye()
		}
	case ChatTypeText:
		select {
		case c.incoming <- m:
		default:
			slog.Warn("Chat buffer full, dropping message")
		}
	default:
		slog.Debug("Ignoring unknown chat message", "type", m.Type)
	}
}

// Send sends a text message. Empty messages are ignored.
func (c *Chat) Send(body string) (ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return ChatMessage{}, nil
	}
	if len(body) > maxChatMessage {
		body = body[:maxChatMessage]
	}
	m := ChatMessage{Type: ChatTypeText, Body: body, SentAt: c.now()}
	return m, c.send(m)
}

func (c *Chat) sendBye() error {
	return c.send(ChatMessage{Type: ChatTypeBye, SentAt: c.now()})
}

func (c *Chat) send(m ChatMessage) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChatNotOpen
	}
	data, err := EncodeChat(m)
	if err != nil {
		return err
	}
	if err := dc.Send(data); err != nil {
		return NewError("send chat message", err)
	}
	return nil
}
