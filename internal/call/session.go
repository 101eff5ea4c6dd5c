package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/media"
	"github.com/BioHazard786/Tandem/internal/signaling"
)

var (
	ErrConnectionLost = errors.New("connection lost")
	errAlreadyStarted = errors.New("session already started")
)

const (
	DefaultSettleDelay        = 2 * time.Second
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultReconnectTimeout   = 15 * time.Second

	signalTimeout   = 10 * time.Second
	teardownTimeout = 5 * time.Second
	rtpBufferSize   = 1500
)

// Transport carries one room's signaling for the local peer.
type Transport interface {
	// Subscribe must complete before anything is sent.
	Subscribe(ctx context.Context) error
	Send(ctx context.Context, sig signaling.Signal) error
	// Receive returns ErrRoomEnded once the room is no longer active, and
	// an error wrapping signaling.ErrDeliveryFailed if one of our offers or
	// answers could not be delivered.
	Receive(ctx context.Context) (signaling.Signal, error)
	EndRoom(ctx context.Context) error
}

type SessionOptions struct {
	Room      matchmaking.Room
	Self      string
	Transport Transport

	API    *webrtc.API
	WebRTC webrtc.Configuration

	// Media acquires local tracks. It runs before any signaling.
	Media func() (media.Source, error)

	SettleDelay        time.Duration
	NegotiationTimeout time.Duration
	ReconnectTimeout   time.Duration

	Logger *slog.Logger
}

// Session is one local peer's side of a call.
type Session struct {
	opts      SessionOptions
	initiator bool
	machine   *Machine
	chat      *Chat
	log       *slog.Logger

	started     atomic.Bool
	remoteMedia atomic.Bool
	endOnce     sync.Once

	mu        sync.Mutex
	pc        *webrtc.PeerConnection
	neg       *Negotiator
	media     media.Source
	reconnect *time.Timer
}

func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("call: transport is required")
	}
	if !opts.Room.Has(opts.Self) {
		return nil, fmt.Errorf("call: %w", matchmaking.ErrNotRoomMember)
	}
	if opts.Media == nil {
		opts.Media = func() (media.Source, error) {
			return media.NewSynthetic(media.Options{Audio: true, Video: true})
		}
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if opts.ReconnectTimeout <= 0 {
		opts.ReconnectTimeout = DefaultReconnectTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		opts:      opts,
		initiator: opts.Room.IsInitiator(opts.Self),
		machine:   NewMachine(),
		log:       log.With("room_id", opts.Room.ID, "user_id", opts.Self),
	}
	s.chat = newChat(func() {
		s.log.Info("Peer said goodbye")
		s.machine.Fire(EventRoomEnded)
	})
	return s, nil
}

func (s *Session) Machine() *Machine { return s.machine }
func (s *Session) Chat() *Chat       { return s.chat }
func (s *Session) Initiator() bool   { return s.initiator }
func (s *Session) RemoteMedia() bool { return s.remoteMedia.Load() }

func (s *Session) SetAudioEnabled(enabled bool) {
	if src := s.source(); src != nil {
		src.SetAudioEnabled(enabled)
	}
}

func (s *Session) SetVideoEnabled(enabled bool) {
	if src := s.source(); src != nil {
		src.SetVideoEnabled(enabled)
	}
}

func (s *Session) AudioEnabled() bool {
	src := s.source()
	return src != nil && src.AudioEnabled()
}

func (s *Session) VideoEnabled() bool {
	src := s.source()
	return src != nil && src.VideoEnabled()
}

func (s *Session) source() media.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// Run drives the call until it ends. It returns nil when either peer hangs
// up or the room ends, and the failure otherwise. Cancelling ctx hangs up.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.cleanup()

	src, err := s.opts.Media()
	if err != nil {
		return s.abort(&Error{Op: "acquire media", Err: fmt.Errorf("%w: %w", ErrMediaAcquisitionFailed, err)})
	}
	s.mu.Lock()
	s.media = src
	s.mu.Unlock()

	if err := s.setup(ctx, src); err != nil {
		return s.abort(err)
	}

	if err := s.opts.Transport.Subscribe(ctx); err != nil {
		if errors.Is(err, ErrRoomEnded) {
			s.machine.Fire(EventRoomEnded)
			return nil
		}
		return s.abort(NewError("subscribe", err))
	}
	s.log.Debug("Subscribed to room", "initiator", s.initiator)

	src.Start(ctx)
	go s.receiveLoop(ctx)
	if s.initiator {
		go s.sendOffer(ctx)
	}

	timeout := time.NewTimer(s.opts.NegotiationTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-s.machine.Done():
			return s.machine.Err()
		case <-ctx.Done():
			s.Hangup()
			return s.machine.Err()
		case <-timeout.C:
			if s.machine.State() == StateConnecting {
				s.fail(WrapError("negotiate", ErrNegotiationFailed, "timed out waiting for connection"))
			}
		}
	}
}

// Hangup ends the call locally and tears the room down for both peers.
func (s *Session) Hangup() {
	if s.machine.State() == StateEnded {
		return
	}
	if err := s.chat.sendBye(); err != nil {
		s.log.Debug("Could not send goodbye", "error", err)
	}
	if _, err := s.machine.Fire(EventHangup); err != nil {
		return
	}
	s.log.Info("Call ended locally", "duration", s.machine.Duration().Round(time.Second))
	s.endRoom()
}

func (s *Session) setup(ctx context.Context, src media.Source) error {
	pc, err := newPeerConnection(s.opts.API, s.opts.WebRTC)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.pc = pc
	s.neg = NewNegotiator(pc, s.log)
	s.mu.Unlock()

	for _, track := range src.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			return &Error{Op: "add track", Err: fmt.Errorf("%w: %w", ErrMediaAcquisitionFailed, err), Details: track.Kind().String()}
		}
	}

	if s.initiator {
		dc, err := createChatChannel(pc)
		if err != nil {
			return err
		}
		s.chat.attach(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == ChatLabel {
				s.chat.attach(dc)
			}
		})
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, signalTimeout)
		defer cancel()
		if err := s.opts.Transport.Send(sendCtx, signaling.FromCandidate(s.opts.Room.ID, s.opts.Self, c.ToJSON())); err != nil {
			s.log.Debug("ICE candidate not delivered", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("Peer connection state changed", "state", state.String())
		s.onConnectionState(state)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.log.Debug("Remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		go s.drain(track)
	})

	return nil
}

func (s *Session) onConnectionState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.stopReconnect()
		if _, err := s.machine.Fire(EventConnected); err == nil {
			s.log.Info("Call connected")
		}
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		switch s.machine.State() {
		case StateConnecting:
			if state == webrtc.PeerConnectionStateFailed {
				s.fail(WrapError("connect", ErrNegotiationFailed, "peer connection failed"))
			}
		case StateConnected:
			s.machine.Fire(EventDisconnected)
			s.log.Warn("Call disconnected, waiting for reconnection")
			s.startReconnect()
		}
	}
}

func (s *Session) startReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnect != nil {
		return
	}
	s.reconnect = time.AfterFunc(s.opts.ReconnectTimeout, func() {
		if s.machine.State() == StateDisconnected {
			s.fail(NewError("reconnect", ErrConnectionLost))
		}
	})
}

func (s *Session) stopReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

// drain reads remote RTP so the receive buffers never fill. The first packet
// counts as connected if the connection state has not caught up yet.
func (s *Session) drain(track *webrtc.TrackRemote) {
	buf := make([]byte, rtpBufferSize)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
		if s.remoteMedia.CompareAndSwap(false, true) && s.machine.State() == StateConnecting {
			s.machine.Fire(EventConnected)
		}
	}
}

func (s *Session) sendOffer(ctx context.Context) {
	settle := time.NewTimer(s.opts.SettleDelay)
	defer settle.Stop()
	select {
	case <-ctx.Done():
		return
	case <-s.machine.Done():
		return
	case <-settle.C:
	}

	offer, err := s.neg.CreateOffer()
	if err != nil {
		s.fail(err)
		return
	}
	s.send(ctx, offer)
}

func (s *Session) send(ctx context.Context, desc webrtc.SessionDescription) {
	sig, err := signaling.FromDescription(s.opts.Room.ID, s.opts.Self, desc)
	if err != nil {
		s.fail(negotiationError("encode "+desc.Type.String(), err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()
	if err := s.opts.Transport.Send(sendCtx, sig); err != nil {
		if ctx.Err() == nil {
			s.fail(negotiationError("send "+desc.Type.String(), err))
		}
		return
	}
	s.log.Debug("Sent session description", "type", desc.Type.String())
}

func (s *Session) receiveLoop(ctx context.Context) {
	for {
		sig, err := s.opts.Transport.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrRoomEnded):
				if _, err := s.machine.Fire(EventRoomEnded); err == nil {
					s.log.Info("Room ended by peer")
				}
			case ctx.Err() != nil:
			default:
				s.fail(negotiationError("receive signal", err))
			}
			return
		}
		s.handleSignal(ctx, sig)
	}
}

func (s *Session) handleSignal(ctx context.Context, sig signaling.Signal) {
	if sig.SenderID == s.opts.Self {
		return
	}

	switch sig.Kind {
	case signaling.KindOffer:
		if s.initiator || s.neg.RemoteDescriptionSet() {
			s.log.Warn("Ignoring unexpected offer", "initiator", s.initiator)
			return
		}
		desc, err := sig.SessionDescription()
		if err != nil {
			s.fail(negotiationError("read offer", err))
			return
		}
		answer, err := s.neg.AcceptOffer(desc)
		if err != nil {
			s.fail(err)
			return
		}
		s.send(ctx, answer)

	case signaling.KindAnswer:
		if !s.initiator || s.neg.RemoteDescriptionSet() {
			s.log.Warn("Ignoring unexpected answer", "initiator", s.initiator)
			return
		}
		desc, err := sig.SessionDescription()
		if err != nil {
			s.fail(negotiationError("read answer", err))
			return
		}
		if err := s.neg.AcceptAnswer(desc); err != nil {
			s.fail(err)
		}

	case signaling.KindICECandidate:
		if sig.Candidate == nil {
			return
		}
		if err := s.neg.AddCandidate(*sig.Candidate); err != nil {
			s.log.Debug("Rejected remote ICE candidate", "error", err)
		}
	}
}

// fail ends the call with err and tears the room down. Only the first
// terminal event wins.
func (s *Session) fail(err error) {
	if _, ferr := s.machine.Fail(err); ferr != nil {
		return
	}
	s.log.Error("Call failed", "error", err)
	s.endRoom()
}

func (s *Session) abort(err error) error {
	s.fail(err)
	return err
}

func (s *Session) endRoom() {
	s.endOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if err := s.opts.Transport.EndRoom(ctx); err != nil && !errors.Is(err, ErrRoomEnded) {
			s.log.Warn("Failed to end room", "error", err)
		}
	})
}

func (s *Session) cleanup() {
	s.stopReconnect()

	s.mu.Lock()
	pc, src := s.pc, s.media
	s.mu.Unlock()

	if src != nil {
		if err := src.Close(); err != nil {
			s.log.Debug("Closing media", "error", err)
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.log.Debug("Closing peer connection", "error", err)
		}
	}
}
