package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var ErrNoTracks = errors.New("no media tracks requested")

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = time.Second / 30
)

var (
	// Opus TOC for a 20ms CELT frame followed by an empty payload.
	opusSilence = []byte{0xf8, 0xff, 0xfe}

	// VP8 keyframe header for a 16x16 frame. Enough for RTP packetization,
	// not decodable video.
	vp8KeyFrame = []byte{0x50, 0x01, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
)

// Source provides the local tracks attached to a call.
type Source interface {
	Tracks() []webrtc.TrackLocal
	Start(ctx context.Context)
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	AudioEnabled() bool
	VideoEnabled() bool
	Close() error
}

type Options struct {
	Audio bool
	Video bool
}

// Synthetic generates silent opus audio and placeholder VP8 video.
type Synthetic struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	audioOn atomic.Bool
	videoOn atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

var _ Source = (*Synthetic)(nil)

// NewSynthetic creates the requested tracks. At least one of audio or video
// must be requested.
func NewSynthetic(opts Options) (*Synthetic, error) {
	if !opts.Audio && !opts.Video {
		return nil, ErrNoTracks
	}

	streamID := "tandem-" + uuid.NewString()
	s := &Synthetic{}

	if opts.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID,
		)
		if err != nil {
			return nil, err
		}
		s.audio = track
		s.audioOn.Store(true)
	}

	if opts.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID,
		)
		if err != nil {
			return nil, err
		}
		s.video = track
		s.videoOn.Store(true)
	}

	return s, nil
}

func (s *Synthetic) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

// Start begins writing samples until ctx is done or Close is called. Calling
// it more than once has no effect.
func (s *Synthetic) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	if s.audio != nil {
		s.wg.Add(1)
		go s.pump(ctx, s.audio, &s.audioOn, opusSilence, audioFrame)
	}
	if s.video != nil {
		s.wg.Add(1)
		go s.pump(ctx, s.video, &s.videoOn, vp8KeyFrame, videoFrame)
	}
}

func (s *Synthetic) pump(ctx context.Context, track *webrtc.TrackLocalStaticSample, on *atomic.Bool, frame []byte, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !on.Load() {
				continue
			}
			if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: interval}); err != nil {
				slog.Debug("Stopping media pump", "track", track.ID(), "error", err)
				return
			}
		}
	}
}

func (s *Synthetic) SetAudioEnabled(enabled bool) {
	if s.audio != nil {
		s.audioOn.Store(enabled)
	}
}

func (s *Synthetic) SetVideoEnabled(enabled bool) {
	if s.video != nil {
		s.videoOn.Store(enabled)
	}
}

func (s *Synthetic) AudioEnabled() bool { return s.audioOn.Load() }
func (s *Synthetic) VideoEnabled() bool { return s.videoOn.Load() }

func (s *Synthetic) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}
