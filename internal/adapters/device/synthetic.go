// Package device provides a synthetic capture device: tracks carry generated RTP instead of captured media.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	mtu           = 1200
	audioInterval = 20 * time.Millisecond
	videoInterval = 33 * time.Millisecond
)

// opus frame of silence
var silence = []byte{0xf8, 0xff, 0xfe}

type Option func(*Synthetic)

// WithInventory replaces the default device list.
func WithInventory(devs ...media.DeviceInfo) Option {
	return func(s *Synthetic) { s.inventory = devs }
}

// WithDenied makes every capture request fail as if the user refused access.
func WithDenied() Option {
	return func(s *Synthetic) { s.denied = true }
}

// Synthetic implements media.Device. Each track gets a generator goroutine writing packets until the track ends.
type Synthetic struct {
	inventory []media.DeviceInfo
	denied    bool
	stream    string
	logger    zerolog.Logger

	mu     sync.Mutex
	screen *media.Track
}

var _ media.Device = (*Synthetic)(nil)

func NewSynthetic(opts ...Option) *Synthetic {
	s := &Synthetic{
		inventory: []media.DeviceInfo{
			{Kind: media.AudioInput, DeviceID: "synthetic-mic", Label: "Synthetic microphone"},
			{Kind: media.VideoInput, DeviceID: "synthetic-cam", Label: "Synthetic camera"},
		},
		stream: uuid.NewString(),
		logger: log.With().Str("module", "adapters.device").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Synthetic) EnumerateDevices(context.Context) ([]media.DeviceInfo, error) {
	return append([]media.DeviceInfo(nil), s.inventory...), nil
}

func (s *Synthetic) GetUserMedia(ctx context.Context, c media.Constraints) (media.Stream, error) {
	if s.denied {
		return media.Stream{}, domain.ErrPermissionDenied
	}
	var out media.Stream
	if c.Audio {
		dev, err := s.pick(media.AudioInput, c.AudioDeviceID)
		if err != nil {
			return media.Stream{}, err
		}
		if out.Audio, err = s.open(ctx, webrtc.RTPCodecTypeAudio, media.SourceMicrophone, dev.DeviceID); err != nil {
			return media.Stream{}, err
		}
	}
	if c.Video {
		dev, err := s.pick(media.VideoInput, c.VideoDeviceID)
		if err == nil {
			out.Video, err = s.open(ctx, webrtc.RTPCodecTypeVideo, media.SourceCamera, dev.DeviceID)
		}
		if err != nil {
			if out.Audio != nil {
				out.Audio.Stop()
			}
			return media.Stream{}, err
		}
	}
	return out, nil
}

func (s *Synthetic) GetDisplayMedia(ctx context.Context) (*media.Track, error) {
	if s.denied {
		return nil, domain.ErrPermissionDenied
	}
	t, err := s.open(ctx, webrtc.RTPCodecTypeVideo, media.SourceScreen, "screen")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.screen = t
	s.mu.Unlock()
	return t, nil
}

// EndDisplay simulates the user stopping the share from outside the application.
func (s *Synthetic) EndDisplay() {
	s.mu.Lock()
	t := s.screen
	s.screen = nil
	s.mu.Unlock()
	if t != nil {
		t.End()
	}
}

func (s *Synthetic) pick(kind media.DeviceKind, id string) (media.DeviceInfo, error) {
	for _, d := range s.inventory {
		if d.Kind == kind && (id == "" || d.DeviceID == id) {
			return d, nil
		}
	}
	if id == "" {
		return media.DeviceInfo{}, fmt.Errorf("%w: no %s", domain.ErrDeviceUnavailable, kind)
	}
	return media.DeviceInfo{}, fmt.Errorf("%w: %s %q", domain.ErrDeviceUnavailable, kind, id)
}

func (s *Synthetic) open(ctx context.Context, kind webrtc.RTPCodecType, src media.Source, deviceID string) (*media.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := media.NewTrack(kind, uuid.NewString(), s.stream, src, deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}
	go s.generate(t)
	return t, nil
}

// generate packetizes a fixed payload at the media rate until the track ends.
func (s *Synthetic) generate(t *media.Track) {
	var (
		payloader rtp.Payloader
		interval  time.Duration
		samples   uint32
		clockRate uint32
		frame     []byte
	)
	if t.Kind() == webrtc.RTPCodecTypeAudio {
		payloader, interval, clockRate, frame = &codecs.OpusPayloader{}, audioInterval, 48000, silence
	} else {
		payloader, interval, clockRate, frame = &codecs.VP8Payloader{}, videoInterval, 90000, keyframe(t.Source())
	}
	samples = uint32(interval.Seconds() * float64(clockRate))
	p := rtp.NewPacketizer(mtu, 0, 0, payloader, rtp.NewRandomSequencer(), clockRate)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.Done():
			s.logger.Debug().Str("track_id", t.ID()).Str("source", string(t.Source())).Msg("generator stopped")
			return
		case <-ticker.C:
			for _, pkt := range p.Packetize(frame, samples) {
				// ErrMediaStopped races with Done and is picked up on the next tick
				_ = t.WriteRTP(pkt)
			}
		}
	}
}

// keyframe returns a minimal VP8 key frame header followed by a pattern that differs per source.
func keyframe(src media.Source) []byte {
	b := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01, 0xf0, 0x00}
	fill := byte(0x11)
	if src == media.SourceScreen {
		fill = 0x22
	}
	for i := 0; i < 64; i++ {
		b = append(b, fill)
	}
	return b
}
