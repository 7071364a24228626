package media

import (
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackLive TrackState = iota
	TrackMuted
	TrackEnded
)

func (s TrackState) String() string {
	switch s {
	case TrackLive:
		return "live"
	case TrackMuted:
		return "muted"
	case TrackEnded:
		return "ended"
	}
	return "unknown"
}

type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceCamera     Source = "camera"
	SourceScreen     Source = "screen"
)

// Track is a local capture track shared by every session of every room. Sessions hold references to it;
// only the Manager stops it.
type Track struct {
	*webrtc.TrackLocalStaticRTP

	source   Source
	deviceID string
	state    atomic.Int32 // TrackLive by default
	stops    atomic.Int32
	done     chan struct{}

	mu      sync.Mutex
	onEnded []func()
}

// NewTrack creates a track with the default codec for kind: Opus for audio, VP8 for video.
func NewTrack(kind webrtc.RTPCodecType, id, streamID string, source Source, deviceID string) (*Track, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == webrtc.RTPCodecTypeVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	return &Track{
		TrackLocalStaticRTP: local,
		source:              source,
		deviceID:            deviceID,
		done:                make(chan struct{}),
	}, nil
}

func (t *Track) Source() Source { return t.source }

func (t *Track) DeviceID() string { return t.deviceID }

func (t *Track) State() TrackState { return TrackState(t.state.Load()) }

func (t *Track) Enabled() bool { return t.State() == TrackLive }

// Toggle flips the enabled flag in place and returns the new value. An ended track stays disabled.
func (t *Track) Toggle() bool {
	for {
		cur := t.state.Load()
		var next int32
		switch TrackState(cur) {
		case TrackLive:
			next = int32(TrackMuted)
		case TrackMuted:
			next = int32(TrackLive)
		default:
			return false
		}
		if t.state.CompareAndSwap(cur, next) {
			return TrackState(next) == TrackLive
		}
	}
}

// SetEnabled sets the enabled flag unless the track has ended.
func (t *Track) SetEnabled(on bool) {
	want := int32(TrackMuted)
	if on {
		want = int32(TrackLive)
	}
	for {
		cur := t.state.Load()
		if TrackState(cur) == TrackEnded || cur == want {
			return
		}
		if t.state.CompareAndSwap(cur, want) {
			return
		}
	}
}

// WriteRTP forwards a packet to every bound session. Muted tracks swallow packets.
func (t *Track) WriteRTP(p *rtp.Packet) error {
	switch t.State() {
	case TrackEnded:
		return domain.ErrMediaStopped
	case TrackMuted:
		return nil
	}
	return t.TrackLocalStaticRTP.WriteRTP(p)
}

// Stop ends the track. Only the first call has an effect.
func (t *Track) Stop() {
	t.stops.Add(1)
	if TrackState(t.state.Swap(int32(TrackEnded))) == TrackEnded {
		return
	}
	close(t.done)
}

// StopCount reports how many times Stop was called.
func (t *Track) StopCount() int { return int(t.stops.Load()) }

// Done is closed once the track ends.
func (t *Track) Done() <-chan struct{} { return t.done }

// OnEnded registers fn to run when the capture source ends on its own, e.g. a revoked screen share.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// End reports that the source went away outside the Manager's control.
func (t *Track) End() {
	if t.State() == TrackEnded {
		return
	}
	t.mu.Lock()
	fns := append([]func(){}, t.onEnded...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
