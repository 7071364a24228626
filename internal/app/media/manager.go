// Package media owns the local capture tracks and the accounting of remote tracks.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Change announces that the local track of Kind was replaced. A nil Track removes the kind.
type Change struct {
	Kind     webrtc.RTPCodecType
	Track    *Track
	Previous *Track
}

// Local returns Track as a webrtc.TrackLocal, nil when the kind was removed.
func (c Change) Local() webrtc.TrackLocal {
	if c.Track == nil {
		return nil
	}
	return c.Track
}

// Listener receives track changes. Returning acknowledges that every session it owns now references the
// new track.
type Listener interface {
	OnTrackChanged(ctx context.Context, change Change) error
}

// Manager owns LocalMediaState: the current audio track and the current video track, camera or screen.
// Replacements are serialized; the previous track is stopped only after every listener acknowledged.
type Manager struct {
	dev    Device
	logger zerolog.Logger

	swap sync.Mutex

	mu        sync.RWMutex
	audio     *Track
	video     *Track
	want      Constraints
	sharing   bool
	stopped   bool
	nextID    uint64
	listeners map[uint64]Listener
}

func NewManager(dev Device) *Manager {
	return &Manager{
		dev:       dev,
		logger:    log.With().Str("module", "app.media").Logger(),
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers l for track changes and returns its cancel func.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = l
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Acquire requests camera and microphone. Re-acquiring replaces only the kinds whose constraints changed.
// While a screen share is active the camera constraints are remembered for StopScreenShare.
func (m *Manager) Acquire(ctx context.Context, c Constraints) error {
	m.swap.Lock()
	defer m.swap.Unlock()

	m.mu.RLock()
	stopped, prev, sharing := m.stopped, m.want, m.sharing
	haveAudio, haveVideo := m.audio != nil, m.video != nil
	m.mu.RUnlock()
	if stopped {
		return domain.NewOpError("acquire", "", domain.ErrMediaStopped)
	}

	audioChanged := c.Audio != prev.Audio || c.AudioDeviceID != prev.AudioDeviceID || c.Audio != haveAudio
	videoChanged := !sharing && (c.Video != prev.Video || c.VideoDeviceID != prev.VideoDeviceID || c.Video != haveVideo)

	req := Constraints{
		Audio:         c.Audio && audioChanged,
		Video:         c.Video && videoChanged,
		AudioDeviceID: c.AudioDeviceID,
		VideoDeviceID: c.VideoDeviceID,
	}
	var stream Stream
	if req.Audio || req.Video {
		var err error
		stream, err = m.dev.GetUserMedia(ctx, req)
		if err != nil {
			return domain.NewOpError("acquire", "", err)
		}
		if (req.Audio && stream.Audio == nil) || (req.Video && stream.Video == nil) {
			stream.stop()
			return domain.NewOpError("acquire", "", domain.ErrDeviceUnavailable)
		}
	}

	m.mu.Lock()
	m.want = c
	m.mu.Unlock()

	if audioChanged {
		m.replace(ctx, webrtc.RTPCodecTypeAudio, stream.Audio)
	}
	if videoChanged {
		m.replace(ctx, webrtc.RTPCodecTypeVideo, stream.Video)
	}
	m.logger.Info().Bool("audio", c.Audio).Bool("video", c.Video).Bool("sharing", sharing).Msg("acquired")
	return nil
}

// ToggleAudio flips the enabled flag of the current audio track and returns the new state.
func (m *Manager) ToggleAudio() bool { return toggle(m.Audio()) }

// ToggleVideo flips the enabled flag of the current video track, camera or screen.
func (m *Manager) ToggleVideo() bool { return toggle(m.Video()) }

func toggle(t *Track) bool {
	if t == nil {
		return false
	}
	return t.Toggle()
}

// StartScreenShare swaps the video track for a screen capture. The camera track is stopped once every
// listener moved to the screen track.
func (m *Manager) StartScreenShare(ctx context.Context) error {
	m.swap.Lock()
	defer m.swap.Unlock()

	m.mu.RLock()
	stopped, sharing := m.stopped, m.sharing
	m.mu.RUnlock()
	if stopped {
		return domain.NewOpError("start screen share", "", domain.ErrMediaStopped)
	}
	if sharing {
		return nil
	}
	screen, err := m.dev.GetDisplayMedia(ctx)
	if err != nil {
		return domain.NewOpError("start screen share", "", err)
	}
	screen.OnEnded(func() {
		if err := m.StopScreenShare(context.Background()); err != nil {
			m.logger.Warn().Err(err).Msg("stop ended screen share")
		}
	})

	m.mu.Lock()
	m.sharing = true
	m.mu.Unlock()
	m.replace(ctx, webrtc.RTPCodecTypeVideo, screen)
	m.logger.Info().Str("track", screen.ID()).Msg("screen share started")
	return nil
}

// StopScreenShare restores the camera, or no video when none was acquired, and stops the screen track.
func (m *Manager) StopScreenShare(ctx context.Context) error {
	m.swap.Lock()
	defer m.swap.Unlock()

	m.mu.RLock()
	sharing, want := m.sharing, m.want
	m.mu.RUnlock()
	if !sharing {
		return nil
	}

	var camera *Track
	var camErr error
	if want.Video {
		stream, err := m.dev.GetUserMedia(ctx, Constraints{Video: true, VideoDeviceID: want.VideoDeviceID})
		switch {
		case err != nil:
			camErr = err
		case stream.Video == nil:
			camErr = domain.ErrDeviceUnavailable
		default:
			camera = stream.Video
		}
	}

	m.mu.Lock()
	m.sharing = false
	m.mu.Unlock()
	m.replace(ctx, webrtc.RTPCodecTypeVideo, camera)
	m.logger.Info().Bool("camera", camera != nil).Msg("screen share stopped")
	if camErr != nil {
		return domain.NewOpError("restore camera", "", camErr)
	}
	return nil
}

// Stop stops every owned track. It is safe to call more than once.
func (m *Manager) Stop() {
	m.swap.Lock()
	defer m.swap.Unlock()
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	audio, video := m.audio, m.video
	m.audio, m.video, m.sharing = nil, nil, false
	m.mu.Unlock()

	Stream{Audio: audio, Video: video}.stop()
	m.logger.Info().Msg("media stopped")
}

func (m *Manager) Audio() *Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.audio
}

func (m *Manager) Video() *Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.video
}

func (m *Manager) Sharing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sharing
}

// Tracks returns the current local tracks to attach to a new session.
func (m *Manager) Tracks() []webrtc.TrackLocal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]webrtc.TrackLocal, 0, 2)
	if m.audio != nil {
		out = append(out, m.audio)
	}
	if m.video != nil {
		out = append(out, m.video)
	}
	return out
}

func (m *Manager) EnumerateDevices(ctx context.Context) ([]DeviceInfo, error) {
	devices, err := m.dev.EnumerateDevices(ctx)
	if err != nil {
		return nil, domain.NewOpError("enumerate devices", "", err)
	}
	return devices, nil
}

// replace swaps the slot of kind, waits for every listener and then stops the previous track.
// Callers hold swap.
func (m *Manager) replace(ctx context.Context, kind webrtc.RTPCodecType, next *Track) {
	m.mu.Lock()
	slot := &m.audio
	if kind == webrtc.RTPCodecTypeVideo {
		slot = &m.video
	}
	prev := *slot
	*slot = next
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	if prev == next {
		return
	}
	change := Change{Kind: kind, Track: next, Previous: prev}
	var errs []error
	for _, l := range listeners {
		if err := l.OnTrackChanged(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn().Err(err).Str("kind", kind.String()).Msg("track change not acknowledged by every listener")
	}
	if prev != nil {
		prev.Stop()
		m.logger.Debug().Str("kind", kind.String()).Str("track", prev.ID()).Str("source", string(prev.Source())).Msg("previous track stopped")
	}
}

func (s Stream) stop() {
	if s.Audio != nil {
		s.Audio.Stop()
	}
	if s.Video != nil {
		s.Video.Stop()
	}
}
