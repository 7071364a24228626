package media

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RTPReader is the read side of a remote track; *webrtc.TrackRemote satisfies it.
type RTPReader interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type StreamStats struct {
	TrackID string              `json:"trackId"`
	Kind    webrtc.RTPCodecType `json:"kind"`
	Packets uint64              `json:"packets"`
	Bytes   uint64              `json:"bytes"`
	Lost    uint64              `json:"lost"`
	Ended   bool                `json:"ended"`
}

type stream struct {
	id      string
	kind    webrtc.RTPCodecType
	packets atomic.Uint64
	bytes   atomic.Uint64
	lost    atomic.Uint64
	ended   atomic.Bool
	cancel  context.CancelFunc
}

// Sink drains remote tracks and keeps per-member packet accounting.
type Sink struct {
	mu      sync.RWMutex
	members map[domain.MemberID]map[string]*stream
}

func NewSink() *Sink {
	return &Sink{members: make(map[domain.MemberID]map[string]*stream)}
}

// Start drains r until it fails or ctx ends. A track with the same id replaces the previous reader.
func (s *Sink) Start(ctx context.Context, member domain.MemberID, r RTPReader) {
	logger := log.With().
		Str("module", "app.media").
		Str("peer", string(member)).
		Str("track", r.ID()).
		Str("kind", r.Kind().String()).
		Logger()

	readCtx, cancel := context.WithCancel(ctx)
	st := &stream{id: r.ID(), kind: r.Kind(), cancel: cancel}

	s.mu.Lock()
	tracks, ok := s.members[member]
	if !ok {
		tracks = make(map[string]*stream)
		s.members[member] = tracks
	}
	if old, ok := tracks[st.id]; ok {
		logger.Info().Msg("replacing remote track reader")
		old.cancel()
	}
	tracks[st.id] = st
	s.mu.Unlock()

	go st.drain(readCtx, r, &logger)
}

func (st *stream) drain(ctx context.Context, r RTPReader, logger *zerolog.Logger) {
	defer st.ended.Store(true)
	var last uint16
	first := true
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("remote track reader done")
			return
		default:
		}
		pkt, _, err := r.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("remote track ended")
			return
		}
		st.packets.Add(1)
		st.bytes.Add(uint64(len(pkt.Payload)))
		if !first {
			if gap := pkt.SequenceNumber - last; gap > 1 && gap < 1<<15 {
				st.lost.Add(uint64(gap - 1))
			}
		}
		first = false
		last = pkt.SequenceNumber
	}
}

// Stats returns the accounting of every track received from member, sorted by track id.
func (s *Sink) Stats(member domain.MemberID) []StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StreamStats, 0, len(s.members[member]))
	for _, st := range s.members[member] {
		out = append(out, StreamStats{
			TrackID: st.id,
			Kind:    st.kind,
			Packets: st.packets.Load(),
			Bytes:   st.bytes.Load(),
			Lost:    st.lost.Load(),
			Ended:   st.ended.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

// Forget stops reading member's tracks and drops their accounting.
func (s *Sink) Forget(member domain.MemberID) {
	s.mu.Lock()
	tracks := s.members[member]
	delete(s.members, member)
	s.mu.Unlock()
	for _, st := range tracks {
		st.cancel()
	}
}
