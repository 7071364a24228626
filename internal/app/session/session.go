// Package session implements the per-remote-member peer session state machine.
//
// A Session is not safe for concurrent use. Every method must run on the owner's event loop;
// callbacks from the underlying connection are re-posted onto that loop through Params.Post.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ChatLabel is the label of the single data channel every session carries.
const ChatLabel = "chat"

type Role int

const (
	Offerer Role = iota
	Answerer
)

func (r Role) String() string {
	if r == Offerer {
		return "offerer"
	}
	return "answerer"
}

// RoleFor picks the negotiation role: the lexicographically smaller member id offers.
func RoleFor(self, remote domain.MemberID) Role {
	if self.Less(remote) {
		return Offerer
	}
	return Answerer
}

type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateRenegotiating
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateRenegotiating:
		return "renegotiating"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Live reports whether description exchange completed and the session was not lost.
func (s State) Live() bool { return s == StateConnected || s == StateRenegotiating }

type Config struct {
	NegotiationTimeout time.Duration
	GracePeriod        time.Duration
}

func DefaultConfig() Config {
	return Config{
		NegotiationTimeout: 15 * time.Second,
		GracePeriod:        10 * time.Second,
	}
}

// Hooks are invoked on the owner loop, except OnRemoteTrack which runs on the connection's goroutine.
type Hooks struct {
	OnStateChange func(s *Session, from, to State)
	// OnClosed receives nil for a deliberate close, or the failure that ended the session.
	OnClosed      func(s *Session, reason error)
	OnDataChannel func(s *Session, dc core.DataChannel)
	OnRemoteTrack func(s *Session, ctx context.Context, track *webrtc.TrackRemote)
}

type Params struct {
	Context context.Context
	Self    domain.MemberID
	Remote  domain.MemberID
	Signal  core.RoomSignal
	PC      core.PeerConnection
	Config  Config
	// Post schedules fn on the owner loop and reports false once the loop is gone.
	Post  func(fn func()) bool
	Hooks Hooks
	// SessionID is generated for an offerer when empty; an answerer adopts the first offer's id.
	SessionID string
}

type Session struct {
	self   domain.MemberID
	remote domain.MemberID
	role   Role
	sid    string
	state  State

	pc     core.PeerConnection
	sig    core.RoomSignal
	cfg    Config
	post   func(func()) bool
	hooks  Hooks
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	remoteSet     bool
	transportDown bool
	offerInFlight bool
	needsRenego   bool
	pending       []webrtc.ICECandidateInit
	seen          map[string]struct{}
	lastOffer     string
	lastAnswer    *webrtc.SessionDescription

	tracks map[webrtc.RTPCodecType]core.TrackSender
	dc     core.DataChannel

	negSeq    uint64
	negTimer  *time.Timer
	graceSeq  uint64
	graceTime *time.Timer
	closed    bool
}

func New(p Params) (*Session, error) {
	if p.PC == nil || p.Signal == nil || p.Post == nil {
		return nil, fmt.Errorf("session: connection, signal and post are required")
	}
	if err := p.Remote.Validate(); err != nil {
		return nil, err
	}
	parent := p.Context
	if parent == nil {
		parent = context.Background()
	}
	if p.Config.NegotiationTimeout <= 0 || p.Config.GracePeriod <= 0 {
		def := DefaultConfig()
		if p.Config.NegotiationTimeout <= 0 {
			p.Config.NegotiationTimeout = def.NegotiationTimeout
		}
		if p.Config.GracePeriod <= 0 {
			p.Config.GracePeriod = def.GracePeriod
		}
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		self:   p.Self,
		remote: p.Remote,
		role:   RoleFor(p.Self, p.Remote),
		sid:    p.SessionID,
		pc:     p.PC,
		sig:    p.Signal,
		cfg:    p.Config,
		post:   p.Post,
		hooks:  p.Hooks,
		ctx:    ctx,
		cancel: cancel,
		seen:   make(map[string]struct{}),
		tracks: make(map[webrtc.RTPCodecType]core.TrackSender),
	}
	if s.role == Offerer && s.sid == "" {
		s.sid = uuid.NewString()
	}
	s.logger = log.With().
		Str("module", "app.session").
		Str("member", string(s.self)).
		Str("peer", string(s.remote)).
		Str("role", s.role.String()).
		Logger()

	s.bind()

	if s.role == Offerer {
		dc, err := s.pc.CreateDataChannel(ChatLabel)
		if err != nil {
			cancel()
			_ = s.pc.Close()
			return nil, domain.NewOpError("create data channel", s.remote, err)
		}
		s.dc = dc
	}
	return s, nil
}

// bind wires connection callbacks onto the owner loop. Results for a closed session are dropped.
func (s *Session) bind() {
	s.pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.post(func() {
			if s.closed {
				return
			}
			s.sendCandidate(c)
		})
	})
	s.pc.OnTransportStateChange(func(ts core.TransportState) {
		s.post(func() {
			if s.closed {
				return
			}
			s.onTransport(ts)
		})
	})
	s.pc.OnDataChannel(func(dc core.DataChannel) {
		s.post(func() {
			if s.closed || dc.Label() != ChatLabel {
				return
			}
			if s.role == Offerer {
				s.logger.Warn().Str("label", dc.Label()).Msg("unexpected remote data channel")
				return
			}
			s.dc = dc
			if s.hooks.OnDataChannel != nil {
				s.hooks.OnDataChannel(s, dc)
			}
		})
	})
	s.pc.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote) {
		if s.hooks.OnRemoteTrack != nil {
			s.hooks.OnRemoteTrack(s, ctx, track)
		}
	})
}

// Start attaches the current local tracks and enters negotiation.
func (s *Session) Start(tracks []webrtc.TrackLocal) error {
	if s.state != StateNew {
		return nil
	}
	for _, t := range tracks {
		if t == nil {
			continue
		}
		sender, err := s.pc.AddTrack(t)
		if err != nil {
			return domain.NewOpError("attach track", s.remote, err)
		}
		s.tracks[t.Kind()] = sender
	}
	if s.role == Offerer && s.dc != nil && s.hooks.OnDataChannel != nil {
		s.hooks.OnDataChannel(s, s.dc)
	}
	if s.role == Offerer {
		s.negotiate()
		return nil
	}
	s.setState(StateNegotiating)
	s.armNegotiationTimer()
	return nil
}

func (s *Session) Self() domain.MemberID { return s.self }

func (s *Session) Remote() domain.MemberID { return s.remote }

func (s *Session) Role() Role { return s.role }

func (s *Session) State() State { return s.state }

func (s *Session) SessionID() string { return s.sid }

func (s *Session) Closed() bool { return s.closed }

func (s *Session) DataChannel() core.DataChannel { return s.dc }

// Track returns the local track attached for kind, or nil.
func (s *Session) Track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	if sender, ok := s.tracks[kind]; ok {
		return sender.Track()
	}
	return nil
}

// Send writes data on the chat channel. It fails with ErrChannelNotReady unless the session is live and the
// channel is open.
func (s *Session) Send(data []byte) error {
	if !s.state.Live() || s.dc == nil || !s.dc.IsOpen() {
		return domain.NewOpError("send", s.remote, domain.ErrChannelNotReady)
	}
	if err := s.dc.Send(data); err != nil {
		return domain.NewOpError("send", s.remote, fmt.Errorf("%w: %v", domain.ErrChannelNotReady, err))
	}
	return nil
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Info().Str("sid", s.sid).Str("from", from.String()).Str("to", to.String()).Msg("state")
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(s, from, to)
	}
}
