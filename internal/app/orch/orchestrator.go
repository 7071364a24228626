// Package orch reconciles room membership with the live peer sessions of one local member.
//
// Each Orchestrator owns one room and one event loop goroutine. Signaling deliveries, connection callbacks,
// timers and API calls are posted to that loop and run to completion one at a time, so sessions are never
// touched concurrently.
package orch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Mesh/internal/app/chat"
	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRebuilds = 3
	defaultEventBuffer = 256
	taskBuffer         = 1024
	maxEarlyCandidates = 64
)

var (
	ErrStopped   = errors.New("orchestrator stopped")
	ErrNotJoined = errors.New("orchestrator not joined")

	errRetiredByRemote = errors.New("session retired by remote")
)

// MediaSource is the part of the media manager an orchestrator needs.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	Subscribe(l media.Listener) func()
}

type Config struct {
	Room        domain.RoomID
	Member      domain.MemberID // requested id; empty lets the signaling channel assign one
	DisplayName string
	Signal      core.SignalingChannel
	Peers       core.PeerFactory
	Media       MediaSource
	ChatCodec   chat.Codec
	Session     session.Config
	MaxRebuilds int
	EventBuffer int
	Sink        *media.Sink
}

type EventKind string

const (
	EventPeerJoined EventKind = "peer-joined"
	EventState      EventKind = "state"
	EventPeerLeft   EventKind = "peer-left"
	EventChat       EventKind = "chat"
)

type Event struct {
	Kind    EventKind
	Member  domain.MemberID
	State   session.State
	Message domain.ChatMessage
	// Err is set on peer-left when the member was given up after a failure.
	Err error
}

// PeerView is the read-only connectivity of one remote member.
type PeerView struct {
	Member    domain.MemberID     `json:"member"`
	Role      string              `json:"role"`
	State     session.State       `json:"-"`
	SessionID string              `json:"sessionId"`
	Rebuilds  int                 `json:"rebuilds"`
	Media     []media.StreamStats `json:"media,omitempty"`
}

type peer struct {
	sess     *session.Session
	rebuilds int
}

type Orchestrator struct {
	cfg    Config
	sig    core.RoomSignal
	self   domain.MemberID
	chat   *chat.Adapter
	sink   *media.Sink
	logger zerolog.Logger

	tasks    chan func()
	done     chan struct{}
	events   chan Event
	ctx      context.Context
	cancel   context.CancelFunc
	joined   atomic.Bool
	stopOnce sync.Once

	// owned by the loop
	members     map[domain.MemberID]struct{}
	peers       map[domain.MemberID]*peer
	retired     map[domain.MemberID]map[string]struct{}
	early       map[domain.MemberID][]domain.Envelope
	unsubscribe func()
	leaving     bool

	viewMu sync.RWMutex
	view   map[domain.MemberID]PeerView
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Signal == nil || cfg.Peers == nil {
		return nil, errors.New("orch: signal channel and peer factory are required")
	}
	if cfg.Room == "" {
		return nil, domain.ErrRoomNotFound
	}
	if cfg.MaxRebuilds < 0 {
		cfg.MaxRebuilds = 0
	} else if cfg.MaxRebuilds == 0 {
		cfg.MaxRebuilds = DefaultMaxRebuilds
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.Sink == nil {
		cfg.Sink = media.NewSink()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		sink:    cfg.Sink,
		logger:  log.With().Str("module", "app.orch").Str("room", string(cfg.Room)).Logger(),
		tasks:   make(chan func(), taskBuffer),
		done:    make(chan struct{}),
		events:  make(chan Event, cfg.EventBuffer),
		ctx:     ctx,
		cancel:  cancel,
		members: make(map[domain.MemberID]struct{}),
		peers:   make(map[domain.MemberID]*peer),
		retired: make(map[domain.MemberID]map[string]struct{}),
		early:   make(map[domain.MemberID][]domain.Envelope),
		view:    make(map[domain.MemberID]PeerView),
	}, nil
}

// Join enters the room through the signaling channel and starts the event loop. It returns the local member id.
func (o *Orchestrator) Join(ctx context.Context) (domain.MemberID, error) {
	if o.joined.Load() {
		return o.self, nil
	}
	inbound := func(env domain.Envelope) { o.post(func() { o.dispatch(env) }) }
	handlers := core.SignalHandlers{
		OnRoomJoined: func(_ domain.MemberID, members []domain.MemberID) {
			o.post(func() { o.onRoomJoined(members) })
		},
		OnMemberJoined: func(id domain.MemberID) { o.post(func() { o.memberJoined(id) }) },
		OnMemberLeft:   func(id domain.MemberID) { o.post(func() { o.memberLeft(id) }) },
		OnOffer:        inbound,
		OnAnswer:       inbound,
		OnICECandidate: inbound,
		OnMessage:      inbound,
	}
	req := core.JoinRequest{MemberID: o.cfg.Member, DisplayName: o.cfg.DisplayName}
	sig, err := o.cfg.Signal.JoinRoom(ctx, o.cfg.Room, req, handlers)
	if err != nil {
		return "", domain.NewOpError("join room", o.cfg.Member, err)
	}
	o.sig = sig
	o.self = sig.Self()
	o.chat = chat.NewAdapter(o.self, o.cfg.ChatCodec)
	o.logger = o.logger.With().Str("member", string(o.self)).Logger()
	if o.cfg.Media != nil {
		o.unsubscribe = o.cfg.Media.Subscribe(o)
	}
	o.joined.Store(true)
	go o.run()
	o.logger.Info().Msg("joined room")
	return o.self, nil
}

// Leave says bye to every peer, leaves the room and stops the loop. The events channel is closed afterwards.
func (o *Orchestrator) Leave(ctx context.Context) error {
	if !o.joined.Load() {
		return ErrNotJoined
	}
	err := o.do(ctx, func() {
		o.leaving = true
		for id, p := range o.peers {
			o.detach(id, p)
			bye := domain.Envelope{ToID: id, Kind: domain.KindBye, SessionID: p.sess.SessionID(), Payload: domain.ByeLeaving}
			if err := o.sig.SendMessage(ctx, bye); err != nil {
				o.logger.Debug().Err(err).Str("peer", string(id)).Msg("leave bye")
			}
			p.sess.Close(nil)
		}
		clear(o.members)
		clear(o.early)
	})
	if err != nil {
		return err
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	leaveErr := o.sig.LeaveRoom(ctx)
	o.stop()
	o.logger.Info().Msg("left room")
	return leaveErr
}

func (o *Orchestrator) stop() {
	o.stopOnce.Do(func() {
		close(o.done)
		o.cancel()
	})
}

func (o *Orchestrator) run() {
	defer close(o.events)
	for {
		select {
		case fn := <-o.tasks:
			fn()
		case <-o.done:
			return
		}
	}
}

// post schedules fn on the loop and reports false once the loop is gone.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.tasks <- fn:
		return true
	case <-o.done:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !o.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrStopped
	}
}

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn().Str("kind", string(ev.Kind)).Str("peer", string(ev.Member)).Msg("event dropped, consumer too slow")
	}
}

// Events streams peer-joined, state, peer-left and chat events until Leave.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) Self() domain.MemberID {
	if !o.joined.Load() {
		return ""
	}
	return o.self
}

func (o *Orchestrator) Room() domain.RoomID { return o.cfg.Room }

// Done is closed once the orchestrator left its room.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// States returns the per-member connectivity view, sorted by member id.
func (o *Orchestrator) States() []PeerView {
	o.viewMu.RLock()
	out := make([]PeerView, 0, len(o.view))
	for _, v := range o.view {
		out = append(out, v)
	}
	o.viewMu.RUnlock()
	for i := range out {
		out[i].Media = o.sink.Stats(out[i].Member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member < out[j].Member })
	return out
}

// State reports the session state towards member, false when no session exists.
func (o *Orchestrator) State(member domain.MemberID) (session.State, bool) {
	o.viewMu.RLock()
	defer o.viewMu.RUnlock()
	v, ok := o.view[member]
	return v.State, ok
}

func (o *Orchestrator) updateView(id domain.MemberID, p *peer) {
	o.viewMu.Lock()
	o.view[id] = PeerView{
		Member:    id,
		Role:      p.sess.Role().String(),
		State:     p.sess.State(),
		SessionID: p.sess.SessionID(),
		Rebuilds:  p.rebuilds,
	}
	o.viewMu.Unlock()
}

func (o *Orchestrator) dropView(id domain.MemberID) {
	o.viewMu.Lock()
	delete(o.view, id)
	o.viewMu.Unlock()
}

// SendChat broadcasts content on every open chat channel and appends it to the room log.
func (o *Orchestrator) SendChat(ctx context.Context, content string) (domain.ChatMessage, error) {
	if !o.joined.Load() {
		return domain.ChatMessage{}, ErrNotJoined
	}
	var (
		msg     domain.ChatMessage
		sendErr error
	)
	err := o.do(ctx, func() {
		peers := make([]chat.Peer, 0, len(o.peers))
		for _, p := range o.peers {
			peers = append(peers, p.sess)
		}
		msg, sendErr = o.chat.Send(content, peers)
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return msg, sendErr
}

// Messages returns the ordered room-wide chat log.
func (o *Orchestrator) Messages() []domain.ChatMessage {
	if !o.joined.Load() {
		return nil
	}
	return o.chat.Log().Messages()
}
