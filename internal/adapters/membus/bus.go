// Package membus is an in-memory implementation of the signaling channel contract.
//
// Envelopes are delivered at least once, in order per (sender, kind) and in no particular order across kinds.
// Duplicate delivery and delivery jitter can be switched on to exercise receivers.
package membus

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Option func(*Bus)

// WithDuplicates delivers every envelope twice.
func WithDuplicates() Option {
	return func(b *Bus) { b.duplicate = true }
}

// WithJitter delays each delivery by a random duration up to max.
func WithJitter(max time.Duration, seed int64) Option {
	return func(b *Bus) {
		b.jitter = max
		b.rng = rand.New(rand.NewSource(seed))
	}
}

type Bus struct {
	duplicate bool
	jitter    time.Duration
	rngMu     sync.Mutex
	rng       *rand.Rand
	logger    zerolog.Logger

	mu    sync.Mutex
	rooms map[domain.RoomID]*domain.Room
	conns map[domain.RoomID]map[domain.MemberID]*conn
}

var _ core.SignalingChannel = (*Bus)(nil)

func New(opts ...Option) *Bus {
	b := &Bus{
		logger: log.With().Str("module", "adapters.membus").Logger(),
		rooms:  make(map[domain.RoomID]*domain.Room),
		conns:  make(map[domain.RoomID]map[domain.MemberID]*conn),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) CreateRoom(context.Context) (domain.RoomID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := domain.NewRoomID()
	b.rooms[id] = domain.NewRoom(id)
	b.conns[id] = make(map[domain.MemberID]*conn)
	b.logger.Info().Str("room", string(id)).Msg("room created")
	return id, nil
}

// JoinRoom registers a member; the room is created on first join.
func (b *Bus) JoinRoom(_ context.Context, room domain.RoomID, req core.JoinRequest, h core.SignalHandlers) (core.RoomSignal, error) {
	if room == "" {
		return nil, domain.ErrRoomNotFound
	}
	member, err := domain.NewMember(req.MemberID, req.DisplayName)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	r, ok := b.rooms[room]
	if !ok {
		r = domain.NewRoom(room)
		b.rooms[room] = r
		b.conns[room] = make(map[domain.MemberID]*conn)
	}
	if r.Has(member.ID) {
		b.mu.Unlock()
		return nil, domain.ErrMemberExists
	}
	others := r.Members()
	r.Add(member.ID)
	c := newConn(b, room, member.ID, h)
	b.conns[room][member.ID] = c
	peers := make([]*conn, 0, len(others))
	for _, id := range others {
		peers = append(peers, b.conns[room][id])
	}
	b.mu.Unlock()

	c.control(func() {
		if h.OnRoomJoined != nil {
			h.OnRoomJoined(member.ID, others)
		}
	})
	for _, p := range peers {
		p.control(func() {
			if p.h.OnMemberJoined != nil {
				p.h.OnMemberJoined(member.ID)
			}
		})
	}
	b.logger.Info().Str("room", string(room)).Str("member", string(member.ID)).Int("members", len(others)+1).Msg("member joined")
	return &handle{
		Outbox: core.Outbox{RoomID: room, Self: member.ID, Deliver: c.deliver},
		conn:   c,
	}, nil
}

func (b *Bus) leave(c *conn) {
	b.mu.Lock()
	r, ok := b.rooms[c.room]
	if !ok || b.conns[c.room][c.self] != c {
		b.mu.Unlock()
		return
	}
	r.Remove(c.self)
	delete(b.conns[c.room], c.self)
	peers := make([]*conn, 0, len(b.conns[c.room]))
	for _, p := range b.conns[c.room] {
		peers = append(peers, p)
	}
	if r.Empty() {
		delete(b.rooms, c.room)
		delete(b.conns, c.room)
	}
	b.mu.Unlock()

	c.close()
	for _, p := range peers {
		p.control(func() {
			if p.h.OnMemberLeft != nil {
				p.h.OnMemberLeft(c.self)
			}
		})
	}
	b.logger.Info().Str("room", string(c.room)).Str("member", string(c.self)).Msg("member left")
}

func (b *Bus) lookup(room domain.RoomID, id domain.MemberID) (*conn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[room][id]
	return c, ok
}

// Members lists the members of room.
func (b *Bus) Members(room domain.RoomID) []domain.MemberID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rooms[room]; ok {
		return r.Members()
	}
	return nil
}

func (b *Bus) delay() time.Duration {
	if b.jitter <= 0 {
		return 0
	}
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return time.Duration(b.rng.Int63n(int64(b.jitter)))
}

type handle struct {
	core.Outbox
	conn *conn
}

func (h *handle) Self() domain.MemberID { return h.Outbox.Self }

func (h *handle) Room() domain.RoomID { return h.RoomID }

func (h *handle) LeaveRoom(context.Context) error {
	h.conn.bus.leave(h.conn)
	return nil
}
