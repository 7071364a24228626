package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Relay is the signaling service behind the WebSocket endpoint: it binds connections to room members,
// forwards envelopes between them and announces membership changes.
type Relay struct {
	Registry *Registry
	Rooms    *RoomManager
	Policy   Policy

	logger zerolog.Logger
}

func NewRelay(reg *Registry, rooms *RoomManager, policy Policy) *Relay {
	return &Relay{
		Registry: reg,
		Rooms:    rooms,
		Policy:   policy,
		logger:   log.With().Str("module", "app.relay").Logger(),
	}
}

// Connect registers a new connection; cancel stops its pumps.
func (r *Relay) Connect(sid core.SessionID, conn core.SignalConnection, cancel func()) {
	r.Registry.Bind(sid, conn, cancel)
}

// Join attaches sid to room as member (generated when empty). A connection already in a room leaves it first.
func (r *Relay) Join(sid core.SessionID, room domain.RoomID, member domain.MemberID, name string) (domain.MemberID, []domain.MemberID, error) {
	conn, ok := r.Registry.Conn(sid)
	if !ok {
		return "", nil, fmt.Errorf("relay: unknown connection %s", sid)
	}
	if prev, _, ok := r.Registry.RoomOf(sid); ok {
		r.Leave(sid)
		r.logger.Info().Str("sid", string(sid)).Str("room", string(prev)).Msg("left previous room on join")
	}
	if member == "" {
		id, err := r.Rooms.FreeID(room)
		if err != nil {
			return "", nil, err
		}
		member = id
	}
	meta, err := domain.NewMember(member, name)
	if err != nil {
		return "", nil, err
	}
	ms := core.NewMemberSession(meta, conn)
	others, err := r.Rooms.Attach(room, ms)
	if err != nil {
		return "", nil, err
	}
	r.Registry.SetMember(sid, room, ms)
	r.broadcast(room, meta.ID, core.WireFrame{Type: core.FrameMemberJoined, Room: room, Member: meta.ID, Name: meta.DisplayName})
	r.logger.Info().Str("sid", string(sid)).Str("room", string(room)).Str("member", string(meta.ID)).Int("others", len(others)).Msg("join")
	return meta.ID, others, nil
}

// Leave detaches sid from its room. The connection stays open.
func (r *Relay) Leave(sid core.SessionID) bool {
	room, ms, ok := r.Registry.ClearRoom(sid)
	if !ok {
		return false
	}
	if r.Rooms.Detach(room, ms) {
		r.announceLeft(room, ms.Meta().ID)
	}
	return true
}

// LeaveMember removes member from room on behalf of the REST API. A live connection of that member stays
// open but loses its membership.
func (r *Relay) LeaveMember(room domain.RoomID, member domain.MemberID) error {
	ms, err := r.Rooms.Leave(room, member)
	if err != nil {
		return err
	}
	if ms != nil {
		if sid, ok := r.Registry.Find(room, member); ok {
			r.Registry.ClearRoom(sid)
		}
	}
	r.announceLeft(room, member)
	return nil
}

func (r *Relay) announceLeft(room domain.RoomID, member domain.MemberID) {
	r.broadcast(room, member, core.WireFrame{Type: core.FrameMemberLeft, Room: room, Member: member})
	r.logger.Info().Str("room", string(room)).Str("member", string(member)).Msg("leave")
}

// Forward delivers an envelope sent by sid. The envelope must name the sender's member and room.
func (r *Relay) Forward(sid core.SessionID, env domain.Envelope) error {
	room, ms, ok := r.Registry.RoomOf(sid)
	if !ok {
		return domain.ErrMemberNotFound
	}
	if env.FromID != ms.Meta().ID || env.RoomID != room {
		return fmt.Errorf("%w: sender is %s in %s", domain.ErrMalformedEnvelope, ms.Meta().ID, room)
	}
	_, err := r.Deliver(env)
	return err
}

// Deliver routes a validated envelope to its target. It reports false when the target has no live
// connection.
func (r *Relay) Deliver(env domain.Envelope) (bool, error) {
	if err := env.Validate(); err != nil {
		return false, err
	}
	live, ok := r.Rooms.Live(env.RoomID)
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	frame, err := core.EncodeFrame(core.WireFrame{Type: core.FrameSignal, Envelope: &env})
	if err != nil {
		return false, err
	}
	err = live.SendTo(env.ToID, frame)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, core.ErrBackpressure):
		if target, ok := live.Member(env.ToID); ok {
			r.onBackpressure(live, target)
		}
		return false, fmt.Errorf("%w: %s is not keeping up", domain.ErrSignalingDeliveryFailure, env.ToID)
	case errors.Is(err, domain.ErrSignalingDeliveryFailure):
		return false, err
	}
	return false, fmt.Errorf("%w: %v", domain.ErrSignalingDeliveryFailure, err)
}

func (r *Relay) broadcast(room domain.RoomID, from domain.MemberID, f core.WireFrame) {
	live, ok := r.Rooms.Live(room)
	if !ok {
		return
	}
	frame, err := core.EncodeFrame(f)
	if err != nil {
		r.logger.Error().Err(err).Msg("broadcast encode")
		return
	}
	res := live.Broadcast(from, frame)
	for _, slow := range res.Dropped {
		r.onBackpressure(live, slow)
	}
}

func (r *Relay) onBackpressure(live core.RoomService, slow core.MemberSession) {
	if r.Policy == nil {
		return
	}
	switch r.Policy.OnBackPressure(live, slow) {
	case KickMember:
		if sid, ok := r.Registry.Find(live.ID(), slow.Meta().ID); ok {
			r.logger.Warn().Str("room", string(live.ID())).Str("member", string(slow.Meta().ID)).Msg("kick slow member")
			r.KickBySID(sid)
		}
	case DropFrame, NoAction:
	}
}

// KickBySID removes sid from its room and closes the connection.
func (r *Relay) KickBySID(sid core.SessionID) {
	r.Leave(sid)
	r.Registry.Cancel(sid)
}

// OnDisconnect runs once the pumps of sid have exited.
func (r *Relay) OnDisconnect(sid core.SessionID) {
	r.Leave(sid)
	r.Registry.Unbind(sid)
}
