package core

import (
	"context"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Frame is a raw relay payload.
type Frame []byte

// SignalConnection abstracts the relay side of a member's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalingChannel is the client-side contract of the signaling service.
// Delivery is at-least-once, ordered per (sender, kind) and unordered across kinds.
type SignalingChannel interface {
	CreateRoom(ctx context.Context) (domain.RoomID, error)
	JoinRoom(ctx context.Context, room domain.RoomID, req JoinRequest, h SignalHandlers) (RoomSignal, error)
}

// JoinRequest asks for a specific member id; empty means the channel assigns one.
type JoinRequest struct {
	MemberID    domain.MemberID
	DisplayName string
}

// RoomSignal is the handle returned by JoinRoom.
type RoomSignal interface {
	Self() domain.MemberID
	Room() domain.RoomID
	SendOffer(ctx context.Context, to domain.MemberID, sid string, desc webrtc.SessionDescription) error
	SendAnswer(ctx context.Context, to domain.MemberID, sid string, desc webrtc.SessionDescription) error
	SendICECandidate(ctx context.Context, to domain.MemberID, sid string, cand webrtc.ICECandidateInit) error
	// SendMessage sends an envelope of any kind; room and sender are filled in.
	SendMessage(ctx context.Context, env domain.Envelope) error
	LeaveRoom(ctx context.Context) error
}

// SignalHandlers receive inbound signaling events. Nil handlers are skipped.
// Handlers may be called from any goroutine.
type SignalHandlers struct {
	OnRoomJoined   func(self domain.MemberID, members []domain.MemberID)
	OnMemberJoined func(id domain.MemberID)
	OnMemberLeft   func(id domain.MemberID)
	OnOffer        func(env domain.Envelope)
	OnAnswer       func(env domain.Envelope)
	OnICECandidate func(env domain.Envelope)
	// OnMessage receives envelopes of the remaining kinds (bye, renegotiate).
	OnMessage func(env domain.Envelope)
}

// Dispatch routes an inbound envelope by kind.
func (h SignalHandlers) Dispatch(env domain.Envelope) {
	var fn func(domain.Envelope)
	switch env.Kind {
	case domain.KindOffer:
		fn = h.OnOffer
	case domain.KindAnswer:
		fn = h.OnAnswer
	case domain.KindCandidate:
		fn = h.OnICECandidate
	default:
		fn = h.OnMessage
	}
	if fn != nil {
		fn(env)
	}
}
