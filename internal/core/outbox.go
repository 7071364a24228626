package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Outbox implements the typed send helpers of RoomSignal over a raw envelope sink.
type Outbox struct {
	RoomID  domain.RoomID
	Self    domain.MemberID
	Deliver func(ctx context.Context, env domain.Envelope) error
}

func (o Outbox) SendOffer(ctx context.Context, to domain.MemberID, sid string, desc webrtc.SessionDescription) error {
	return o.sendPayload(ctx, to, domain.KindOffer, sid, desc)
}

func (o Outbox) SendAnswer(ctx context.Context, to domain.MemberID, sid string, desc webrtc.SessionDescription) error {
	return o.sendPayload(ctx, to, domain.KindAnswer, sid, desc)
}

func (o Outbox) SendICECandidate(ctx context.Context, to domain.MemberID, sid string, cand webrtc.ICECandidateInit) error {
	return o.sendPayload(ctx, to, domain.KindCandidate, sid, cand)
}

func (o Outbox) SendMessage(ctx context.Context, env domain.Envelope) error {
	env.RoomID = o.RoomID
	env.FromID = o.Self
	if err := env.Validate(); err != nil {
		return err
	}
	return o.Deliver(ctx, env)
}

func (o Outbox) sendPayload(ctx context.Context, to domain.MemberID, kind domain.EnvelopeKind, sid string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	return o.SendMessage(ctx, domain.Envelope{ToID: to, Kind: kind, SessionID: sid, Payload: raw})
}

// DescriptionOf decodes the session description carried by an offer or answer envelope.
func DescriptionOf(env domain.Envelope) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &desc); err != nil {
		return desc, fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err)
	}
	want := webrtc.SDPTypeOffer
	if env.Kind == domain.KindAnswer {
		want = webrtc.SDPTypeAnswer
	}
	if desc.Type != want || desc.SDP == "" {
		return desc, fmt.Errorf("%w: %s carries %q description", domain.ErrMalformedEnvelope, env.Kind, desc.Type)
	}
	return desc, nil
}

// CandidateOf decodes the ICE candidate carried by a candidate envelope.
func CandidateOf(env domain.Envelope) (webrtc.ICECandidateInit, error) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Payload, &cand); err != nil {
		return cand, fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err)
	}
	if cand.Candidate == "" {
		return cand, fmt.Errorf("%w: empty candidate", domain.ErrMalformedEnvelope)
	}
	return cand, nil
}
