package domain

import (
	"encoding/json"
	"fmt"
)

type EnvelopeKind string

const (
	KindOffer     EnvelopeKind = "offer"
	KindAnswer    EnvelopeKind = "answer"
	KindCandidate EnvelopeKind = "candidate"
	KindBye       EnvelopeKind = "bye"
	// KindRenegotiate is sent by an answerer to ask the offerer for a fresh offer.
	KindRenegotiate EnvelopeKind = "renegotiate"
)

func (k EnvelopeKind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate, KindBye, KindRenegotiate:
		return true
	}
	return false
}

// Envelope is a point-to-point signaling message delivered over a shared channel.
type Envelope struct {
	RoomID    RoomID          `json:"roomId"`
	FromID    MemberID        `json:"fromId"`
	ToID      MemberID        `json:"toId"`
	Kind      EnvelopeKind    `json:"kind"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the addressing and kind. Payload contents are checked by the consumer.
func (e Envelope) Validate() error {
	switch {
	case e.RoomID == "":
		return fmt.Errorf("%w: empty roomId", ErrMalformedEnvelope)
	case e.FromID == "":
		return fmt.Errorf("%w: empty fromId", ErrMalformedEnvelope)
	case e.ToID == "":
		return fmt.Errorf("%w: empty toId", ErrMalformedEnvelope)
	case e.FromID == e.ToID:
		return fmt.Errorf("%w: fromId equals toId", ErrMalformedEnvelope)
	case !e.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEnvelope, e.Kind)
	}
	switch e.Kind {
	case KindOffer, KindAnswer, KindCandidate:
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: %s without payload", ErrMalformedEnvelope, e.Kind)
		}
	}
	return nil
}

// ByeLeaving is the bye payload of a member leaving the room. A bye without it only retires one session.
var ByeLeaving = json.RawMessage(`{"leaving":true}`)

// Leaving reports whether a bye envelope announces that the sender leaves the room.
func (e Envelope) Leaving() bool {
	if e.Kind != KindBye || len(e.Payload) == 0 {
		return false
	}
	var p struct {
		Leaving bool `json:"leaving"`
	}
	return json.Unmarshal(e.Payload, &p) == nil && p.Leaving
}

// ParseEnvelope decodes and validates a raw envelope.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
