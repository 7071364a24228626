package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
)

// ErrBackpressure is returned by SignalConnection.TrySend when the outbound queue is full.
var ErrBackpressure = errors.New("backpressure")

type FrameType string

// Client to relay.
const (
	FrameCreateRoom FrameType = "create_room"
	FrameJoin       FrameType = "join"
	FrameLeave      FrameType = "leave"
	FramePing       FrameType = "ping"
	FrameSignal     FrameType = "signal"
)

// Relay to client.
const (
	FrameRoomCreated  FrameType = "room_created"
	FrameJoined       FrameType = "joined"
	FrameLeft         FrameType = "left"
	FrameMemberJoined FrameType = "member_joined"
	FrameMemberLeft   FrameType = "member_left"
	FramePong         FrameType = "pong"
	FrameError        FrameType = "error"
)

// Error codes carried by error frames.
const (
	CodeBadPayload        = "bad_payload"
	CodeRoomNotFound      = "room_not_found"
	CodeMemberExists      = "member_exists"
	CodeNotJoined         = "not_joined"
	CodeMalformedEnvelope = "malformed_envelope"
	CodeDeliveryFailed    = "delivery_failed"
	CodeRateLimited       = "rate_limited"
	CodeInvalidMember     = "invalid_member"
)

// WireFrame is one JSON message on the relay WebSocket. Ref is chosen by the client on requests and echoed
// on the matching reply or error.
type WireFrame struct {
	Type     FrameType         `json:"type"`
	Ref      string            `json:"ref,omitempty"`
	Room     domain.RoomID     `json:"room,omitempty"`
	Member   domain.MemberID   `json:"member,omitempty"`
	Name     string            `json:"name,omitempty"`
	Members  []domain.MemberID `json:"members,omitempty"`
	Envelope *domain.Envelope  `json:"envelope,omitempty"`
	Error    string            `json:"error,omitempty"`
	Code     string            `json:"code,omitempty"`
}

func EncodeFrame(f WireFrame) (Frame, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return b, nil
}

func DecodeFrame(data []byte) (WireFrame, error) {
	var f WireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return WireFrame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return WireFrame{}, errors.New("decode frame: missing type")
	}
	return f, nil
}

// ErrorFrame builds an error reply whose code is derived from err.
func ErrorFrame(ref string, err error) WireFrame {
	return WireFrame{Type: FrameError, Ref: ref, Error: err.Error(), Code: ErrorCode(err)}
}

var codes = []struct {
	err  error
	code string
}{
	{domain.ErrRoomNotFound, CodeRoomNotFound},
	{domain.ErrMemberExists, CodeMemberExists},
	{domain.ErrMalformedEnvelope, CodeMalformedEnvelope},
	{domain.ErrSignalingDeliveryFailure, CodeDeliveryFailed},
	{domain.ErrMemberNotFound, CodeNotJoined},
	{domain.ErrMemberIDEmpty, CodeInvalidMember},
	{domain.ErrMemberIDTooLong, CodeInvalidMember},
	{domain.ErrDisplayNameTooLong, CodeInvalidMember},
}

func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeBadPayload
}

// CodeError maps an error frame back to the sentinel it was derived from.
func CodeError(f WireFrame) error {
	for _, c := range codes {
		if c.code == f.Code {
			return fmt.Errorf("%w: %s", c.err, f.Error)
		}
	}
	return fmt.Errorf("relay: %s (%s)", f.Error, f.Code)
}
