package domain

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotReady           = errors.New("channel not ready")
	ErrDeviceUnavailable         = errors.New("device unavailable")
	ErrPermissionDenied          = errors.New("permission denied")
	ErrNegotiationTimeout        = errors.New("negotiation timeout")
	ErrMalformedEnvelope         = errors.New("malformed envelope")
	ErrSignalingDeliveryFailure  = errors.New("signaling delivery failure")
	ErrRoomNotFound              = errors.New("room not found")
	ErrMemberExists              = errors.New("member already exists")
	ErrMemberNotFound            = errors.New("member not found")
	ErrSessionClosed             = errors.New("session closed")
	ErrPeerLost                  = errors.New("peer lost")
	ErrMediaStopped              = errors.New("media stopped")
	ErrMemberIDEmpty             = errors.New("member id empty")
	ErrMemberIDTooLong           = errors.New("member id too long")
	ErrDisplayNameTooLong        = errors.New("display name too long")
	ErrChatContentEmpty          = errors.New("chat content empty")
	ErrChatContentTooLong        = errors.New("chat content too long")
	ErrDescriptionRejected       = errors.New("description rejected")
	ErrUnexpectedEnvelopeForRole = errors.New("unexpected envelope for role")
)

// OpError carries the failed operation and the remote peer it concerned.
type OpError struct {
	Op   string
	Peer MemberID
	Err  error
}

func (e *OpError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func NewOpError(op string, peer MemberID, err error) *OpError {
	return &OpError{Op: op, Peer: peer, Err: err}
}
