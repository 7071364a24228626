package core

import "github.com/dkeye/Mesh/internal/domain"

// SessionID identifies one relay connection (one WebSocket).
type SessionID string

// MemberSession binds domain.Member and its relay endpoint.
// This is what a relay room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}
