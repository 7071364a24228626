package core

import (
	"github.com/dkeye/Mesh/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID   domain.MemberID `json:"id"`
	Name string          `json:"name,omitempty"`
}

// RoomService is the live relay view of a room: connected members and their signal connections.
// It never closes adapter-owned resources.
type RoomService interface {
	ID() domain.RoomID
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Member(id domain.MemberID) (MemberSession, bool)

	AddMember(ms MemberSession) bool
	RemoveMember(id domain.MemberID, ms MemberSession) bool
	SendTo(to domain.MemberID, data Frame) error
	Broadcast(from domain.MemberID, data Frame) PublishResult
}
