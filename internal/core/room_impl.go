package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory relay room.
type roomImpl struct {
	id      domain.RoomID
	mu      sync.RWMutex
	members map[domain.MemberID]MemberSession
}

func NewRoomService(id domain.RoomID) RoomService {
	return &roomImpl{
		id:      id,
		members: make(map[domain.MemberID]MemberSession),
	}
}

func (r *roomImpl) ID() domain.RoomID { return r.id }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Member(id domain.MemberID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.members[id]
	return ms, ok
}

// AddMember returns false when another connection already holds the member id.
func (r *roomImpl) AddMember(ms MemberSession) bool {
	id := ms.Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.members[id]; ok && cur != ms {
		return false
	}
	r.members[id] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("member", string(id)).Msg("member added")
	return true
}

// RemoveMember removes id only while it is still bound to ms, so a stale connection
// cannot evict a newer one.
func (r *roomImpl) RemoveMember(id domain.MemberID, ms MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.members[id]
	if !ok || (ms != nil && cur != ms) {
		return false
	}
	delete(r.members, id)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("member", string(id)).Msg("member removed")
	return true
}

func (r *roomImpl) SendTo(to domain.MemberID, data Frame) error {
	r.mu.RLock()
	ms, ok := r.members[to]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s not in room", domain.ErrSignalingDeliveryFailure, to)
	}
	return ms.Signal().TrySend(data)
}

func (r *roomImpl) Broadcast(from domain.MemberID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.members {
		if id == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.members))
	for _, ms := range r.members {
		m := ms.Meta()
		out = append(out, MemberDTO{ID: m.ID, Name: m.DisplayName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
