package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomInfo is the directory view returned to API callers.
type RoomInfo struct {
	ID           domain.RoomID     `json:"roomId"`
	Participants int               `json:"participants"`
	Members      []domain.MemberID `json:"users"`
}

type roomEntry struct {
	dir  *domain.Room
	live core.RoomService
}

// RoomManager is the room directory. Members either reserve an id through the REST API or attach with a live
// relay connection; a room disappears when its last member leaves.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomID]*roomEntry)}
}

func (m *RoomManager) Create() RoomInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.NewRoomID()
	for m.rooms[id] != nil {
		id = domain.NewRoomID()
	}
	m.rooms[id] = &roomEntry{dir: domain.NewRoom(id), live: core.NewRoomService(id)}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return RoomInfo{ID: id, Members: []domain.MemberID{}}
}

// Join reserves member in room, generating an id when member is empty. It returns the id and the
// participants after joining.
func (m *RoomManager) Join(room domain.RoomID, member domain.MemberID) (domain.MemberID, []domain.MemberID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rooms[room]
	if !ok {
		return "", nil, domain.ErrRoomNotFound
	}
	if member == "" {
		member = m.freeID(e)
	} else if err := member.Validate(); err != nil {
		return "", nil, err
	}
	if !e.dir.Add(member) {
		return "", nil, domain.ErrMemberExists
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room)).Str("member", string(member)).Msg("member reserved")
	return member, e.dir.Members(), nil
}

// Leave removes member from room and returns the live session it held, if any.
func (m *RoomManager) Leave(room domain.RoomID, member domain.MemberID) (core.MemberSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rooms[room]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if !e.dir.Remove(member) {
		return nil, domain.ErrMemberNotFound
	}
	ms, live := e.live.Member(member)
	if live {
		e.live.RemoveMember(member, ms)
	}
	m.dropIfEmpty(e)
	return ms, nil
}

// Attach binds a live relay connection. A member id reserved through Join may be claimed once; an id held by
// another connection is refused. The member ids already present are returned.
func (m *RoomManager) Attach(room domain.RoomID, ms core.MemberSession) ([]domain.MemberID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rooms[room]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	id := ms.Meta().ID
	if !e.live.AddMember(ms) {
		return nil, domain.ErrMemberExists
	}
	e.dir.Add(id)
	others := make([]domain.MemberID, 0, e.dir.Len())
	for _, other := range e.dir.Members() {
		if other != id {
			others = append(others, other)
		}
	}
	return others, nil
}

// Detach removes the live connection ms and its directory entry.
func (m *RoomManager) Detach(room domain.RoomID, ms core.MemberSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rooms[room]
	if !ok {
		return false
	}
	id := ms.Meta().ID
	if !e.live.RemoveMember(id, ms) {
		return false
	}
	e.dir.Remove(id)
	m.dropIfEmpty(e)
	return true
}

// FreeID returns a member id not yet used in room.
func (m *RoomManager) FreeID(room domain.RoomID) (domain.MemberID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[room]
	if !ok {
		return "", domain.ErrRoomNotFound
	}
	return m.freeID(e), nil
}

func (m *RoomManager) freeID(e *roomEntry) domain.MemberID {
	id := domain.NewMemberID()
	for e.dir.Has(id) {
		id = domain.NewMemberID()
	}
	return id
}

func (m *RoomManager) dropIfEmpty(e *roomEntry) {
	if !e.dir.Empty() || e.live.MemberCount() > 0 {
		return
	}
	delete(m.rooms, e.dir.ID)
	log.Info().Str("module", "app.rooms").Str("room", string(e.dir.ID)).Msg("room deleted")
}

func (m *RoomManager) Status(room domain.RoomID) (RoomInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[room]
	if !ok {
		return RoomInfo{}, domain.ErrRoomNotFound
	}
	return RoomInfo{ID: room, Participants: e.dir.Len(), Members: e.dir.Members()}, nil
}

// Live returns the relay view of room.
func (m *RoomManager) Live(room domain.RoomID) (core.RoomService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rooms[room]
	if !ok {
		return nil, false
	}
	return e.live, true
}

func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for id, e := range m.rooms {
		out = append(out, RoomInfo{ID: id, Participants: e.dir.Len(), Members: e.dir.Members()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
