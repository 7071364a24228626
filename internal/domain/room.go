package domain

import "sort"

type RoomID string

// Room is the directory view of a room: an id and its member set.
type Room struct {
	ID      RoomID
	members map[MemberID]struct{}
}

func NewRoom(id RoomID) *Room {
	if id == "" {
		id = NewRoomID()
	}
	return &Room{ID: id, members: make(map[MemberID]struct{})}
}

// NewRoomID returns the first 8 characters of a random uuid.
func NewRoomID() RoomID { return RoomID(shortID()) }

func (r *Room) Add(id MemberID) bool {
	if _, ok := r.members[id]; ok {
		return false
	}
	r.members[id] = struct{}{}
	return true
}

func (r *Room) Remove(id MemberID) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

func (r *Room) Has(id MemberID) bool {
	_, ok := r.members[id]
	return ok
}

func (r *Room) Len() int { return len(r.members) }

func (r *Room) Empty() bool { return len(r.members) == 0 }

// Members returns a sorted copy of the member set.
func (r *Room) Members() []MemberID {
	out := make([]MemberID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
