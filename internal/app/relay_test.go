package app

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   []core.WireFrame
	full     bool
	closed   bool
	canceled bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	wf, err := core.DecodeFrame(f)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, wf)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) received(t core.FrameType) []core.WireFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.WireFrame
	for _, f := range c.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func newRelay(policy Policy) *Relay {
	return NewRelay(NewRegistry(), NewRoomManager(), policy)
}

func connect(r *Relay, sid string) *fakeConn {
	c := &fakeConn{}
	r.Connect(core.SessionID(sid), c, func() {
		c.mu.Lock()
		c.canceled = true
		c.mu.Unlock()
	})
	return c
}

func offer(room domain.RoomID, from, to domain.MemberID) domain.Envelope {
	return domain.Envelope{
		RoomID:  room,
		FromID:  from,
		ToID:    to,
		Kind:    domain.KindOffer,
		Payload: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	}
}

func TestRoomManagerDirectory(t *testing.T) {
	m := NewRoomManager()
	room := m.Create().ID
	require.Len(t, string(room), 8)

	id, members, err := m.Join(room, "")
	require.NoError(t, err)
	assert.Len(t, string(id), 8)
	assert.Equal(t, []domain.MemberID{id}, members)

	_, _, err = m.Join(room, id)
	assert.ErrorIs(t, err, domain.ErrMemberExists)
	_, _, err = m.Join("missing", "")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, members, err = m.Join(room, "zed")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	info, err := m.Status(room)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Participants)

	_, err = m.Leave(room, "nobody")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
	_, err = m.Leave(room, id)
	require.NoError(t, err)
	_, err = m.Leave(room, "zed")
	require.NoError(t, err)

	_, err = m.Status(room)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound, "room is deleted when empty")
	assert.Empty(t, m.List())
}

func TestJoinAnnouncesMembers(t *testing.T) {
	r := newRelay(SimplePolicy{})
	room := r.Rooms.Create().ID
	ca := connect(r, "s1")
	cb := connect(r, "s2")

	self, others, err := r.Join("s1", room, "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, domain.MemberID("alice"), self)
	assert.Empty(t, others)

	self, others, err = r.Join("s2", room, "", "")
	require.NoError(t, err)
	assert.Equal(t, []domain.MemberID{"alice"}, others)

	joined := ca.received(core.FrameMemberJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, self, joined[0].Member)
	assert.Empty(t, cb.received(core.FrameMemberJoined))

	_, _, err = r.Join("s2", room, "alice", "")
	assert.ErrorIs(t, err, domain.ErrMemberExists)

	assert.True(t, r.Leave("s1"))
	assert.False(t, r.Leave("s1"))
	_, _, inRoom := r.Registry.RoomOf("s2")
	assert.False(t, inRoom, "failed rejoin drops the previous membership")
}

func TestForwardValidatesSender(t *testing.T) {
	r := newRelay(SimplePolicy{})
	room := r.Rooms.Create().ID
	connect(r, "s1")
	cb := connect(r, "s2")
	_, _, err := r.Join("s1", room, "a", "")
	require.NoError(t, err)
	_, _, err = r.Join("s2", room, "b", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		sid     core.SessionID
		env     domain.Envelope
		wantErr error
	}{
		{"delivered", "s1", offer(room, "a", "b"), nil},
		{"spoofed sender", "s1", offer(room, "b", "a"), domain.ErrMalformedEnvelope},
		{"foreign room", "s1", offer("other", "a", "b"), domain.ErrMalformedEnvelope},
		{"unknown target", "s1", offer(room, "a", "ghost"), domain.ErrSignalingDeliveryFailure},
		{"not joined", "s3", offer(room, "a", "b"), domain.ErrMemberNotFound},
		{"missing payload", "s1", domain.Envelope{RoomID: room, FromID: "a", ToID: "b", Kind: domain.KindAnswer}, domain.ErrMalformedEnvelope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Forward(tt.sid, tt.env)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	signals := cb.received(core.FrameSignal)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.MemberID("a"), signals[0].Envelope.FromID)
}

func TestBackpressureKicksSlowMember(t *testing.T) {
	r := newRelay(SimplePolicy{})
	room := r.Rooms.Create().ID
	connect(r, "s1")
	cb := connect(r, "s2")
	_, _, _ = r.Join("s1", room, "a", "")
	_, _, _ = r.Join("s2", room, "b", "")

	cb.mu.Lock()
	cb.full = true
	cb.mu.Unlock()

	err := r.Forward("s1", offer(room, "a", "b"))
	require.ErrorIs(t, err, domain.ErrSignalingDeliveryFailure)
	cb.mu.Lock()
	assert.True(t, cb.canceled)
	cb.mu.Unlock()
	info, err := r.Rooms.Status(room)
	require.NoError(t, err)
	assert.Equal(t, []domain.MemberID{"a"}, info.Members)
}

func TestTolerantPolicyKeepsSlowMember(t *testing.T) {
	r := newRelay(TolerantPolicy{})
	room := r.Rooms.Create().ID
	connect(r, "s1")
	cb := connect(r, "s2")
	_, _, _ = r.Join("s1", room, "a", "")
	_, _, _ = r.Join("s2", room, "b", "")
	cb.full = true

	require.Error(t, r.Forward("s1", offer(room, "a", "b")))
	assert.False(t, cb.canceled)
	info, _ := r.Rooms.Status(room)
	assert.Len(t, info.Members, 2)
}

func TestLeaveMemberThroughDirectory(t *testing.T) {
	r := newRelay(SimplePolicy{})
	room := r.Rooms.Create().ID
	ca := connect(r, "s1")
	connect(r, "s2")
	_, _, _ = r.Join("s1", room, "a", "")
	_, _, _ = r.Join("s2", room, "b", "")

	require.NoError(t, r.LeaveMember(room, "b"))
	_, _, ok := r.Registry.RoomOf("s2")
	assert.False(t, ok)
	left := ca.received(core.FrameMemberLeft)
	require.Len(t, left, 1)
	assert.Equal(t, domain.MemberID("b"), left[0].Member)

	assert.ErrorIs(t, r.LeaveMember("nope", "a"), domain.ErrRoomNotFound)
}

func TestReservedIDCanBeClaimedByConnection(t *testing.T) {
	r := newRelay(SimplePolicy{})
	room := r.Rooms.Create().ID
	id, _, err := r.Rooms.Join(room, "")
	require.NoError(t, err)

	connect(r, "s1")
	self, _, err := r.Join("s1", room, id, "")
	require.NoError(t, err)
	assert.Equal(t, id, self)

	r.OnDisconnect("s1")
	assert.Equal(t, 0, r.Registry.Len())
	_, err = r.Rooms.Status(room)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestErrorCodesRoundTrip(t *testing.T) {
	for _, sentinel := range []error{
		domain.ErrRoomNotFound,
		domain.ErrMemberExists,
		domain.ErrMalformedEnvelope,
		domain.ErrSignalingDeliveryFailure,
	} {
		f := core.ErrorFrame("r1", sentinel)
		assert.Equal(t, "r1", f.Ref)
		assert.ErrorIs(t, core.CodeError(f), sentinel)
	}
}
