package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMember(t *testing.T) {
	m, err := NewMember("", "  alice ")
	require.NoError(t, err)
	assert.Len(t, string(m.ID), 8)
	assert.Equal(t, "alice", m.DisplayName)

	_, err = NewMember(MemberID(strings.Repeat("x", MaxMemberIDLen+1)), "")
	assert.ErrorIs(t, err, ErrMemberIDTooLong)

	_, err = NewMember("b", strings.Repeat("n", MaxDisplayNameLen+1))
	assert.ErrorIs(t, err, ErrDisplayNameTooLong)
}

func TestRoomMembership(t *testing.T) {
	r := NewRoom("")
	assert.Len(t, string(r.ID), 8)
	assert.True(t, r.Empty())
	assert.True(t, r.Add("b"))
	assert.True(t, r.Add("a"))
	assert.False(t, r.Add("a"))
	assert.Equal(t, []MemberID{"a", "b"}, r.Members())
	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Equal(t, 1, r.Len())
}

func TestEnvelopeValidate(t *testing.T) {
	payload := json.RawMessage(`{"type":"offer","sdp":"x"}`)
	cases := []struct {
		name string
		env  Envelope
		ok   bool
	}{
		{"valid offer", Envelope{RoomID: "r", FromID: "a", ToID: "b", Kind: KindOffer, Payload: payload}, true},
		{"valid bye without payload", Envelope{RoomID: "r", FromID: "a", ToID: "b", Kind: KindBye}, true},
		{"missing room", Envelope{FromID: "a", ToID: "b", Kind: KindBye}, false},
		{"missing target", Envelope{RoomID: "r", FromID: "a", Kind: KindBye}, false},
		{"self addressed", Envelope{RoomID: "r", FromID: "a", ToID: "a", Kind: KindBye}, false},
		{"unknown kind", Envelope{RoomID: "r", FromID: "a", ToID: "b", Kind: "hello"}, false},
		{"candidate without payload", Envelope{RoomID: "r", FromID: "a", ToID: "b", Kind: KindCandidate}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.env.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	_, err := ParseEnvelope([]byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestByeLeaving(t *testing.T) {
	bye := Envelope{RoomID: "r", FromID: "a", ToID: "b", Kind: KindBye, SessionID: "s"}
	assert.False(t, bye.Leaving())
	bye.Payload = ByeLeaving
	assert.True(t, bye.Leaving())
	require.NoError(t, bye.Validate())

	offer := Envelope{Kind: KindOffer, Payload: ByeLeaving}
	assert.False(t, offer.Leaving())
}

func TestChatMessageOrdering(t *testing.T) {
	a := ChatMessage{ID: "1", SenderID: "a", Timestamp: 10}
	b := ChatMessage{ID: "2", SenderID: "b", Timestamp: 10}
	c := ChatMessage{ID: "3", SenderID: "a", Timestamp: 11}
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c))
}

func TestNewChatMessageValidation(t *testing.T) {
	_, err := NewChatMessage("a", "   ", 1)
	assert.ErrorIs(t, err, ErrChatContentEmpty)
	_, err = NewChatMessage("a", strings.Repeat("x", MaxChatContentLen+1), 1)
	assert.ErrorIs(t, err, ErrChatContentTooLong)
	msg, err := NewChatMessage("a", " hi ", 5)
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.True(t, msg.Local)
}

func TestOpErrorUnwrap(t *testing.T) {
	err := NewOpError("send", "b", ErrChannelNotReady)
	assert.True(t, errors.Is(err, ErrChannelNotReady))
	assert.Equal(t, "send b: channel not ready", err.Error())
}
