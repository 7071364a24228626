package chat

import (
	"math/rand"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPeer struct {
	id   domain.MemberID
	err  error
	sent [][]byte
}

func (p *stubPeer) Remote() domain.MemberID { return p.id }

func (p *stubPeer) Send(data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, data)
	return nil
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func TestSendBroadcastsToOpenChannels(t *testing.T) {
	a := NewAdapter("a", JSONCodec{}, WithClock(fixedClock(1000)))
	open := &stubPeer{id: "b"}
	closed := &stubPeer{id: "c", err: domain.ErrChannelNotReady}

	msg, err := a.Send("  hello  ", []Peer{open, closed})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
	assert.True(t, msg.Local)
	assert.Len(t, open.sent, 1)
	assert.Equal(t, 1, a.Log().Len())
}

func TestSendWithoutOpenChannelFails(t *testing.T) {
	a := NewAdapter("a", nil)
	_, err := a.Send("hello", []Peer{&stubPeer{id: "b", err: domain.ErrChannelNotReady}})
	assert.ErrorIs(t, err, domain.ErrChannelNotReady)
	_, err = a.Send("hello", nil)
	assert.ErrorIs(t, err, domain.ErrChannelNotReady)
	assert.Zero(t, a.Log().Len())

	_, err = a.Send("   ", []Peer{&stubPeer{id: "b"}})
	assert.ErrorIs(t, err, domain.ErrChatContentEmpty)
}

func TestTimestampsMonotonicPerSender(t *testing.T) {
	a := NewAdapter("a", nil, WithClock(fixedClock(5000)))
	p := &stubPeer{id: "b"}
	first, err := a.Send("one", []Peer{p})
	require.NoError(t, err)
	second, err := a.Send("two", []Peer{p})
	require.NoError(t, err)
	assert.Greater(t, second.Timestamp, first.Timestamp)
}

func TestReceiveDropsBadInput(t *testing.T) {
	sender := NewAdapter("b", nil, WithClock(fixedClock(10)))
	p := &stubPeer{id: "a"}
	_, err := sender.Send("hi", []Peer{p})
	require.NoError(t, err)

	cases := []struct {
		name string
		from domain.MemberID
		data []byte
	}{
		{"garbage", "b", []byte("{nope")},
		{"missing id", "b", []byte(`{"content":"x","senderId":"b","timestamp":1}`)},
		{"empty content", "b", []byte(`{"id":"1","content":"","senderId":"b","timestamp":1}`)},
		{"forged sender", "c", p.sent[0]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAdapter("a", nil)
			_, ok := a.Receive(tc.from, tc.data)
			assert.False(t, ok)
			assert.Zero(t, a.Log().Len())
		})
	}

	a := NewAdapter("a", nil)
	msg, ok := a.Receive("b", p.sent[0])
	require.True(t, ok)
	assert.False(t, msg.Local)
	assert.Equal(t, "hi", msg.Content)
	_, ok = a.Receive("b", p.sent[0])
	assert.False(t, ok, "replayed message must be deduplicated")
	assert.Equal(t, 1, a.Log().Len())
}

func TestMsgpackCodecCarriesMessages(t *testing.T) {
	codec, err := CodecByName("msgpack")
	require.NoError(t, err)
	sender := NewAdapter("b", codec, WithClock(fixedClock(42)))
	p := &stubPeer{id: "a"}
	sent, err := sender.Send("packed", []Peer{p})
	require.NoError(t, err)

	recv := NewAdapter("a", codec)
	got, ok := recv.Receive("b", p.sent[0])
	require.True(t, ok)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, int64(42), got.Timestamp)

	_, ok = NewAdapter("a", JSONCodec{}).Receive("b", p.sent[0])
	assert.False(t, ok)

	_, err = CodecByName("xml")
	assert.Error(t, err)
}

func TestLogMergesInterleavedSenders(t *testing.T) {
	var all []domain.ChatMessage
	for _, sender := range []domain.MemberID{"a", "b", "c"} {
		for i := 0; i < 20; i++ {
			all = append(all, domain.ChatMessage{
				ID:        string(sender) + "-" + string(rune('a'+i)),
				Content:   "x",
				SenderID:  sender,
				Timestamp: int64(100 + i*3 + rand.Intn(3)),
			})
		}
	}
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 5; round++ {
		rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		l := NewLog()
		for _, m := range all {
			assert.True(t, l.Insert(m))
			assert.False(t, l.Insert(m))
		}
		got := l.Messages()
		require.Len(t, got, len(all))
		for i := 1; i < len(got); i++ {
			prev, cur := got[i-1], got[i]
			ordered := prev.Timestamp < cur.Timestamp ||
				(prev.Timestamp == cur.Timestamp && prev.SenderID <= cur.SenderID)
			assert.True(t, ordered, "%v before %v", prev, cur)
		}
	}
}
