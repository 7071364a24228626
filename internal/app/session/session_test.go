package session_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/core/coretest"
	"github.com/dkeye/Mesh/internal/core/mocks"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// loop runs posted functions one at a time, like an orchestrator does.
type loop struct {
	ch   chan func()
	done chan struct{}
}

func newLoop(t *testing.T) *loop {
	l := &loop{ch: make(chan func(), 256), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-l.ch:
				fn()
			case <-l.done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(l.done) })
	return l
}

func (l *loop) post(fn func()) bool {
	select {
	case l.ch <- fn:
		return true
	case <-l.done:
		return false
	}
}

func (l *loop) do(fn func()) {
	wait := make(chan struct{})
	l.post(func() {
		fn()
		close(wait)
	})
	<-wait
}

type side struct {
	id     domain.MemberID
	loop   *loop
	sess   *session.Session
	mu     sync.Mutex
	states []session.State
	reason error
	closed bool
	dc     core.DataChannel
	inbox  [][]byte
}

func (s *side) snapshot() (states []session.State, closed bool, reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.State(nil), s.states...), s.closed, s.reason
}

func (s *side) state() session.State {
	var st session.State
	s.loop.do(func() { st = s.sess.State() })
	return st
}

// harness links two sessions through the fake network and an in-process signal wire.
type harness struct {
	t      *testing.T
	net    *coretest.Network
	sides  map[domain.MemberID]*side
	cfg    session.Config
	mu     sync.Mutex
	filter func(env domain.Envelope) int
}

func newHarness(t *testing.T, cfg session.Config) *harness {
	return &harness{t: t, net: coretest.NewNetwork(), sides: make(map[domain.MemberID]*side), cfg: cfg}
}

// copies returns how many times env is delivered; 1 by default.
func (h *harness) copies(env domain.Envelope) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.filter == nil {
		return 1
	}
	return h.filter(env)
}

func (h *harness) setFilter(fn func(env domain.Envelope) int) {
	h.mu.Lock()
	h.filter = fn
	h.mu.Unlock()
}

func (h *harness) deliver(_ context.Context, env domain.Envelope) error {
	to, ok := h.sides[env.ToID]
	if !ok {
		return domain.ErrSignalingDeliveryFailure
	}
	for i := 0; i < h.copies(env); i++ {
		to.loop.post(func() { dispatch(to.sess, env) })
	}
	return nil
}

func dispatch(s *session.Session, env domain.Envelope) {
	switch env.Kind {
	case domain.KindOffer:
		s.HandleOffer(env)
	case domain.KindAnswer:
		s.HandleAnswer(env)
	case domain.KindCandidate:
		s.HandleCandidate(env)
	case domain.KindRenegotiate:
		s.HandleRenegotiate(env)
	case domain.KindBye:
		if env.SessionID == s.SessionID() {
			s.Close(nil)
		}
	}
}

type wire struct {
	core.Outbox
}

func (wire) LeaveRoom(context.Context) error { return nil }

func (w wire) Self() domain.MemberID { return w.Outbox.Self }

func (w wire) Room() domain.RoomID { return w.RoomID }

func (h *harness) add(id, remote domain.MemberID) *side {
	s := &side{id: id, loop: newLoop(h.t)}
	sig := wire{core.Outbox{RoomID: "r1", Self: id, Deliver: h.deliver}}
	sess, err := session.New(session.Params{
		Self:   id,
		Remote: remote,
		Signal: sig,
		PC:     h.net.NewPeer(id, remote),
		Config: h.cfg,
		Post:   s.loop.post,
		Hooks: session.Hooks{
			OnStateChange: func(_ *session.Session, _, to session.State) {
				s.mu.Lock()
				s.states = append(s.states, to)
				s.mu.Unlock()
			},
			OnClosed: func(_ *session.Session, reason error) {
				s.mu.Lock()
				s.closed, s.reason = true, reason
				s.mu.Unlock()
			},
			OnDataChannel: func(_ *session.Session, dc core.DataChannel) {
				dc.OnMessage(func(b []byte) {
					s.mu.Lock()
					s.inbox = append(s.inbox, b)
					s.mu.Unlock()
				})
				s.mu.Lock()
				s.dc = dc
				s.mu.Unlock()
			},
		},
	})
	require.NoError(h.t, err)
	s.sess = sess
	h.sides[id] = s
	return s
}

func (h *harness) pair() (a, b *side) {
	return h.add("a", "b"), h.add("b", "a")
}

func (h *harness) start(s *side, tracks ...webrtc.TrackLocal) {
	s.loop.do(func() { require.NoError(h.t, s.sess.Start(tracks)) })
}

func (h *harness) waitState(s *side, want session.State) {
	require.Eventually(h.t, func() bool { return s.state() == want }, waitFor, tick, "%s never reached %s", s.id, want)
}

func newTrack(t *testing.T, kind webrtc.RTPCodecType, id string) *webrtc.TrackLocalStaticRTP {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, id, "stream-"+id)
	require.NoError(t, err)
	return track
}

func fastConfig() session.Config {
	return session.Config{NegotiationTimeout: time.Second, GracePeriod: time.Second}
}

func TestRoleFor(t *testing.T) {
	cases := []struct {
		self, remote domain.MemberID
		want         session.Role
	}{
		{"a", "b", session.Offerer},
		{"b", "a", session.Answerer},
		{"alice", "alicia", session.Offerer},
		{"B", "a", session.Offerer},
	}
	for _, tc := range cases {
		t.Run(string(tc.self)+"-"+string(tc.remote), func(t *testing.T) {
			assert.Equal(t, tc.want, session.RoleFor(tc.self, tc.remote))
			assert.NotEqual(t, session.RoleFor(tc.self, tc.remote), session.RoleFor(tc.remote, tc.self))
		})
	}
}

func TestHandshakeReachesConnected(t *testing.T) {
	h := newHarness(t, fastConfig())
	a, b := h.pair()
	h.start(b)
	h.start(a, newTrack(t, webrtc.RTPCodecTypeAudio, "a-mic"))

	h.waitState(a, session.StateConnected)
	h.waitState(b, session.StateConnected)

	statesA, _, _ := a.snapshot()
	assert.Equal(t, []session.State{session.StateNegotiating, session.StateConnected}, statesA[:2])
	assert.Equal(t, session.Offerer, a.sess.Role())
	assert.Equal(t, a.sess.SessionID(), b.sess.SessionID())

	peerB := h.net.Current("b", "a")
	require.Eventually(t, func() bool { return len(peerB.Candidates()) == 1 }, waitFor, tick)
	assert.Equal(t, []coretest.RemoteTrack{{ID: "a-mic", Kind: webrtc.RTPCodecTypeAudio}}, peerB.RemoteTracks())
}

func candidateEnv(sid, from, to string, cand string) domain.Envelope {
	raw, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: cand})
	return domain.Envelope{
		RoomID: "r1", FromID: domain.MemberID(from), ToID: domain.MemberID(to),
		Kind: domain.KindCandidate, SessionID: sid, Payload: raw,
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, fastConfig())
	a, b := h.pair()
	h.start(b)

	early := candidateEnv(a.sess.SessionID(), "a", "b", "candidate:early 1 udp 1 10.1.1.1 5000 typ host")
	b.loop.do(func() {
		b.sess.HandleCandidate(early)
		b.sess.HandleCandidate(early)
		assert.Equal(t, 1, b.sess.Buffered())
	})
	assert.Empty(t, h.net.Current("b", "a").Candidates())

	h.start(a)
	h.waitState(b, session.StateConnected)

	b.loop.do(func() { assert.Zero(t, b.sess.Buffered()) })
	var applied []string
	for _, c := range h.net.Current("b", "a").Candidates() {
		applied = append(applied, c.Candidate)
	}
	assert.Equal(t, "candidate:early 1 udp 1 10.1.1.1 5000 typ host", applied[0])
	assert.NotContains(t, applied[1:], applied[0])
}

func TestCandidateOrderIndependence(t *testing.T) {
	cands := []string{
		"candidate:1 1 udp 1 10.0.0.1 1000 typ host",
		"candidate:2 1 udp 1 10.0.0.2 1000 typ host",
		"candidate:3 1 udp 1 10.0.0.3 1000 typ host",
	}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}}
	for _, order := range orders {
		h := newHarness(t, fastConfig())
		a, b := h.pair()
		h.start(b)
		h.start(a)
		h.waitState(b, session.StateConnected)
		b.loop.do(func() {
			for _, i := range order {
				b.sess.HandleCandidate(candidateEnv(a.sess.SessionID(), "a", "b", cands[i]))
			}
		})
		got := map[string]bool{}
		for _, c := range h.net.Current("b", "a").Candidates() {
			got[c.Candidate] = true
		}
		for _, c := range cands {
			assert.True(t, got[c])
		}
		assert.Equal(t, session.StateConnected, b.state())
	}
}

func TestDuplicateAnswerIsIgnored(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.setFilter(func(env domain.Envelope) int {
		if env.Kind == domain.KindAnswer {
			return 2
		}
		return 1
	})
	a, b := h.pair()
	h.start(b)
	h.start(a)
	h.waitState(a, session.StateConnected)
	h.waitState(b, session.StateConnected)

	time.Sleep(50 * time.Millisecond)
	_, closed, _ := a.snapshot()
	assert.False(t, closed)
	assert.Equal(t, 1, h.net.Current("a", "b").Offers())
}

func TestDuplicateOfferIsReanswered(t *testing.T) {
	ctrl := gomock.NewController(t)
	sig := mocks.NewMockRoomSignal(ctrl)
	l := newLoop(t)
	net := coretest.NewNetwork()

	sess, err := session.New(session.Params{
		Self: "b", Remote: "a", Signal: sig, PC: net.NewPeer("b", "a"), Config: fastConfig(), Post: l.post,
	})
	require.NoError(t, err)

	raw, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"})
	offer := domain.Envelope{RoomID: "r1", FromID: "a", ToID: "b", Kind: domain.KindOffer, SessionID: "s-1", Payload: raw}

	sig.EXPECT().SendAnswer(gomock.Any(), domain.MemberID("a"), "s-1", gomock.Any()).Times(2)
	sig.EXPECT().SendICECandidate(gomock.Any(), domain.MemberID("a"), "s-1", gomock.Any()).AnyTimes()

	l.do(func() {
		require.NoError(t, sess.Start(nil))
		sess.HandleOffer(offer)
		sess.HandleOffer(offer)
		assert.Equal(t, session.StateConnected, sess.State())
		assert.Equal(t, "s-1", sess.SessionID())
	})
	l.do(func() { sess.Close(nil) })
}

func TestClosedSessionDiscardsLateEnvelopes(t *testing.T) {
	ctrl := gomock.NewController(t)
	sig := mocks.NewMockRoomSignal(ctrl)
	l := newLoop(t)

	sess, err := session.New(session.Params{
		Self: "b", Remote: "a", Signal: sig, PC: coretest.NewNetwork().NewPeer("b", "a"), Config: fastConfig(), Post: l.post,
	})
	require.NoError(t, err)

	raw, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"})
	l.do(func() {
		sess.Close(nil)
		sess.Close(nil)
		sess.HandleOffer(domain.Envelope{RoomID: "r1", FromID: "a", ToID: "b", Kind: domain.KindOffer, SessionID: "s-1", Payload: raw})
		assert.Equal(t, session.StateClosed, sess.State())
		assert.ErrorIs(t, sess.Send([]byte("x")), domain.ErrChannelNotReady)
	})
}

func TestMalformedOfferLeavesSessionUntouched(t *testing.T) {
	ctrl := gomock.NewController(t)
	sig := mocks.NewMockRoomSignal(ctrl)
	l := newLoop(t)

	sess, err := session.New(session.Params{
		Self: "b", Remote: "a", Signal: sig, PC: coretest.NewNetwork().NewPeer("b", "a"), Config: fastConfig(), Post: l.post,
	})
	require.NoError(t, err)
	l.do(func() {
		require.NoError(t, sess.Start(nil))
		sess.HandleOffer(domain.Envelope{RoomID: "r1", FromID: "a", ToID: "b", Kind: domain.KindOffer, SessionID: "s", Payload: []byte(`{"type":"answer","sdp":"x"}`)})
		sess.HandleCandidate(domain.Envelope{RoomID: "r1", FromID: "a", ToID: "b", Kind: domain.KindCandidate, SessionID: "s", Payload: []byte(`[]`)})
		assert.Equal(t, session.StateNegotiating, sess.State())
		assert.Zero(t, sess.Buffered())
		sess.Close(nil)
	})
}

func TestNegotiationTimeoutClosesSession(t *testing.T) {
	h := newHarness(t, session.Config{NegotiationTimeout: 60 * time.Millisecond, GracePeriod: time.Second})
	h.setFilter(func(env domain.Envelope) int {
		if env.Kind == domain.KindOffer {
			return 0
		}
		return 1
	})
	a, _ := h.pair()
	h.start(a)

	require.Eventually(t, func() bool {
		_, closed, _ := a.snapshot()
		return closed
	}, waitFor, tick)
	_, _, reason := a.snapshot()
	assert.ErrorIs(t, reason, domain.ErrNegotiationTimeout)
}

func TestDescriptionFailureClosesBothSides(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.net.FailRemoteDescription("b", "a", 1)
	a, b := h.pair()
	h.start(b)
	h.start(a)

	require.Eventually(t, func() bool {
		_, closedA, _ := a.snapshot()
		_, closedB, _ := b.snapshot()
		return closedA && closedB
	}, waitFor, tick)
	_, _, reasonB := b.snapshot()
	_, _, reasonA := a.snapshot()
	assert.ErrorIs(t, reasonB, domain.ErrDescriptionRejected)
	assert.NoError(t, reasonA)
}

func TestGracePeriodClosesLostPeer(t *testing.T) {
	h := newHarness(t, session.Config{NegotiationTimeout: time.Second, GracePeriod: 80 * time.Millisecond})
	a, b := h.pair()
	h.start(b)
	h.start(a)
	h.waitState(a, session.StateConnected)
	h.waitState(b, session.StateConnected)

	h.net.Drop("a", "b")
	h.waitState(a, session.StateDisconnected)

	require.Eventually(t, func() bool {
		_, closed, _ := a.snapshot()
		return closed
	}, waitFor, tick)
	states, _, reason := a.snapshot()
	assert.ErrorIs(t, reason, domain.ErrPeerLost)
	assert.Equal(t, session.StateClosed, states[len(states)-1])
	assert.Equal(t, session.StateDisconnected, states[len(states)-2])
}

func TestTransientDropRecovers(t *testing.T) {
	h := newHarness(t, session.Config{NegotiationTimeout: time.Second, GracePeriod: 300 * time.Millisecond})
	a, b := h.pair()
	h.start(b)
	h.start(a)
	h.waitState(a, session.StateConnected)

	h.net.Drop("a", "b")
	h.waitState(a, session.StateDisconnected)
	h.net.Restore("a", "b")
	h.waitState(a, session.StateConnected)

	time.Sleep(400 * time.Millisecond)
	_, closed, _ := a.snapshot()
	assert.False(t, closed)
	assert.Equal(t, session.StateConnected, a.state())
}

func TestOffererRenegotiatesOnTrackReplacement(t *testing.T) {
	h := newHarness(t, fastConfig())
	a, b := h.pair()
	camera := newTrack(t, webrtc.RTPCodecTypeVideo, "a-camera")
	screen := newTrack(t, webrtc.RTPCodecTypeVideo, "a-screen")
	h.start(b)
	h.start(a, camera)
	h.waitState(b, session.StateConnected)
	h.waitState(a, session.StateConnected)

	a.loop.do(func() { require.NoError(t, a.sess.SetTrack(webrtc.RTPCodecTypeVideo, screen)) })

	peerB := h.net.Current("b", "a")
	require.Eventually(t, func() bool {
		rt := peerB.RemoteTracks()
		return len(rt) == 1 && rt[0].ID == "a-screen"
	}, waitFor, tick)
	h.waitState(a, session.StateConnected)
	h.waitState(b, session.StateConnected)

	statesA, _, _ := a.snapshot()
	assert.Contains(t, statesA, session.StateRenegotiating)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, peerB.RemoteTracks()[0].Kind)
	assert.Equal(t, 2, h.net.Current("a", "b").Offers())
	a.loop.do(func() { assert.Equal(t, webrtc.TrackLocal(screen), a.sess.Track(webrtc.RTPCodecTypeVideo)) })
}

func TestAnswererAsksForRenegotiation(t *testing.T) {
	h := newHarness(t, fastConfig())
	a, b := h.pair()
	h.start(b)
	h.start(a)
	h.waitState(a, session.StateConnected)
	h.waitState(b, session.StateConnected)

	screen := newTrack(t, webrtc.RTPCodecTypeVideo, "b-screen")
	b.loop.do(func() { require.NoError(t, b.sess.SetTrack(webrtc.RTPCodecTypeVideo, screen)) })

	peerA := h.net.Current("a", "b")
	require.Eventually(t, func() bool {
		rt := peerA.RemoteTracks()
		return len(rt) == 1 && rt[0].ID == "b-screen"
	}, waitFor, tick)
	h.waitState(b, session.StateConnected)
	statesB, _, _ := b.snapshot()
	assert.Contains(t, statesB, session.StateRenegotiating)
	assert.Equal(t, 2, peerA.Offers())
}

func TestSendNeedsOpenChannel(t *testing.T) {
	h := newHarness(t, fastConfig())
	a, b := h.pair()
	a.loop.do(func() {
		assert.ErrorIs(t, a.sess.Send([]byte("early")), domain.ErrChannelNotReady)
	})
	h.start(b)
	h.start(a)
	h.waitState(a, session.StateConnected)
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.dc != nil && b.dc.IsOpen()
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		var err error
		a.loop.do(func() { err = a.sess.Send([]byte("hello")) })
		return err == nil
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.inbox) == 1 && string(b.inbox[0]) == "hello"
	}, waitFor, tick)
	assert.Equal(t, session.ChatLabel, b.dc.Label())
}
