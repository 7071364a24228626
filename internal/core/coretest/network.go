// Package coretest provides an in-process fake of core.PeerConnection. Fake peers are linked through a
// Network: once both sides of a pair hold matching local and remote descriptions the transport reports
// connected and data channels created by the offerer appear on the answerer.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	ErrClosed         = errors.New("fake peer closed")
	ErrNoRemote       = errors.New("remote description not set")
	ErrSignalingState = errors.New("invalid signaling state")
	ErrInjected       = errors.New("injected failure")
)

type pairKey struct{ self, remote domain.MemberID }

// Network links fake peers by (self, remote) pair. The latest peer created for a pair is current.
type Network struct {
	mu      sync.Mutex
	seq     int
	current map[pairKey]*Peer
	created map[pairKey]int
	failSRD map[pairKey]int
}

func NewNetwork() *Network {
	return &Network{
		current: make(map[pairKey]*Peer),
		created: make(map[pairKey]int),
		failSRD: make(map[pairKey]int),
	}
}

// Connect is a core.PeerFactory producing linked fake peers.
func (n *Network) Connect(self, remote domain.MemberID) (core.PeerConnection, error) {
	return n.NewPeer(self, remote), nil
}

func (n *Network) NewPeer(self, remote domain.MemberID) *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	k := pairKey{self, remote}
	p := &Peer{net: n, self: self, remote: remote, id: n.seq}
	n.current[k] = p
	n.created[k]++
	return p
}

// Current returns the latest peer self created towards remote.
func (n *Network) Current(self, remote domain.MemberID) *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current[pairKey{self, remote}]
}

// Created counts the peers self created towards remote.
func (n *Network) Created(self, remote domain.MemberID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.created[pairKey{self, remote}]
}

// FailRemoteDescription makes the next count SetRemoteDescription calls of self towards remote fail.
func (n *Network) FailRemoteDescription(self, remote domain.MemberID, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failSRD[pairKey{self, remote}] = count
}

func (n *Network) takeFailure(self, remote domain.MemberID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	k := pairKey{self, remote}
	if n.failSRD[k] > 0 {
		n.failSRD[k]--
		return true
	}
	return false
}

// Drop reports a transient transport loss on both current peers of the pair.
func (n *Network) Drop(a, b domain.MemberID) {
	for _, p := range []*Peer{n.Current(a, b), n.Current(b, a)} {
		if p != nil {
			p.emitState(core.TransportDisconnected)
		}
	}
}

// Restore reports recovered connectivity on both current peers of the pair.
func (n *Network) Restore(a, b domain.MemberID) {
	for _, p := range []*Peer{n.Current(a, b), n.Current(b, a)} {
		if p != nil {
			p.emitState(core.TransportConnected)
		}
	}
}

func (n *Network) counterpart(p *Peer) *Peer { return n.Current(p.remote, p.self) }

// tryConnect marks both peers connected once their descriptions mirror each other.
func (n *Network) tryConnect(p *Peer) {
	cp := n.counterpart(p)
	if cp == nil {
		return
	}
	first, second := p, cp
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	ready := p.mirrors(cp) && cp.mirrors(p)
	var offerer, answerer *Peer
	if ready {
		if p.local.Type == webrtc.SDPTypeOffer {
			offerer, answerer = p, cp
		} else {
			offerer, answerer = cp, p
		}
	}
	var fresh [][2]*Channel
	newlyUp := ready && !(p.up && cp.up)
	if ready {
		p.up, cp.up = true, true
		for _, ch := range offerer.channels {
			if ch.peer != nil {
				continue
			}
			mirror := newChannel(ch.label)
			ch.peer, mirror.peer = mirror, ch
			answerer.channels = append(answerer.channels, mirror)
			fresh = append(fresh, [2]*Channel{ch, mirror})
		}
	}
	var onDC func(core.DataChannel)
	if ready {
		onDC = answerer.onDC
	}
	second.mu.Unlock()
	first.mu.Unlock()

	if !ready {
		return
	}
	for _, pair := range fresh {
		if onDC != nil {
			onDC(pair[1])
		}
		pair[0].open()
		pair[1].open()
	}
	if newlyUp {
		p.emitState(core.TransportConnected)
		cp.emitState(core.TransportConnected)
	}
}

// Peer is a fake core.PeerConnection.
type Peer struct {
	net    *Network
	self   domain.MemberID
	remote domain.MemberID
	id     int

	mu            sync.Mutex
	local         *webrtc.SessionDescription
	remoteDesc    *webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit
	senders       []*Sender
	channels      []*Channel
	remoteTracks  []RemoteTrack
	offers        int
	answers       int
	answeredLocal string
	closed        bool
	up            bool

	onDC    func(core.DataChannel)
	onICE   func(webrtc.ICECandidateInit)
	onState func(core.TransportState)
}

// RemoteTrack describes a track the counterpart had attached when its description was applied here.
type RemoteTrack struct {
	ID   string
	Kind webrtc.RTPCodecType
}

func (p *Peer) ID() int { return p.id }

func (p *Peer) mirrors(o *Peer) bool {
	return p.local != nil && p.remoteDesc != nil && o.local != nil && o.remoteDesc != nil &&
		p.remoteDesc.SDP == o.local.SDP && !p.closed && !o.closed
}

func (p *Peer) describe(kind string, n int) string {
	ids := make([]string, 0, len(p.senders))
	for _, s := range p.senders {
		if t := s.Track(); t != nil {
			ids = append(ids, t.Kind().String()+":"+t.ID())
		}
	}
	return fmt.Sprintf("fake %s peer=%d n=%d from=%s tracks=%s", kind, p.id, n, p.self, strings.Join(ids, ","))
}

func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return webrtc.SessionDescription{}, ErrClosed
	}
	p.offers++
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.describe("offer", p.offers)}
	p.local = &desc
	p.mu.Unlock()
	p.gather()
	return desc, nil
}

func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return webrtc.SessionDescription{}, ErrClosed
	}
	if p.remoteDesc == nil || p.remoteDesc.Type != webrtc.SDPTypeOffer {
		p.mu.Unlock()
		return webrtc.SessionDescription{}, ErrSignalingState
	}
	p.answers++
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.describe("answer", p.answers)}
	p.local = &desc
	p.mu.Unlock()
	p.gather()
	p.net.tryConnect(p)
	return desc, nil
}

func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if p.net.takeFailure(p.self, p.remote) {
		return ErrInjected
	}
	cp := p.net.counterpart(p)
	var tracks []RemoteTrack
	if cp != nil {
		tracks = cp.Tracks()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if desc.Type == webrtc.SDPTypeAnswer {
		if p.local == nil || p.local.Type != webrtc.SDPTypeOffer || p.answeredLocal == p.local.SDP {
			p.mu.Unlock()
			return ErrSignalingState
		}
		p.answeredLocal = p.local.SDP
	}
	d := desc
	p.remoteDesc = &d
	p.remoteTracks = tracks
	p.mu.Unlock()
	p.net.tryConnect(p)
	return nil
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.remoteDesc == nil {
		return ErrNoRemote
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *Peer) AddTrack(t webrtc.TrackLocal) (core.TrackSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	s := &Sender{track: t}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *Peer) RemoveTrack(ts core.TrackSender) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.senders {
		if core.TrackSender(s) == ts {
			p.senders = append(p.senders[:i], p.senders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("sender not found")
}

func (p *Peer) CreateDataChannel(label string) (core.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	ch := newChannel(label)
	p.channels = append(p.channels, ch)
	return ch, nil
}

func (p *Peer) OnDataChannel(fn func(core.DataChannel)) {
	p.mu.Lock()
	p.onDC = fn
	p.mu.Unlock()
}

func (p *Peer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onICE = fn
	p.mu.Unlock()
}

func (p *Peer) OnTransportStateChange(fn func(core.TransportState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

// OnTrack is accepted but never fired: fake peers carry no media.
func (p *Peer) OnTrack(func(ctx context.Context, track *webrtc.TrackRemote)) {}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	channels := append([]*Channel(nil), p.channels...)
	p.mu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
	}
	p.emitState(core.TransportClosed)
	return nil
}

func (p *Peer) gather() {
	p.mu.Lock()
	fn := p.onICE
	cand := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 2130706431 10.0.0.%d %d typ host", p.id, p.id%250+1, 40000+p.offers+p.answers)}
	p.mu.Unlock()
	if fn != nil {
		go fn(cand)
	}
}

func (p *Peer) emitState(s core.TransportState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		go fn(s)
	}
}

// Candidates returns the remote candidates applied so far, in order.
func (p *Peer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

// Tracks lists the local tracks currently attached.
func (p *Peer) Tracks() []RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RemoteTrack, 0, len(p.senders))
	for _, s := range p.senders {
		if t := s.Track(); t != nil {
			out = append(out, RemoteTrack{ID: t.ID(), Kind: t.Kind()})
		}
	}
	return out
}

// RemoteTracks lists the counterpart's tracks as of the last applied remote description.
func (p *Peer) RemoteTracks() []RemoteTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RemoteTrack(nil), p.remoteTracks...)
}

func (p *Peer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Sender is a fake core.TrackSender.
type Sender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *Sender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	return nil
}
