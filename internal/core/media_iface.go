package core

import (
	"context"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// TransportState is the network-layer connectivity of a peer connection.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// PeerConnection is the capability a peer session drives. Callbacks may fire on any goroutine.
type PeerConnection interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and sets it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	AddTrack(webrtc.TrackLocal) (TrackSender, error)
	RemoveTrack(TrackSender) error
	CreateDataChannel(label string) (DataChannel, error)

	OnDataChannel(func(DataChannel))
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTransportStateChange(func(TransportState))
	// OnTrack is invoked for every remote track; ctx ends when the connection closes.
	OnTrack(func(ctx context.Context, track *webrtc.TrackRemote))

	Close() error
}

// TrackSender is the sending side of one attached local track. *webrtc.RTPSender satisfies it.
type TrackSender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}

// DataChannel is a message channel layered on a peer connection.
type DataChannel interface {
	Label() string
	IsOpen() bool
	Send([]byte) error
	OnOpen(func())
	OnClose(func())
	OnMessage(func([]byte))
	Close() error
}

// PeerFactory builds a fresh PeerConnection from self towards a remote member.
type PeerFactory func(self, remote domain.MemberID) (PeerConnection, error)
