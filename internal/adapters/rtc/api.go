// Package rtc adapts pion/webrtc peer connections to the core.PeerConnection capability.
package rtc

import (
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	ICEServers []string
	TURNURL    string
	TURNUser   string
	TURNPass   string
	// PortMin and PortMax bound the ephemeral UDP range when both are set.
	PortMin uint16
	PortMax uint16
	// Loopback allows host candidates on loopback interfaces (single-host meshes and tests).
	Loopback bool
}

func DefaultConfig() Config {
	return Config{ICEServers: []string{"stun:stun.l.google.com:19302"}}
}

// Configuration converts Config to the pion peer connection configuration.
func (c Config) Configuration() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(c.ICEServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.ICEServers})
	}
	if c.TURNURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.TURNURL},
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// NewAPI builds a pion API with the default codecs, the default interceptors and a periodic PLI sender for
// received video.
func NewAPI(c Config) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	registry.Add(pli)

	se := webrtc.SettingEngine{}
	if c.PortMin > 0 && c.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(c.PortMin, c.PortMax); err != nil {
			return nil, fmt.Errorf("set udp port range: %w", err)
		}
	}
	if c.Loopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// Factory returns a core.PeerFactory creating pion connections from one shared API.
func Factory(c Config) (core.PeerFactory, error) {
	api, err := NewAPI(c)
	if err != nil {
		return nil, err
	}
	conf := c.Configuration()
	return func(self, remote domain.MemberID) (core.PeerConnection, error) {
		return NewConnection(api, conf, self, remote)
	}, nil
}
