package main

import (
	"context"
	"testing"

	"github.com/dkeye/Mesh/internal/adapters/device"
	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommandWithoutRoom(t *testing.T) {
	mgr := media.NewManager(device.NewSynthetic())
	t.Cleanup(mgr.Stop)

	tests := []struct {
		name    string
		line    string
		quit    bool
		wantErr string
	}{
		{name: "blank", line: "   "},
		{name: "quit", line: "/quit", quit: true},
		{name: "exit alias", line: "/exit", quit: true},
		{name: "unknown", line: "/dance", wantErr: `unknown command "/dance"`},
		{name: "audio without track", line: "/audio", wantErr: "no audio track"},
		{name: "video without track", line: "/video", wantErr: "no video track"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			quit, err := runCommand(context.Background(), nil, mgr, tt.line)
			assert.Equal(t, tt.quit, quit)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestToggleCommands(t *testing.T) {
	mgr := media.NewManager(device.NewSynthetic())
	t.Cleanup(mgr.Stop)
	require.NoError(t, mgr.Acquire(context.Background(), media.Constraints{Audio: true}))

	_, err := runCommand(context.Background(), nil, mgr, "/audio")
	require.NoError(t, err)
	assert.False(t, mgr.Audio().Enabled())

	_, err = runCommand(context.Background(), nil, mgr, "/audio")
	require.NoError(t, err)
	assert.True(t, mgr.Audio().Enabled())
}

func TestRTCConfigFromPeer(t *testing.T) {
	c := rtcConfig(config.Peer{
		ICEServers: []string{"stun:a"},
		TURNURL:    "turn:b",
		TURNUser:   "u",
		TURNPass:   "p",
		Loopback:   true,
	})
	assert.Equal(t, []string{"stun:a"}, c.ICEServers)
	assert.Equal(t, "turn:b", c.TURNURL)
	assert.Equal(t, "u", c.TURNUser)
	assert.Equal(t, "p", c.TURNPass)
	assert.True(t, c.Loopback)
}
