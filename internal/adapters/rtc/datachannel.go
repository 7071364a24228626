package rtc

import (
	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/webrtc/v4"
)

type dataChannel struct {
	dc *webrtc.DataChannel
}

func wrapChannel(dc *webrtc.DataChannel) core.DataChannel { return &dataChannel{dc: dc} }

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) IsOpen() bool { return d.dc.ReadyState() == webrtc.DataChannelStateOpen }

func (d *dataChannel) Send(data []byte) error { return d.dc.Send(data) }

func (d *dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *dataChannel) OnClose(fn func()) { d.dc.OnClose(fn) }

func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *dataChannel) Close() error { return d.dc.Close() }
