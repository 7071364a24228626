package signal

import "github.com/dkeye/Mesh/internal/core"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn, f core.WireFrame) {
	ctl.sendJSON(conn, core.WireFrame{Type: core.FramePong, Ref: f.Ref})
}
