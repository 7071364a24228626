package signal

import (
	"github.com/dkeye/Mesh/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleCreateRoom(sid core.SessionID, conn *WsSignalConn, f core.WireFrame) {
	info := ctl.Relay.Rooms.Create()
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(info.ID)).Msg("create room")
	ctl.sendJSON(conn, core.WireFrame{Type: core.FrameRoomCreated, Ref: f.Ref, Room: info.ID})
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, f core.WireFrame) {
	if f.Room == "" {
		ctl.sendJSON(conn, core.WireFrame{Type: core.FrameError, Ref: f.Ref, Error: "room is required", Code: core.CodeBadPayload})
		return
	}
	self, others, err := ctl.Relay.Join(sid, f.Room, f.Member, f.Name)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("room", string(f.Room)).Msg("join refused")
		ctl.sendJSON(conn, core.ErrorFrame(f.Ref, err))
		return
	}
	ctl.sendJSON(conn, core.WireFrame{Type: core.FrameJoined, Ref: f.Ref, Room: f.Room, Member: self, Members: others})
}

// handleLeave leaves the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID, conn *WsSignalConn, f core.WireFrame) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Relay.Leave(sid)
	if ctl.Limiter != nil {
		ctl.Limiter.Forget(sid)
	}
	ctl.sendJSON(conn, core.WireFrame{Type: core.FrameLeft, Ref: f.Ref})
}
