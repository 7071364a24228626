package signal

import (
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleEnvelope forwards a signaling envelope to its target. Failures are reported back to the sender only.
func (ctl *SignalWSController) handleEnvelope(sid core.SessionID, conn *WsSignalConn, f core.WireFrame) {
	if f.Envelope == nil {
		ctl.sendJSON(conn, core.ErrorFrame(f.Ref, fmt.Errorf("%w: missing envelope", domain.ErrMalformedEnvelope)))
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("rate limited")
		ctl.sendJSON(conn, core.WireFrame{Type: core.FrameError, Ref: f.Ref, Error: "too many signals", Code: core.CodeRateLimited})
		return
	}
	if err := ctl.Relay.Forward(sid, *f.Envelope); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).
			Str("kind", string(f.Envelope.Kind)).Str("to", string(f.Envelope.ToID)).Msg("signal not delivered")
		ctl.sendJSON(conn, core.ErrorFrame(f.Ref, err))
	}
}
