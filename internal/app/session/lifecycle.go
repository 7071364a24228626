package session

import (
	"errors"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// onTransport maps network-layer connectivity onto connected and disconnected. A drop during a
// negotiation round is remembered and applied once the round completes.
func (s *Session) onTransport(ts core.TransportState) {
	switch ts {
	case core.TransportConnected:
		s.transportDown = false
		if s.state != StateDisconnected {
			return
		}
		s.disarmGraceTimer()
		s.setState(StateConnected)
		if s.needsRenego {
			s.renegotiate()
		}
	case core.TransportDisconnected, core.TransportFailed:
		s.transportDown = true
		if s.state == StateConnected {
			s.enterDisconnected()
		}
	}
}

func (s *Session) enterDisconnected() {
	s.setState(StateDisconnected)
	s.armGraceTimer()
}

func (s *Session) armNegotiationTimer() {
	s.disarmNegotiationTimer()
	s.negSeq++
	seq := s.negSeq
	s.negTimer = time.AfterFunc(s.cfg.NegotiationTimeout, func() {
		s.post(func() {
			if s.closed || seq != s.negSeq {
				return
			}
			if s.state == StateNegotiating || s.state == StateRenegotiating {
				s.logger.Warn().Str("sid", s.sid).Dur("timeout", s.cfg.NegotiationTimeout).Msg("negotiation timed out")
				s.fail(domain.ErrNegotiationTimeout)
			}
		})
	})
}

func (s *Session) disarmNegotiationTimer() {
	s.negSeq++
	if s.negTimer != nil {
		s.negTimer.Stop()
		s.negTimer = nil
	}
}

func (s *Session) armGraceTimer() {
	s.disarmGraceTimer()
	s.graceSeq++
	seq := s.graceSeq
	s.graceTime = time.AfterFunc(s.cfg.GracePeriod, func() {
		s.post(func() {
			if s.closed || seq != s.graceSeq || s.state != StateDisconnected {
				return
			}
			s.logger.Info().Str("sid", s.sid).Dur("grace", s.cfg.GracePeriod).Msg("grace period expired")
			s.Close(domain.ErrPeerLost)
		})
	})
}

func (s *Session) disarmGraceTimer() {
	s.graceSeq++
	if s.graceTime != nil {
		s.graceTime.Stop()
		s.graceTime = nil
	}
}

// fail closes the session after a negotiation failure and tells the remote to retire it.
func (s *Session) fail(reason error) {
	if s.closed {
		return
	}
	s.logger.Warn().Err(reason).Str("sid", s.sid).Str("state", s.state.String()).Msg("session failed")
	s.SendBye()
	s.Close(reason)
}

// SendBye tells the remote this session is being torn down.
func (s *Session) SendBye() {
	err := s.sig.SendMessage(s.ctx, domain.Envelope{ToID: s.remote, Kind: domain.KindBye, SessionID: s.sid})
	if err != nil && !errors.Is(err, domain.ErrSignalingDeliveryFailure) {
		s.logger.Warn().Err(err).Msg("send bye")
	}
}

// Close tears the session down. It is idempotent; completions arriving afterwards are discarded.
func (s *Session) Close(reason error) {
	if s.closed {
		return
	}
	s.disarmNegotiationTimer()
	s.disarmGraceTimer()
	s.setState(StateClosed)
	s.closed = true
	s.offerInFlight = false
	s.pending = nil
	s.tracks = make(map[webrtc.RTPCodecType]core.TrackSender)
	s.cancel()
	if err := s.pc.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close connection")
	}
	s.logger.Info().Str("sid", s.sid).AnErr("reason", reason).Msg("closed")
	if s.hooks.OnClosed != nil {
		s.hooks.OnClosed(s, reason)
	}
}
