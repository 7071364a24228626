package session

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// negotiate produces a fresh local offer. Only the offerer calls it, and never with an offer in flight.
func (s *Session) negotiate() {
	if s.role != Offerer || s.closed {
		return
	}
	if s.offerInFlight {
		s.needsRenego = true
		return
	}
	switch s.state {
	case StateConnected:
		s.setState(StateRenegotiating)
	case StateNew:
		s.setState(StateNegotiating)
	}
	s.needsRenego = false
	s.armNegotiationTimer()

	offer, err := s.pc.CreateOffer()
	if err != nil {
		s.fail(fmt.Errorf("%w: create offer: %v", domain.ErrDescriptionRejected, err))
		return
	}
	s.offerInFlight = true
	if err := s.sig.SendOffer(s.ctx, s.remote, s.sid, offer); err != nil {
		// the negotiation timer rebuilds the session if the offer never lands
		s.logger.Warn().Err(err).Str("sid", s.sid).Msg("send offer")
	}
}

// HandleOffer applies a remote offer and answers it. Duplicate deliveries re-send the previous answer.
func (s *Session) HandleOffer(env domain.Envelope) {
	if s.closed {
		return
	}
	if s.role != Answerer {
		s.logger.Warn().Str("sid", env.SessionID).Err(domain.ErrUnexpectedEnvelopeForRole).Msg("offer dropped")
		return
	}
	if s.sid == "" {
		s.sid = env.SessionID
	}
	if env.SessionID != s.sid {
		s.logger.Debug().Str("sid", env.SessionID).Str("current_sid", s.sid).Msg("stale offer dropped")
		return
	}
	desc, err := core.DescriptionOf(env)
	if err != nil {
		s.logger.Warn().Err(err).Msg("offer dropped")
		return
	}
	if desc.SDP == s.lastOffer && s.lastAnswer != nil {
		s.sendAnswer(*s.lastAnswer)
		return
	}

	switch s.state {
	case StateConnected, StateDisconnected:
		s.setState(StateRenegotiating)
		s.armNegotiationTimer()
	case StateNew:
		s.setState(StateNegotiating)
		s.armNegotiationTimer()
	}

	if err := s.pc.SetRemoteDescription(desc); err != nil {
		s.fail(fmt.Errorf("%w: set remote offer: %v", domain.ErrDescriptionRejected, err))
		return
	}
	s.remoteSet = true
	s.flushCandidates()

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		s.fail(fmt.Errorf("%w: create answer: %v", domain.ErrDescriptionRejected, err))
		return
	}
	s.lastOffer = desc.SDP
	s.lastAnswer = &answer
	s.sendAnswer(answer)
	s.established()
}

func (s *Session) sendAnswer(answer webrtc.SessionDescription) {
	if err := s.sig.SendAnswer(s.ctx, s.remote, s.sid, answer); err != nil {
		s.logger.Warn().Err(err).Str("sid", s.sid).Msg("send answer")
	}
}

// HandleAnswer applies the answer to the offer in flight. Answers with no offer in flight are duplicates.
func (s *Session) HandleAnswer(env domain.Envelope) {
	if s.closed {
		return
	}
	if s.role != Offerer {
		s.logger.Warn().Str("sid", env.SessionID).Err(domain.ErrUnexpectedEnvelopeForRole).Msg("answer dropped")
		return
	}
	if env.SessionID != s.sid {
		s.logger.Debug().Str("sid", env.SessionID).Msg("stale answer dropped")
		return
	}
	if !s.offerInFlight {
		s.logger.Debug().Str("sid", s.sid).Msg("duplicate answer dropped")
		return
	}
	desc, err := core.DescriptionOf(env)
	if err != nil {
		s.logger.Warn().Err(err).Msg("answer dropped")
		return
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		s.fail(fmt.Errorf("%w: set remote answer: %v", domain.ErrDescriptionRejected, err))
		return
	}
	s.offerInFlight = false
	s.remoteSet = true
	s.flushCandidates()
	s.established()
}

// HandleCandidate applies a remote candidate, or buffers it until a remote description exists.
// Candidates are deduplicated by their candidate string.
func (s *Session) HandleCandidate(env domain.Envelope) {
	if s.closed {
		return
	}
	if s.sid != "" && env.SessionID != s.sid {
		s.logger.Debug().Str("sid", env.SessionID).Msg("stale candidate dropped")
		return
	}
	cand, err := core.CandidateOf(env)
	if err != nil {
		s.logger.Warn().Err(err).Msg("candidate dropped")
		return
	}
	if _, dup := s.seen[cand.Candidate]; dup {
		return
	}
	s.seen[cand.Candidate] = struct{}{}
	if !s.remoteSet {
		s.pending = append(s.pending, cand)
		return
	}
	s.applyCandidate(cand)
}

// Buffered reports how many remote candidates wait for a remote description.
func (s *Session) Buffered() int { return len(s.pending) }

func (s *Session) flushCandidates() {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		s.applyCandidate(c)
	}
}

func (s *Session) applyCandidate(c webrtc.ICECandidateInit) {
	if err := s.pc.AddICECandidate(c); err != nil {
		s.logger.Warn().Err(err).Str("candidate", c.Candidate).Msg("add ice candidate")
	}
}

func (s *Session) sendCandidate(c webrtc.ICECandidateInit) {
	if s.sid == "" {
		return
	}
	if err := s.sig.SendICECandidate(s.ctx, s.remote, s.sid, c); err != nil {
		s.logger.Warn().Err(err).Str("sid", s.sid).Msg("send candidate")
	}
}

// HandleRenegotiate runs a fresh offer on behalf of an answerer whose local tracks changed.
func (s *Session) HandleRenegotiate(env domain.Envelope) {
	if s.closed || s.role != Offerer || env.SessionID != s.sid {
		return
	}
	switch s.state {
	case StateConnected:
		s.negotiate()
	case StateNegotiating, StateRenegotiating, StateDisconnected:
		s.needsRenego = true
	}
}

// established finishes an offer/answer round.
func (s *Session) established() {
	s.disarmNegotiationTimer()
	s.setState(StateConnected)
	if s.transportDown {
		s.enterDisconnected()
		return
	}
	if s.needsRenego {
		s.renegotiate()
	}
}

// renegotiate starts a new round from the connected state: the offerer offers, the answerer asks for an offer.
func (s *Session) renegotiate() {
	if s.state != StateConnected {
		s.needsRenego = true
		return
	}
	if s.role == Offerer {
		s.negotiate()
		return
	}
	s.needsRenego = false
	s.setState(StateRenegotiating)
	s.armNegotiationTimer()
	err := s.sig.SendMessage(s.ctx, domain.Envelope{ToID: s.remote, Kind: domain.KindRenegotiate, SessionID: s.sid})
	if err != nil {
		s.logger.Warn().Err(err).Msg("send renegotiate")
	}
}

// SetTrack replaces, adds or (with a nil track) removes the local track of kind. A connected session
// renegotiates; a negotiating one carries the new track into its next offer.
func (s *Session) SetTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) error {
	if s.closed {
		return domain.NewOpError("set track", s.remote, domain.ErrSessionClosed)
	}
	sender, attached := s.tracks[kind]
	structural := true
	switch {
	case track == nil && !attached:
		return nil
	case track == nil:
		if err := s.pc.RemoveTrack(sender); err != nil {
			return domain.NewOpError("remove track", s.remote, err)
		}
		delete(s.tracks, kind)
	case attached:
		if sender.Track() == track {
			return nil
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return domain.NewOpError("replace track", s.remote, err)
		}
		structural = false
	default:
		if track.Kind() != kind {
			return domain.NewOpError("add track", s.remote, errors.New("track kind mismatch"))
		}
		added, err := s.pc.AddTrack(track)
		if err != nil {
			return domain.NewOpError("add track", s.remote, err)
		}
		s.tracks[kind] = added
	}

	switch s.state {
	case StateConnected:
		s.renegotiate()
	case StateNew:
	default:
		if structural {
			s.needsRenego = true
		}
	}
	return nil
}
