package orch

import (
	"errors"

	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/domain"
)

func (o *Orchestrator) onRoomJoined(members []domain.MemberID) {
	o.logger.Info().Int("members", len(members)).Msg("room snapshot")
	for _, id := range members {
		o.memberJoined(id)
	}
}

// memberJoined is idempotent: a member that already has a live session is left alone.
func (o *Orchestrator) memberJoined(id domain.MemberID) {
	if id == o.self || o.leaving {
		return
	}
	if err := id.Validate(); err != nil {
		o.logger.Warn().Err(err).Msg("member ignored")
		return
	}
	if p, ok := o.peers[id]; ok && !p.sess.Closed() {
		return
	}
	o.markPresent(id)
	o.openSession(id, 0)
}

func (o *Orchestrator) markPresent(id domain.MemberID) {
	if _, ok := o.members[id]; ok {
		return
	}
	o.members[id] = struct{}{}
	o.logger.Info().Str("peer", string(id)).Msg("member joined")
	o.emit(Event{Kind: EventPeerJoined, Member: id})
}

// memberLeft closes the member's session. Shared local tracks stay untouched.
func (o *Orchestrator) memberLeft(id domain.MemberID) {
	_, present := o.members[id]
	delete(o.members, id)
	delete(o.early, id)
	p, ok := o.peers[id]
	if ok {
		o.detach(id, p)
		p.sess.Close(nil)
	}
	if present || ok {
		o.logger.Info().Str("peer", string(id)).Msg("member left")
		o.emit(Event{Kind: EventPeerLeft, Member: id})
	}
}

// openSession creates the session towards remote with the current local tracks attached.
func (o *Orchestrator) openSession(remote domain.MemberID, rebuilds int) *peer {
	pc, err := o.cfg.Peers(o.self, remote)
	if err != nil {
		o.giveUp(remote, domain.NewOpError("create connection", remote, err))
		return nil
	}
	sess, err := session.New(session.Params{
		Context: o.ctx,
		Self:    o.self,
		Remote:  remote,
		Signal:  o.sig,
		PC:      pc,
		Config:  o.cfg.Session,
		Post:    o.post,
		Hooks: session.Hooks{
			OnStateChange: o.onSessionState,
			OnClosed:      o.onSessionClosed,
			OnDataChannel: o.onDataChannel,
			OnRemoteTrack: o.onRemoteTrack,
		},
	})
	if err != nil {
		_ = pc.Close()
		o.giveUp(remote, err)
		return nil
	}
	p := &peer{sess: sess, rebuilds: rebuilds}
	o.peers[remote] = p
	o.updateView(remote, p)
	if err := sess.Start(o.tracks()); err != nil {
		o.detach(remote, p)
		sess.Close(err)
		o.giveUp(remote, err)
		return nil
	}
	o.logger.Debug().Str("peer", string(remote)).Str("role", sess.Role().String()).Int("rebuilds", rebuilds).Msg("session opened")
	return p
}

// detach removes p from the session map so that its close is not treated as a failure.
func (o *Orchestrator) detach(id domain.MemberID, p *peer) {
	if cur, ok := o.peers[id]; ok && cur == p {
		delete(o.peers, id)
	}
	o.retire(id, p.sess.SessionID())
	o.sink.Forget(id)
	o.dropView(id)
}

// giveUp forgets a member whose session cannot be (re)built and reports it as left.
func (o *Orchestrator) giveUp(id domain.MemberID, reason error) {
	delete(o.members, id)
	delete(o.early, id)
	delete(o.peers, id)
	o.sink.Forget(id)
	o.dropView(id)
	o.logger.Warn().Err(reason).Str("peer", string(id)).Msg("peer given up")
	o.emit(Event{Kind: EventPeerLeft, Member: id, Err: reason})
}

func (o *Orchestrator) current(s *session.Session) *peer {
	p, ok := o.peers[s.Remote()]
	if !ok || p.sess != s {
		return nil
	}
	return p
}

func (o *Orchestrator) onSessionState(s *session.Session, _, to session.State) {
	p := o.current(s)
	if p == nil {
		return
	}
	if to == session.StateConnected {
		p.rebuilds = 0
	}
	o.updateView(s.Remote(), p)
	o.emit(Event{Kind: EventState, Member: s.Remote(), State: to})
}

// onSessionClosed rebuilds failed sessions while the member is present and the rebuild budget lasts.
func (o *Orchestrator) onSessionClosed(s *session.Session, reason error) {
	remote := s.Remote()
	o.retire(remote, s.SessionID())
	p := o.current(s)
	if p == nil {
		return
	}
	delete(o.peers, remote)
	o.sink.Forget(remote)

	_, present := o.members[remote]
	switch {
	case o.leaving || !present:
		o.dropView(remote)
	case errors.Is(reason, domain.ErrPeerLost):
		o.giveUp(remote, reason)
	case p.rebuilds < o.cfg.MaxRebuilds:
		o.logger.Info().Err(reason).Str("peer", string(remote)).Int("attempt", p.rebuilds+1).Msg("rebuilding session")
		o.openSession(remote, p.rebuilds+1)
	default:
		o.giveUp(remote, reason)
	}
}

func (o *Orchestrator) retire(id domain.MemberID, sid string) {
	if sid == "" {
		return
	}
	set, ok := o.retired[id]
	if !ok {
		set = make(map[string]struct{})
		o.retired[id] = set
	}
	set[sid] = struct{}{}
}

func (o *Orchestrator) isRetired(id domain.MemberID, sid string) bool {
	_, ok := o.retired[id][sid]
	return ok
}

// dispatch routes an inbound envelope to the session of its sender.
func (o *Orchestrator) dispatch(env domain.Envelope) {
	if o.leaving {
		return
	}
	if env.ToID != o.self || env.RoomID != o.sig.Room() || env.FromID == o.self {
		o.logger.Debug().Str("to", string(env.ToID)).Str("room", string(env.RoomID)).Msg("envelope not addressed here")
		return
	}
	from := env.FromID
	// A leaving member is gone whatever session its bye names.
	if env.Leaving() {
		o.memberLeft(from)
		return
	}
	if env.SessionID != "" && o.isRetired(from, env.SessionID) {
		o.logger.Debug().Str("peer", string(from)).Str("sid", env.SessionID).Str("kind", string(env.Kind)).Msg("stale envelope dropped")
		return
	}
	p := o.peers[from]
	switch env.Kind {
	case domain.KindOffer:
		o.handleOffer(p, env)
	case domain.KindAnswer:
		if p != nil {
			p.sess.HandleAnswer(env)
		}
	case domain.KindCandidate:
		o.handleCandidate(p, env)
	case domain.KindRenegotiate:
		if p != nil {
			p.sess.HandleRenegotiate(env)
		}
	case domain.KindBye:
		o.handleBye(p, env)
	}
}

// handleOffer creates an answerer session on the first offer of an unknown sender, and replaces the
// session when the sender started a new negotiation session.
func (o *Orchestrator) handleOffer(p *peer, env domain.Envelope) {
	from := env.FromID
	if session.RoleFor(o.self, from) == session.Offerer {
		o.logger.Warn().Err(domain.ErrUnexpectedEnvelopeForRole).Str("peer", string(from)).Msg("offer dropped")
		if p == nil {
			o.memberJoined(from)
		}
		return
	}
	rebuilds := 0
	if p != nil && p.sess.SessionID() != "" && p.sess.SessionID() != env.SessionID {
		o.logger.Info().Str("peer", string(from)).Str("sid", env.SessionID).Str("old_sid", p.sess.SessionID()).Msg("remote restarted session")
		rebuilds = p.rebuilds
		o.detach(from, p)
		p.sess.Close(nil)
		p = nil
	}
	if p == nil {
		o.markPresent(from)
		if p = o.openSession(from, rebuilds); p == nil {
			return
		}
	}
	p.sess.HandleOffer(env)
	if o.peers[from] == p {
		o.handOverEarly(from, p)
	}
}

// handleCandidate delivers a candidate to the session it belongs to. Candidates that precede the offer of
// their negotiation session are held until that offer binds.
func (o *Orchestrator) handleCandidate(p *peer, env domain.Envelope) {
	from := env.FromID
	if p != nil && p.sess.SessionID() == env.SessionID {
		p.sess.HandleCandidate(env)
		return
	}
	if session.RoleFor(o.self, from) == session.Offerer {
		o.logger.Debug().Str("peer", string(from)).Str("sid", env.SessionID).Msg("candidate for unknown session dropped")
		return
	}
	q := append(o.early[from], env)
	if len(q) > maxEarlyCandidates {
		q = q[len(q)-maxEarlyCandidates:]
	}
	o.early[from] = q
}

func (o *Orchestrator) handOverEarly(from domain.MemberID, p *peer) {
	q := o.early[from]
	if len(q) == 0 {
		return
	}
	sid := p.sess.SessionID()
	keep := q[:0]
	for _, env := range q {
		switch {
		case env.SessionID == sid:
			p.sess.HandleCandidate(env)
		case !o.isRetired(from, env.SessionID):
			keep = append(keep, env)
		}
	}
	if len(keep) == 0 {
		delete(o.early, from)
		return
	}
	o.early[from] = keep
}

// handleBye retires the sender's session. A bye without session id only retires a session that never
// connected; a leaving bye removes the member.
func (o *Orchestrator) handleBye(p *peer, env domain.Envelope) {
	if p == nil {
		return
	}
	switch {
	case env.SessionID == "":
		if p.sess.State() == session.StateConnected {
			return
		}
	case env.SessionID != p.sess.SessionID():
		return
	}
	o.logger.Info().Str("peer", string(env.FromID)).Str("sid", p.sess.SessionID()).Msg("session retired by remote")
	p.sess.Close(errRetiredByRemote)
}
