package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Mesh/internal/app/media"
	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/webrtc/v4"
)

func (o *Orchestrator) tracks() []webrtc.TrackLocal {
	if o.cfg.Media == nil {
		return nil
	}
	return o.cfg.Media.Tracks()
}

// OnTrackChanged moves every live session to the new track and returns once all of them reference it.
// Connected sessions renegotiate; negotiating ones carry the track into their next offer.
func (o *Orchestrator) OnTrackChanged(ctx context.Context, change media.Change) error {
	err := o.do(ctx, func() {
		for id, p := range o.peers {
			if err := p.sess.SetTrack(change.Kind, change.Local()); err != nil {
				o.logger.Warn().Err(err).Str("peer", string(id)).Str("kind", change.Kind.String()).Msg("apply track change")
			}
		}
	})
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}

func (o *Orchestrator) onDataChannel(s *session.Session, dc core.DataChannel) {
	if o.current(s) == nil {
		return
	}
	remote := s.Remote()
	dc.OnMessage(func(data []byte) {
		data = append([]byte(nil), data...)
		o.post(func() {
			if o.current(s) == nil {
				return
			}
			if msg, ok := o.chat.Receive(remote, data); ok {
				o.emit(Event{Kind: EventChat, Member: remote, Message: msg})
			}
		})
	})
}

// onRemoteTrack runs on the connection's goroutine; the sink is safe for concurrent use.
func (o *Orchestrator) onRemoteTrack(s *session.Session, ctx context.Context, track *webrtc.TrackRemote) {
	o.sink.Start(ctx, s.Remote(), track)
}
