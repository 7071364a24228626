// Package chat carries chat messages over the per-session data channels and merges them into one log.
package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Peer is one session's side of the chat channel.
type Peer interface {
	Remote() domain.MemberID
	Send(data []byte) error
}

type Adapter struct {
	self   domain.MemberID
	codec  Codec
	log    *Log
	now    func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	lastTS int64
}

type Option func(*Adapter)

// WithClock replaces the wall clock used to stamp outgoing messages.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func NewAdapter(self domain.MemberID, codec Codec, opts ...Option) *Adapter {
	if codec == nil {
		codec = JSONCodec{}
	}
	a := &Adapter{
		self:   self,
		codec:  codec,
		log:    NewLog(),
		now:    time.Now,
		logger: log.With().Str("module", "app.chat").Str("member", string(self)).Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Log() *Log { return a.log }

func (a *Adapter) Codec() Codec { return a.codec }

// stamp returns a timestamp strictly greater than the previous one of this sender.
func (a *Adapter) stamp() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ts := a.now().UnixMilli()
	if ts <= a.lastTS {
		ts = a.lastTS + 1
	}
	a.lastTS = ts
	return ts
}

// Send writes content to every peer whose channel is open. It fails with ErrChannelNotReady when no channel
// took the message; the message is then neither logged nor queued.
func (a *Adapter) Send(content string, peers []Peer) (domain.ChatMessage, error) {
	msg, err := domain.NewChatMessage(a.self, content, a.stamp())
	if err != nil {
		return domain.ChatMessage{}, err
	}
	data, err := a.codec.Marshal(msg)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	delivered := 0
	for _, p := range peers {
		if err := p.Send(data); err != nil {
			if !errors.Is(err, domain.ErrChannelNotReady) {
				a.logger.Warn().Err(err).Str("peer", string(p.Remote())).Msg("chat send")
			}
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return domain.ChatMessage{}, domain.NewOpError("send chat", "", domain.ErrChannelNotReady)
	}
	a.log.Insert(msg)
	a.logger.Debug().Str("id", msg.ID).Int("delivered", delivered).Int("peers", len(peers)).Msg("chat sent")
	return msg, nil
}

// Receive decodes a message that arrived on from's channel. Malformed payloads, forged senders and
// duplicates are dropped and reported as false.
func (a *Adapter) Receive(from domain.MemberID, data []byte) (domain.ChatMessage, bool) {
	var msg domain.ChatMessage
	if err := a.codec.Unmarshal(data, &msg); err != nil {
		a.logger.Warn().Err(err).Str("peer", string(from)).Msg("malformed chat payload dropped")
		return domain.ChatMessage{}, false
	}
	if err := msg.Validate(); err != nil {
		a.logger.Warn().Err(err).Str("peer", string(from)).Msg("invalid chat message dropped")
		return domain.ChatMessage{}, false
	}
	if msg.SenderID != from {
		a.logger.Warn().Str("peer", string(from)).Str("sender", string(msg.SenderID)).Msg("chat sender mismatch dropped")
		return domain.ChatMessage{}, false
	}
	msg.Local = false
	if !a.log.Insert(msg) {
		a.logger.Debug().Str("id", msg.ID).Msg("duplicate chat message")
		return domain.ChatMessage{}, false
	}
	return msg, true
}
