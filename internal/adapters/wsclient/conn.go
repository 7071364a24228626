package wsclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// conn is one relay connection. Pushed frames are dispatched to the handlers from the read goroutine, which
// keeps the relay's per-connection order.
type conn struct {
	client *Client
	ws     *websocket.Conn
	room   domain.RoomID
	h      core.SignalHandlers
	send   chan core.Frame
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan core.WireFrame
	self    domain.MemberID
	joined  bool

	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) setJoined(self domain.MemberID) {
	c.mu.Lock()
	c.self, c.joined = self, true
	c.mu.Unlock()
}

// request sends f with a fresh ref and waits for the reply carrying it.
func (c *conn) request(ctx context.Context, f core.WireFrame) (core.WireFrame, error) {
	f.Ref = uuid.NewString()
	reply := make(chan core.WireFrame, 1)
	c.mu.Lock()
	c.pending[f.Ref] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, f.Ref)
		c.mu.Unlock()
	}()

	frame, err := core.EncodeFrame(f)
	if err != nil {
		return core.WireFrame{}, err
	}
	if err := c.enqueue(ctx, frame); err != nil {
		return core.WireFrame{}, err
	}
	select {
	case r := <-reply:
		if r.Type == core.FrameError {
			return core.WireFrame{}, core.CodeError(r)
		}
		return r, nil
	case <-ctx.Done():
		return core.WireFrame{}, ctx.Err()
	case <-c.done:
		return core.WireFrame{}, errClosed
	}
}

func (c *conn) deliver(ctx context.Context, env domain.Envelope) error {
	frame, err := core.EncodeFrame(core.WireFrame{Type: core.FrameSignal, Envelope: &env})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, frame)
}

// enqueue hands a frame to the write pump, retrying with linear backoff while the queue is full.
func (c *conn) enqueue(ctx context.Context, frame core.Frame) error {
	for attempt := 0; ; attempt++ {
		select {
		case <-c.done:
			return fmt.Errorf("%w: %v", domain.ErrSignalingDeliveryFailure, errClosed)
		default:
		}
		select {
		case c.send <- frame:
			return nil
		default:
		}
		if attempt >= c.client.retries {
			return fmt.Errorf("%w: send queue full after %d retries", domain.ErrSignalingDeliveryFailure, attempt)
		}
		c.logger.Debug().Int("attempt", attempt+1).Msg("send queue full, retrying")
		t := time.NewTimer(c.client.backoff * time.Duration(attempt+1))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-c.done:
			t.Stop()
		}
	}
}

func (c *conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.close(err)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				c.close(err)
				return
			}
		}
	}
}

func (c *conn) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.close(err)
			return
		}
		f, err := core.DecodeFrame(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("bad frame")
			continue
		}
		c.handle(f)
	}
}

func (c *conn) handle(f core.WireFrame) {
	if f.Type == core.FrameJoined && c.h.OnRoomJoined != nil {
		c.h.OnRoomJoined(f.Member, f.Members)
	}
	if f.Ref != "" {
		c.mu.Lock()
		reply, ok := c.pending[f.Ref]
		c.mu.Unlock()
		if ok {
			reply <- f
			return
		}
	}

	switch f.Type {
	case core.FrameMemberJoined:
		if c.h.OnMemberJoined != nil {
			c.h.OnMemberJoined(f.Member)
		}
	case core.FrameMemberLeft:
		if c.h.OnMemberLeft != nil {
			c.h.OnMemberLeft(f.Member)
		}
	case core.FrameSignal:
		if f.Envelope == nil {
			c.logger.Warn().Msg("signal frame without envelope")
			return
		}
		c.h.Dispatch(*f.Envelope)
	case core.FrameError:
		c.logger.Warn().Str("code", f.Code).Str("error", f.Error).Msg("relay error")
	case core.FramePong, core.FrameJoined, core.FrameLeft, core.FrameRoomCreated:
	default:
		c.logger.Debug().Str("type", string(f.Type)).Msg("unknown frame")
	}
}

// close tears the connection down once. A non-nil err on a joined connection is reported as a disconnect.
func (c *conn) close(err error) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.ws.Close()

		c.mu.Lock()
		joined, self := c.joined, c.self
		c.mu.Unlock()
		if err != nil && joined {
			c.logger.Warn().Err(err).Str("member", string(self)).Msg("relay connection lost")
			if c.client.onDisconnect != nil {
				c.client.onDisconnect(c.room, err)
			}
		}
	})
}
