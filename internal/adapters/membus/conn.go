package membus

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

type laneKey struct {
	from domain.MemberID
	kind domain.EnvelopeKind
}

// conn is one member's inbox. Every (sender, kind) pair gets its own ordered lane.
type conn struct {
	bus  *Bus
	room domain.RoomID
	self domain.MemberID
	h    core.SignalHandlers

	mu    sync.Mutex
	lanes map[laneKey]*lane
	ctrl  *lane
	done  chan struct{}
	once  sync.Once
}

func newConn(b *Bus, room domain.RoomID, self domain.MemberID, h core.SignalHandlers) *conn {
	c := &conn{
		bus:   b,
		room:  room,
		self:  self,
		h:     h,
		lanes: make(map[laneKey]*lane),
		done:  make(chan struct{}),
	}
	c.ctrl = newLane(c.done, nil)
	return c
}

func (c *conn) control(fn func()) { c.ctrl.push(fn) }

func (c *conn) deliver(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to, ok := c.bus.lookup(c.room, env.ToID)
	if !ok {
		return domain.NewOpError("deliver "+string(env.Kind), env.ToID, domain.ErrSignalingDeliveryFailure)
	}
	copies := 1
	if c.bus.duplicate {
		copies = 2
	}
	l := to.lane(laneKey{from: env.FromID, kind: env.Kind})
	for i := 0; i < copies; i++ {
		l.push(func() { to.h.Dispatch(env) })
	}
	return nil
}

func (c *conn) lane(k laneKey) *lane {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[k]
	if !ok {
		l = newLane(c.done, c.bus.delay)
		c.lanes[k] = l
	}
	return l
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

// lane runs queued deliveries in order on its own goroutine. The queue is unbounded so that a sender never
// blocks on a slow receiver.
type lane struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
	done  <-chan struct{}
	delay func() time.Duration
}

func newLane(done <-chan struct{}, delay func() time.Duration) *lane {
	l := &lane{wake: make(chan struct{}, 1), done: done, delay: delay}
	go l.run()
	return l
}

func (l *lane) push(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *lane) run() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, fn := range batch {
			if l.delay != nil {
				if d := l.delay(); d > 0 {
					select {
					case <-time.After(d):
					case <-l.done:
						return
					}
				}
			}
			select {
			case <-l.done:
				return
			default:
			}
			fn()
		}
		select {
		case <-l.wake:
		case <-l.done:
			return
		}
	}
}
