package coretest

import (
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
)

// Channel is a fake core.DataChannel. Messages are delivered in order on a per-channel goroutine.
type Channel struct {
	label string
	peer  *Channel

	mu      sync.Mutex
	isOpen  bool
	closed  bool
	onOpen  func()
	onClose func()
	onMsg   func([]byte)
	inbox   chan []byte
	sent    [][]byte
}

func newChannel(label string) *Channel {
	ch := &Channel{label: label, inbox: make(chan []byte, 1024)}
	go ch.deliver()
	return ch
}

func (c *Channel) deliver() {
	for data := range c.inbox {
		c.mu.Lock()
		fn := c.onMsg
		c.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

func (c *Channel) open() {
	c.mu.Lock()
	if c.isOpen || c.closed {
		c.mu.Unlock()
		return
	}
	c.isOpen = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		go fn()
	}
}

func (c *Channel) Label() string { return c.label }

func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	if !c.isOpen {
		c.mu.Unlock()
		return domain.ErrChannelNotReady
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	peer := c.peer
	c.mu.Unlock()
	if peer != nil {
		peer.receive(data)
	}
	return nil
}

// Inject delivers raw bytes to this channel's message handler as if the remote sent them.
func (c *Channel) Inject(data []byte) { c.receive(data) }

func (c *Channel) receive(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.inbox <- append([]byte(nil), data...)
}

// Sent returns copies of everything written to the channel.
func (c *Channel) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// OnOpen fires immediately when the channel is already open.
func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	open := c.isOpen
	c.mu.Unlock()
	if open && fn != nil {
		go fn()
	}
}

func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMsg = fn
	c.mu.Unlock()
}

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.isOpen = false
	fn := c.onClose
	peer := c.peer
	close(c.inbox)
	c.mu.Unlock()
	if fn != nil {
		go fn()
	}
	if peer != nil {
		_ = peer.Close()
	}
	return nil
}

// Channels returns the data channels of the peer, created or received.
func (p *Peer) Channels() []*Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Channel(nil), p.channels...)
}
