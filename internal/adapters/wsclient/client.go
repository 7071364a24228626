// Package wsclient implements the signaling channel contract over the relay WebSocket protocol.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultRetries = 3
	defaultBackoff = 50 * time.Millisecond
	sendBuffer     = 64
	writeWait      = 5 * time.Second
)

var errClosed = errors.New("wsclient: connection closed")

type Option func(*Client)

// WithRetry sets how often a send into a full queue is retried and the base backoff between attempts.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.backoff = backoff
	}
}

// WithHeader adds headers to the WebSocket handshake (cookies, auth).
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithDisconnect registers fn to run when the relay connection of a joined room drops.
func WithDisconnect(fn func(room domain.RoomID, err error)) Option {
	return func(c *Client) { c.onDisconnect = fn }
}

// Client dials the relay once per CreateRoom call and once per joined room.
type Client struct {
	url          string
	dialer       *websocket.Dialer
	header       http.Header
	retries      int
	backoff      time.Duration
	onDisconnect func(domain.RoomID, error)
	logger       zerolog.Logger
}

var _ core.SignalingChannel = (*Client)(nil)

func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		retries: defaultRetries,
		backoff: defaultBackoff,
		logger:  log.With().Str("module", "adapters.wsclient").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) CreateRoom(ctx context.Context) (domain.RoomID, error) {
	conn, err := c.dial(ctx, "", core.SignalHandlers{})
	if err != nil {
		return "", err
	}
	defer conn.close(nil)
	reply, err := conn.request(ctx, core.WireFrame{Type: core.FrameCreateRoom})
	if err != nil {
		return "", err
	}
	return reply.Room, nil
}

func (c *Client) JoinRoom(ctx context.Context, room domain.RoomID, req core.JoinRequest, h core.SignalHandlers) (core.RoomSignal, error) {
	if room == "" {
		return nil, domain.ErrRoomNotFound
	}
	conn, err := c.dial(ctx, room, h)
	if err != nil {
		return nil, err
	}
	reply, err := conn.request(ctx, core.WireFrame{
		Type:   core.FrameJoin,
		Room:   room,
		Member: req.MemberID,
		Name:   req.DisplayName,
	})
	if err != nil {
		conn.close(nil)
		return nil, err
	}
	conn.setJoined(reply.Member)
	return &handle{
		Outbox: core.Outbox{RoomID: room, Self: reply.Member, Deliver: conn.deliver},
		conn:   conn,
	}, nil
}

func (c *Client) dial(ctx context.Context, room domain.RoomID, h core.SignalHandlers) (*conn, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrSignalingDeliveryFailure, c.url, err)
	}
	cn := &conn{
		client:  c,
		ws:      ws,
		room:    room,
		h:       h,
		send:    make(chan core.Frame, sendBuffer),
		pending: make(map[string]chan core.WireFrame),
		done:    make(chan struct{}),
		logger:  c.logger.With().Str("room", string(room)).Logger(),
	}
	go cn.writePump()
	go cn.readPump()
	return cn, nil
}

type handle struct {
	core.Outbox
	conn *conn
}

func (h *handle) Self() domain.MemberID { return h.Outbox.Self }

func (h *handle) Room() domain.RoomID { return h.RoomID }

// LeaveRoom tells the relay we leave and closes the connection. The relay also treats a dropped connection
// as a leave, so a failed request still closes.
func (h *handle) LeaveRoom(ctx context.Context) error {
	_, err := h.conn.request(ctx, core.WireFrame{Type: core.FrameLeave})
	h.conn.close(nil)
	if errors.Is(err, errClosed) {
		return nil
	}
	return err
}
