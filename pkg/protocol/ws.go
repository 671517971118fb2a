package protocol

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

// ErrClosed is returned once the client has been closed.
var ErrClosed = errors.New("protocol: client closed")

type Config struct {
	Shard string
	URL   string
	// Reconnect is the pause between reconnection attempts.
	Reconnect time.Duration
	// Timeout bounds dialing, writes and request round trips.
	Timeout time.Duration
	// OnMessage receives frames addressed to this shard that are not a reply
	// to a pending Request.
	OnMessage func(Message)
}

// Client is a hub connection. Requests are serialised: one outstanding
// round trip at a time.
type Client struct {
	cfg    Config
	dialer *ws.Dialer

	connMu sync.Mutex
	conn   *ws.Conn

	reqMu    sync.Mutex
	waiterMu sync.Mutex
	waiter   chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the hub. Call Run to start reading.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Shard == "" || cfg.URL == "" {
		return nil, errors.New("protocol: shard and url are required")
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		dialer: &ws.Dialer{HandshakeTimeout: cfg.Timeout},
		done:   make(chan struct{}),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*ws.Conn, error) {
	log.Debug("dialing hub", "url", c.cfg.URL)
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("protocol: dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// Run reads frames until ctx is done or the client is closed, reconnecting
// whenever the connection drops.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn := c.current()
		if conn == nil {
			return ErrClosed
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if !isClosed(err) {
				log.Warn("hub read failed", "err", err)
			}
			if err := c.reconnect(ctx, conn); err != nil {
				return err
			}
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) handle(frame []byte) {
	log.Debug("hub frame", "msg", string(frame))
	if recipient(frame) != c.cfg.Shard {
		return
	}
	msg, err := Parse(string(frame))
	if err != nil {
		log.Warn("dropping malformed hub frame", "msg", string(frame), "err", err)
		return
	}

	c.waiterMu.Lock()
	w := c.waiter
	c.waiter = nil
	c.waiterMu.Unlock()

	if w != nil {
		w <- msg
		return
	}
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(msg)
	}
}

func (c *Client) reconnect(ctx context.Context, old *ws.Conn) error {
	old.Close()
	log.Warn("reconnecting to hub", "url", c.cfg.URL)
	t := time.NewTicker(c.cfg.Reconnect)
	defer t.Stop()
	for {
		dctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		conn, err := c.dial(dctx)
		cancel()
		if err == nil {
			c.connMu.Lock()
			select {
			case <-c.done:
				c.connMu.Unlock()
				conn.Close()
				return nil
			default:
			}
			c.conn = conn
			c.connMu.Unlock()
			log.Info("reconnected to hub")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-t.C:
		}
	}
}

func (c *Client) current() *ws.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	select {
	case <-c.done:
		return nil
	default:
	}
	return c.conn
}

// Send writes m with this shard as sender.
func (c *Client) Send(ctx context.Context, m Message) error {
	m.From = c.cfg.Shard
	if err := m.Validate(); err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(ws.TextMessage, []byte(m.String())); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	log.Debug("hub send", "msg", m.String())
	return nil
}

// Request sends m and waits for the next frame addressed to this shard.
func (c *Client) Request(ctx context.Context, m Message) (Message, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	w := make(chan Message, 1)
	c.waiterMu.Lock()
	c.waiter = w
	c.waiterMu.Unlock()
	defer func() {
		c.waiterMu.Lock()
		if c.waiter == w {
			c.waiter = nil
		}
		c.waiterMu.Unlock()
	}()

	if err := c.Send(ctx, m); err != nil {
		return Message{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	select {
	case resp := <-w:
		return resp, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("protocol: waiting for %s: %w", m.To, ctx.Err())
	case <-c.done:
		return Message{}, ErrClosed
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		close(c.done)
		if c.conn != nil {
			_ = c.conn.WriteControl(ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
			err = c.conn.Close()
		}
		c.connMu.Unlock()
	})
	return err
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
