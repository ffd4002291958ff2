// Package regclient issues register reads and writes through the daemon's
// client port.
package regclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/daqctl/internal/protocol/frame"
	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/danmuck/daqctl/internal/protocol/regio"
	"github.com/danmuck/daqctl/internal/transport"
)

var (
	ErrAddressRequired = errors.New("regclient: address required")
	ErrReplyMismatch   = errors.New("regclient: reply message id mismatch")
	ErrClosed          = errors.New("regclient: client closed")
)

type Config struct {
	Address     string
	DialTimeout time.Duration
	// Timeout bounds one command round trip.
	Timeout time.Duration
	Limits  frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Address:     "127.0.0.1:1371",
		DialTimeout: 2 * time.Second,
		Timeout:     5 * time.Second,
		Limits:      frame.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

// Client holds one connection to the daemon. Commands are serialized; the
// daemon rejects a second command while one is in flight.
type Client struct {
	cfg   Config
	mu    sync.Mutex
	conn  net.Conn
	msgID atomic.Uint32
}

// Dial connects to cfg.Address.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	a, err := transport.ParseAddr(cfg.Address)
	if err != nil {
		return nil, err
	}
	conn, err := transport.Dial(ctx, a, cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("regclient: dial %s: %w", a, err)
	}
	return NewClient(conn, cfg), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, cfg Config) *Client {
	return &Client{cfg: cfg.WithDefaults(), conn: conn}
}

// Read reads one register.
func (c *Client) Read(ctx context.Context, t raw.RType, addr uint8) (regio.Result, error) {
	return c.Do(ctx, regio.Command{RType: t, RAddr: addr})
}

// Write writes v to one register.
func (c *Client) Write(ctx context.Context, t raw.RType, addr uint8, v uint32) (regio.Result, error) {
	return c.Do(ctx, regio.Command{RType: t, RAddr: addr, Value: v, Write: true})
}

// Do sends cmd and waits for its reply. A daemon error frame comes back as
// a *regio.RemoteError.
func (c *Client) Do(ctx context.Context, cmd regio.Command) (regio.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return regio.Result{}, ErrClosed
	}

	cmd.MessageID = c.msgID.Add(1)
	f, err := regio.EncodeCommand(cmd)
	if err != nil {
		return regio.Result{}, err
	}
	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := frame.WriteFrame(c.conn, f, c.cfg.Limits); err != nil {
		return regio.Result{}, fmt.Errorf("regclient: write: %w", err)
	}
	reply, err := frame.ReadFrame(c.conn, c.cfg.Limits)
	if err != nil {
		if ctx.Err() != nil {
			return regio.Result{}, ctx.Err()
		}
		return regio.Result{}, fmt.Errorf("regclient: read: %w", err)
	}
	if reply.Header.MessageID != cmd.MessageID {
		return regio.Result{}, fmt.Errorf("%w: sent %d got %d", ErrReplyMismatch, cmd.MessageID, reply.Header.MessageID)
	}
	return regio.DecodeReply(reply)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
