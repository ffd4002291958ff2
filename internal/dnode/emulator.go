package dnode

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/danmuck/daqctl/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects how the emulator reaches the daemon and where it streams.
type Config struct {
	// Listen accepts daemon connections; Dial connects out to the daemon.
	// Dial wins when both are set.
	Listen      string
	Dial        string
	DialTimeout time.Duration
	Backoff     transport.BackoffConfig
	Stream      StreamConfig
	Logger      *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Listen:      "127.0.0.1:1370",
		DialTimeout: 2 * time.Second,
		Backoff:     transport.DefaultBackoff(),
		Stream:      DefaultStreamConfig(),
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Listen == "" && c.Dial == "" {
		c.Listen = d.Listen
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	c.Backoff = c.Backoff.WithDefaults()
	c.Stream = c.Stream.WithDefaults()
	return c
}

// Emulator serves one daemon command connection at a time.
type Emulator struct {
	cfg  Config
	regs *Registers
	log  zerolog.Logger
}

func New(cfg Config) *Emulator {
	cfg = cfg.WithDefaults()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Emulator{
		cfg:  cfg,
		regs: NewRegisters(),
		log:  logger.With().Str("component", "dnode").Logger(),
	}
}

func (e *Emulator) Registers() *Registers { return e.regs }

// Run serves commands and, when a stream target is configured, streams
// samples until ctx is done.
func (e *Emulator) Run(ctx context.Context) error {
	errs := make(chan error, 2)
	running := 1
	if e.cfg.Stream.Target != "" {
		running++
		go func() { errs <- e.stream(ctx) }()
	}
	go func() { errs <- e.command(ctx) }()

	var first error
	for i := 0; i < running; i++ {
		if err := <-errs; err != nil && first == nil && !errors.Is(err, context.Canceled) {
			first = err
		}
	}
	return first
}

func (e *Emulator) command(ctx context.Context) error {
	if e.cfg.Dial != "" {
		a, err := transport.ParseAddr(e.cfg.Dial)
		if err != nil {
			return err
		}
		return e.Connect(ctx, a)
	}
	ln, err := transport.ListenString(ctx, e.cfg.Listen)
	if err != nil {
		return err
	}
	e.log.Info().Str("addr", ln.Addr().String()).Msg("dnode.listening")
	return e.Serve(ctx, ln)
}

func (e *Emulator) stream(ctx context.Context) error {
	conn, err := net.Dial("udp", e.cfg.Stream.Target)
	if err != nil {
		return err
	}
	defer conn.Close()
	e.log.Info().Str("target", e.cfg.Stream.Target).Dur("interval", e.cfg.Stream.Interval).Msg("dnode.streaming")
	_, err = NewStreamer(e.cfg.Stream, e.regs).Run(ctx, conn)
	return err
}

// Serve accepts daemon connections from ln, one at a time, until ctx is done.
func (e *Emulator) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return err
		}
		if err := e.ServeConn(ctx, conn); err != nil {
			e.log.Warn().Err(err).Msg("dnode.conn.failed")
		}
	}
}

// Connect dials the daemon at a and reconnects with backoff whenever the
// link drops.
func (e *Emulator) Connect(ctx context.Context, a transport.Addr) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		conn, err := transport.Dial(ctx, a, e.cfg.DialTimeout)
		if err != nil {
			attempt++
			if attempt == 1 {
				e.log.Info().Err(err).Str("addr", a.String()).Msg("dnode.dial.retrying")
			}
			if werr := transport.Wait(ctx, e.cfg.Backoff, attempt, rng); werr != nil {
				return werr
			}
			continue
		}
		attempt = 0
		e.log.Info().Str("addr", a.String()).Msg("dnode.dial.connected")
		if err := e.ServeConn(ctx, conn); err != nil {
			e.log.Warn().Err(err).Msg("dnode.conn.failed")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// ServeConn answers requests on conn until it closes. A clean close returns
// nil.
func (e *Emulator) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger := e.log.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("dnode.conn.open")
	buf := make([]byte, raw.MaxSize)
	for {
		expect := raw.MsgRequest
		p, _, err := raw.Receive(conn, buf, &expect)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				logger.Info().Msg("dnode.conn.closed")
				return nil
			}
			if raw.KindOf(err) == raw.KindMalformedFrame {
				logger.Warn().Err(err).Msg("dnode.request.malformed")
				continue
			}
			return err
		}
		req := p.(raw.CommandPacket)
		res := e.regs.Handle(req)
		r, _ := req.Request()
		ev := logger.Debug()
		if res.IsError() {
			ev = logger.Warn()
		}
		got, _ := res.Response()
		ev.Uint16("r_id", r.ID).
			Str("register", r.RType.String()+"."+raw.RegisterName(r.RType, r.RAddr)).
			Bool("write", req.Header().IsWrite()).
			Uint32("value", got.Value).
			Bool("error", res.IsError()).
			Msg("dnode.request")
		if _, err := raw.Send(conn, res); err != nil {
			return err
		}
	}
}
