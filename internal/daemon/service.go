// Package daemon wires the control session, the sample path and the admin
// HTTP API into one process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/daqctl/internal/control"
	"github.com/danmuck/daqctl/internal/sample"
	"github.com/danmuck/daqctl/internal/storage"
	"github.com/danmuck/daqctl/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Sample path settings. An empty Listen disables the sample path.
type SampleConfig struct {
	Listen      string
	Forward     string
	StoragePath string
	BatchSize   int
	SyncEvery   int
	ReadBuffer  int
}

// Daemon service configuration.
type ServiceConfig struct {
	ID                 string
	ClientListen       string
	DnodeListen        string
	DnodeDial          string
	DnodeTimeout       time.Duration
	ClientWriteTimeout time.Duration
	AdminListen        string
	CORSOrigins        []string
	HeartbeatInterval  time.Duration
	Sample             SampleConfig
	Backoff            transport.BackoffConfig
}

// Daemon service defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ID:                 "daqctl.local",
		ClientListen:       "127.0.0.1:1371",
		DnodeListen:        "127.0.0.1:1370",
		DnodeTimeout:       2 * time.Second,
		ClientWriteTimeout: 5 * time.Second,
		AdminListen:        "127.0.0.1:7080",
		HeartbeatInterval:  30 * time.Second,
		Sample: SampleConfig{
			BatchSize: sample.DefaultConfig().BatchSize,
			SyncEvery: sample.DefaultConfig().SyncEvery,
		},
		Backoff: transport.DefaultBackoff(),
	}
}

func (c ServiceConfig) WithDefaults() ServiceConfig {
	d := DefaultServiceConfig()
	if strings.TrimSpace(c.ID) == "" {
		c.ID = d.ID
	}
	if strings.TrimSpace(c.ClientListen) == "" {
		c.ClientListen = d.ClientListen
	}
	if c.DnodeTimeout <= 0 {
		c.DnodeTimeout = d.DnodeTimeout
	}
	if c.ClientWriteTimeout <= 0 {
		c.ClientWriteTimeout = d.ClientWriteTimeout
	}
	if c.HeartbeatInterval < 0 {
		c.HeartbeatInterval = 0
	}
	c.Backoff = c.Backoff.WithDefaults()
	return c
}

// Validate reports settings that would keep the daemon from serving.
func (c ServiceConfig) Validate() error {
	if c.DnodeListen == "" && c.DnodeDial == "" {
		return errors.New("daemon: one of dnode_listen or dnode_dial is required")
	}
	for name, addr := range map[string]string{
		"client_listen": c.ClientListen,
		"dnode_listen":  c.DnodeListen,
		"dnode_dial":    c.DnodeDial,
	} {
		if addr == "" {
			continue
		}
		if _, err := transport.ParseAddr(addr); err != nil {
			return fmt.Errorf("daemon: %s: %w", name, err)
		}
	}
	if c.Sample.StoragePath != "" && c.Sample.Listen == "" {
		return errors.New("daemon: sample.storage_path requires sample.listen")
	}
	return nil
}

// Addrs holds the bound listener addresses once the service is ready.
type Addrs struct {
	Client net.Addr
	Dnode  net.Addr
	Admin  net.Addr
	Sample net.Addr
}

// Daemon runtime service.
type Service struct {
	cfg ServiceConfig
	log zerolog.Logger

	appeared time.Time
	loop     *control.Loop
	session  *control.Session
	router   *gin.Engine

	mu       sync.Mutex
	addrs    Addrs
	receiver *sample.Receiver
	ready    chan struct{}
}

// Daemon service constructor using explicit configuration.
func NewService(cfg ServiceConfig) *Service {
	cfg = cfg.WithDefaults()
	logger := log.Logger.With().Str("daemon", cfg.ID).Logger()
	loop := control.NewLoop()
	s := &Service{
		cfg:      cfg,
		log:      logger,
		appeared: time.Now(),
		loop:     loop,
		ready:    make(chan struct{}),
	}
	s.session = control.New(loop, control.NewClientRole(), control.NewDnodeRole(), control.Config{
		DnodeTimeout: cfg.DnodeTimeout,
		WriteTimeout: cfg.ClientWriteTimeout,
		Logger:       &logger,
	})
	s.router = s.newRouter()
	return s
}

func (s *Service) Session() *control.Session { return s.session }
func (s *Service) Router() *gin.Engine        { return s.router }

// Ready closes once every listener is bound.
func (s *Service) Ready() <-chan struct{} { return s.ready }

func (s *Service) Addrs() Addrs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs
}

func (s *Service) sampleStats() (sample.Stats, bool) {
	s.mu.Lock()
	r := s.receiver
	s.mu.Unlock()
	if r == nil {
		return sample.Stats{}, false
	}
	return r.Stats(), true
}

// Daemon runtime entrypoint that blocks until signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the daemon until ctx is done or a component fails.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	go s.loop.Run()
	defer s.loop.Close()
	if err := s.session.Start(); err != nil {
		return err
	}
	defer s.session.Stop()

	g, ctx := errgroup.WithContext(ctx)
	var closers []func()
	fail := func(err error) error {
		for _, c := range closers {
			c()
		}
		return err
	}

	clientLn, err := transport.ListenString(ctx, s.cfg.ClientListen)
	if err != nil {
		return fmt.Errorf("daemon: client listen: %w", err)
	}
	closers = append(closers, func() { _ = clientLn.Close() })
	s.setAddr(func(a *Addrs) { a.Client = clientLn.Addr() })

	var dnodeLn net.Listener
	if s.cfg.DnodeDial == "" {
		if dnodeLn, err = transport.ListenString(ctx, s.cfg.DnodeListen); err != nil {
			return fail(fmt.Errorf("daemon: dnode listen: %w", err))
		}
		closers = append(closers, func() { _ = dnodeLn.Close() })
		s.setAddr(func(a *Addrs) { a.Dnode = dnodeLn.Addr() })
	}

	var runSamples func() error
	if s.cfg.Sample.Listen != "" {
		var closeSamples func()
		if runSamples, closeSamples, err = s.openSamplePath(ctx); err != nil {
			return fail(err)
		}
		closers = append(closers, closeSamples)
	}

	var adminLn net.Listener
	if s.cfg.AdminListen != "" {
		if adminLn, err = net.Listen("tcp", s.cfg.AdminListen); err != nil {
			return fail(fmt.Errorf("daemon: admin listen: %w", err))
		}
		s.setAddr(func(a *Addrs) { a.Admin = adminLn.Addr() })
	}

	s.log.Info().Str("addr", clientLn.Addr().String()).Msg("daemon.client.listening")
	g.Go(func() error { return s.session.ServeClient(ctx, clientLn) })
	if dnodeLn != nil {
		s.log.Info().Str("addr", dnodeLn.Addr().String()).Msg("daemon.dnode.listening")
		g.Go(func() error { return s.session.ServeDnode(ctx, dnodeLn) })
	} else {
		a, _ := transport.ParseAddr(s.cfg.DnodeDial)
		g.Go(func() error { return s.dialDnode(ctx, a) })
	}
	if runSamples != nil {
		g.Go(runSamples)
	}
	if adminLn != nil {
		s.log.Info().Str("addr", adminLn.Addr().String()).Msg("daemon.admin.listening")
		srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if s.cfg.HeartbeatInterval > 0 {
		g.Go(func() error { s.heartbeat(ctx); return nil })
	}

	close(s.ready)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.log.Info().Err(err).Msg("daemon.stopped")
	return err
}

func (s *Service) setAddr(fn func(*Addrs)) {
	s.mu.Lock()
	fn(&s.addrs)
	s.mu.Unlock()
}

// dialDnode keeps one dialed dnode link up until ctx is done.
func (s *Service) dialDnode(ctx context.Context, a transport.Addr) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for ctx.Err() == nil {
		conn, err := transport.Dial(ctx, a, s.cfg.DnodeTimeout)
		if err != nil {
			attempt++
			s.log.Debug().Err(err).Int("attempt", attempt).Str("addr", a.String()).Msg("daemon.dnode.dial")
			if transport.Wait(ctx, s.cfg.Backoff, attempt, rng) != nil {
				return nil
			}
			continue
		}
		attempt = 0
		closed, ok := s.session.AttachDnode(conn)
		if !ok {
			return nil
		}
		select {
		case <-closed:
			s.log.Warn().Str("addr", a.String()).Msg("daemon.dnode.lost")
		case <-ctx.Done():
		}
	}
	return nil
}

// openSamplePath binds the UDP listener and storage. It returns the
// receiver's run function and a close function for when run never starts.
func (s *Service) openSamplePath(ctx context.Context) (func() error, func(), error) {
	sc := s.cfg.Sample
	pc, err := transport.ListenPacket(ctx, sc.Listen, transport.PacketConfig{ReuseAddr: true, ReadBuffer: sc.ReadBuffer})
	if err != nil {
		return nil, nil, fmt.Errorf("daemon: sample listen: %w", err)
	}

	var ch storage.Channel
	if sc.StoragePath != "" {
		ch, err = storage.NewRawStore().Open(sc.StoragePath, 0)
		if err != nil {
			_ = pc.Close()
			return nil, nil, err
		}
	}
	var fwd net.Conn
	if sc.Forward != "" {
		fwd, err = net.Dial("udp", sc.Forward)
		if err != nil {
			_ = pc.Close()
			if ch != nil {
				_ = ch.Close()
			}
			return nil, nil, fmt.Errorf("daemon: sample forward: %w", err)
		}
	}

	logger := s.log
	var forward io.Writer
	if fwd != nil {
		forward = fwd
	}
	r := sample.NewReceiver(sample.Config{
		BatchSize: sc.BatchSize,
		SyncEvery: sc.SyncEvery,
		Logger:    &logger,
	}, ch, forward)
	s.mu.Lock()
	s.receiver = r
	s.addrs.Sample = pc.LocalAddr()
	s.mu.Unlock()

	closeAll := func() {
		_ = pc.Close()
		if fwd != nil {
			_ = fwd.Close()
		}
		if ch != nil {
			_ = ch.Close()
		}
	}
	run := func() error {
		defer pc.Close()
		if fwd != nil {
			defer fwd.Close()
		}
		err := r.Serve(ctx, pc)
		if ch != nil {
			if cerr := ch.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		return err
	}
	return run, closeAll, nil
}

func (s *Service) heartbeat(ctx context.Context) {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		st := s.session.Status()
		ev := s.log.Info().
			Bool("client", st.ClientConnected).
			Bool("dnode", st.DnodeConnected).
			Uint64("roundtrips", st.RoundTrips).
			Uint64("failures", st.Failures)
		if ss, ok := s.sampleStats(); ok {
			ev = ev.Uint64("samples", ss.Samples).Uint64("dropped", ss.Dropped)
		}
		ev.Int("pid", os.Getpid()).Msg("daemon.heartbeat")
	}
}
