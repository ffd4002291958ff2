package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/daqctl/internal/observability"
	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the session lifecycle phase.
type State int

const (
	StateCreated State = iota
	// StateStarting is held while the start hooks run.
	StateStarting
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config tunes one session.
type Config struct {
	ID           string
	DnodeTimeout time.Duration
	WriteTimeout time.Duration
	Logger       *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		DnodeTimeout: 2 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.DnodeTimeout <= 0 {
		c.DnodeTimeout = d.DnodeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

type link struct {
	id     string
	conn   net.Conn
	opened time.Time
	closed chan struct{}
}

// Session owns a client link, a dnode link and the worker between them.
type Session struct {
	cfg    Config
	loop   *Loop
	client Role
	dnode  Role
	log    zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	why      Why
	req      raw.CommandPacket
	res      raw.CommandPacket
	resErr   error
	inflight bool
	state    State
	links    [2]*link

	// loop-owned, indexed by roleKind
	in [2]bytes.Buffer

	done       chan struct{}
	roundTrips atomic.Uint64
	failures   atomic.Uint64
	rejected   atomic.Uint64
}

// New binds a session to loop and the two roles.
func New(loop *Loop, client, dnode Role, cfg Config) *Session {
	cfg = cfg.WithDefaults()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	s := &Session{
		cfg:    cfg,
		loop:   loop,
		client: client,
		dnode:  dnode,
		log:    logger.With().Str("session", cfg.ID).Logger(),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Session) ID() string              { return s.cfg.ID }
func (s *Session) Config() Config          { return s.cfg }
func (s *Session) Logger() *zerolog.Logger { return &s.log }

// Post queues fn on the session loop.
func (s *Session) Post(fn func()) bool { return s.loop.Post(fn) }

// Start runs both start hooks and spawns the worker. Only one caller can
// move the session out of Created; a failed hook moves it back.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateCreated {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: start in %s", ErrState, st)
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.client.Start(s); err != nil {
		s.setState(StateStarting, StateCreated)
		return fmt.Errorf("%w: client start: %v", ErrHookFailed, err)
	}
	if err := s.dnode.Start(s); err != nil {
		s.client.Stop(s)
		s.setState(StateStarting, StateCreated)
		return fmt.Errorf("%w: dnode start: %v", ErrHookFailed, err)
	}

	// Stop may have run while the hooks did.
	if !s.setState(StateStarting, StateStarted) {
		s.dnode.Stop(s)
		s.client.Stop(s)
		return fmt.Errorf("%w: stopped while starting", ErrState)
	}
	go s.work()
	s.log.Info().Msg("control.session.started")
	return nil
}

// setState moves the session from one state to another and reports whether
// it was in from.
func (s *Session) setState(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// Stop signals the worker to exit, joins it, closes both links and runs the
// stop hooks. Call it from outside the loop while the loop still runs.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateStarted {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.why |= WhyExit
	s.cond.Signal()
	s.mu.Unlock()

	<-s.done

	closeAll := func() {
		s.closeLink(roleDnode, nil)
		s.closeLink(roleClient, nil)
	}
	if !s.loop.Sync(closeAll) {
		closeAll()
	}
	s.dnode.Stop(s)
	s.client.Stop(s)

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.log.Info().Msg("control.session.stopped")
}

// Wake sets why and signals the worker.
func (s *Session) Wake(why Why) {
	if why == WhyNone {
		return
	}
	s.mu.Lock()
	s.why |= why
	s.cond.Signal()
	s.mu.Unlock()
}

// claim waits for wake bits, then takes and clears all of them.
func (s *Session) claim() Why {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.why == WhyNone {
		s.cond.Wait()
	}
	why := s.why
	s.why = WhyNone
	return why
}

func (s *Session) work() {
	defer close(s.done)
	for {
		why := s.claim()
		for _, n := range whyNames {
			if why&n.bit != 0 {
				observability.RecordWake(n.name)
			}
		}
		if why&WhyExit != 0 {
			return
		}
		if why&WhyClientCommand != 0 {
			s.client.Thread(s, WhyClientCommand)
		}
		if why&WhyDnodeRequest != 0 {
			s.dnode.Thread(s, WhyDnodeRequest)
		}
		if why&WhyClientResponse != 0 {
			s.client.Thread(s, WhyClientResponse)
		}
	}
}

// Submit stores req as the in-flight request. It fails with ErrBusy while
// another request is in flight and never overwrites it.
func (s *Session) Submit(req raw.CommandPacket) error {
	if _, ok := req.Request(); !ok {
		return ErrNotRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		s.rejected.Add(1)
		return ErrBusy
	}
	s.req = req
	s.res = raw.CommandPacket{}
	s.resErr = nil
	s.inflight = true
	return nil
}

// TakeRequest copies out the in-flight request.
func (s *Session) TakeRequest() (raw.CommandPacket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req, s.inflight
}

// Publish stores the outcome of the in-flight request and wakes the client
// side.
func (s *Session) Publish(res raw.CommandPacket, err error) {
	s.mu.Lock()
	s.res = res
	s.resErr = err
	s.why |= WhyClientResponse
	s.cond.Signal()
	s.mu.Unlock()
}

// TakeResult copies out the published outcome and ends the in-flight
// request.
func (s *Session) TakeResult() (raw.CommandPacket, error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inflight {
		return raw.CommandPacket{}, nil, false
	}
	res, err := s.res, s.resErr
	s.req, s.res, s.resErr = raw.CommandPacket{}, raw.CommandPacket{}, nil
	s.inflight = false
	return res, err, true
}

func (s *Session) ClientConn() net.Conn { return s.conn(roleClient) }
func (s *Session) DnodeConn() net.Conn  { return s.conn(roleDnode) }

// dnodeLink returns the live dnode conn and the channel closed with it.
func (s *Session) dnodeLink() (net.Conn, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.links[roleDnode]; l != nil {
		return l.conn, l.closed
	}
	return nil, nil
}

func (s *Session) conn(kind roleKind) net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.links[kind]; l != nil {
		return l.conn
	}
	return nil
}

func (s *Session) role(kind roleKind) Role {
	if kind == roleClient {
		return s.client
	}
	return s.dnode
}

// DropClient and DropDnode close conn if it is still the live link.
func (s *Session) DropClient(conn net.Conn) {
	s.loop.Post(func() { s.closeLink(roleClient, conn) })
}

func (s *Session) DropDnode(conn net.Conn) {
	s.loop.Post(func() { s.closeLink(roleDnode, conn) })
}

// ServeClient accepts client connections from ln until ctx is done.
func (s *Session) ServeClient(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln, roleClient)
}

// ServeDnode accepts dnode connections from ln until ctx is done.
func (s *Session) ServeDnode(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln, roleDnode)
}

func (s *Session) serve(ctx context.Context, ln net.Listener, kind roleKind) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if _, ok := s.attach(kind, conn); !ok {
			return nil
		}
	}
}

// AttachDnode hands a dialed connection to the dnode role. The returned
// channel closes when that link closes; ok is false if the loop is gone.
func (s *Session) AttachDnode(conn net.Conn) (<-chan struct{}, bool) {
	return s.attach(roleDnode, conn)
}

func (s *Session) attach(kind roleKind, conn net.Conn) (<-chan struct{}, bool) {
	l := &link{id: uuid.NewString(), conn: conn, opened: time.Now(), closed: make(chan struct{})}
	if !s.loop.Post(func() { s.openLink(kind, l) }) {
		_ = conn.Close()
		close(l.closed)
		return l.closed, false
	}
	return l.closed, true
}

// openLink runs on the loop.
func (s *Session) openLink(kind roleKind, l *link) {
	logger := s.log.With().Str("role", kind.String()).Str("link", l.id).Str("remote", l.conn.RemoteAddr().String()).Logger()
	s.mu.Lock()
	state := s.state
	busy := s.links[kind] != nil
	s.mu.Unlock()

	refuse := func(reason string, err error) {
		logger.Warn().Err(err).Msg("control.session.refused: " + reason)
		_ = l.conn.Close()
		close(l.closed)
	}
	if state != StateStarted {
		refuse("session not started", nil)
		return
	}
	if busy {
		refuse("another is ongoing", nil)
		return
	}
	if err := s.role(kind).Open(s, l.conn); err != nil {
		refuse("open hook", err)
		return
	}

	s.mu.Lock()
	s.links[kind] = l
	s.mu.Unlock()
	logger.Info().Msg("control.session.opened")

	s.in[kind].Reset()
	go s.readLink(kind, l.conn)
}

// closeLink runs on the loop. A nil conn closes whatever link is live.
func (s *Session) closeLink(kind roleKind, conn net.Conn) {
	s.mu.Lock()
	l := s.links[kind]
	if l == nil || (conn != nil && l.conn != conn) {
		s.mu.Unlock()
		return
	}
	s.links[kind] = nil
	s.mu.Unlock()

	_ = l.conn.Close()
	s.role(kind).Close(s)
	close(l.closed)
	s.log.Info().Str("role", kind.String()).Str("link", l.id).Dur("open_for", time.Since(l.opened)).Msg("control.session.closed")
}

// readLink feeds everything read from conn to the loop and closes the link
// when the peer goes away, busy or idle.
func (s *Session) readLink(kind roleKind, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if !s.loop.Post(func() { s.linkData(kind, conn, chunk) }) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Str("role", kind.String()).Msg("control.session.read")
			}
			s.loop.Post(func() { s.closeLink(kind, conn) })
			return
		}
	}
}

// linkData runs on the loop.
func (s *Session) linkData(kind roleKind, conn net.Conn, chunk []byte) {
	if s.conn(kind) != conn {
		return
	}
	in := &s.in[kind]
	in.Write(chunk)
	s.Wake(s.role(kind).Read(s, in))
}

// noteRoundTrip counts a finished dnode exchange.
func (s *Session) noteRoundTrip(err error) {
	s.roundTrips.Add(1)
	if err != nil {
		s.failures.Add(1)
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	ClientConnected bool   `json:"client_connected"`
	ClientLink      string `json:"client_link,omitempty"`
	DnodeConnected  bool   `json:"dnode_connected"`
	DnodeLink       string `json:"dnode_link,omitempty"`
	Inflight        bool   `json:"inflight"`
	RoundTrips      uint64 `json:"roundtrips"`
	Failures        uint64 `json:"failures"`
	Rejected        uint64 `json:"rejected"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:         s.cfg.ID,
		State:      s.state.String(),
		Inflight:   s.inflight,
		RoundTrips: s.roundTrips.Load(),
		Failures:   s.failures.Load(),
		Rejected:   s.rejected.Load(),
	}
	if l := s.links[roleClient]; l != nil {
		st.ClientConnected, st.ClientLink = true, l.id
	}
	if l := s.links[roleDnode]; l != nil {
		st.DnodeConnected, st.DnodeLink = true, l.id
	}
	return st
}
