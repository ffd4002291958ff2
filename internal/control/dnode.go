package control

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/daqctl/internal/observability"
	"github.com/danmuck/daqctl/internal/protocol/raw"
)

// replyLen is the wire size of every packet the data node sends on the
// command link; responses and error packets share the command layout.
var replyLen, _ = raw.Size(raw.MsgResponse)

// DnodeRole forwards requests to the data node over the raw protocol. The
// loop reads the link in whole command units; the worker sends and waits.
type DnodeRole struct {
	mu       sync.Mutex
	awaiting bool
	replies  chan []byte
}

func NewDnodeRole() *DnodeRole {
	return &DnodeRole{replies: make(chan []byte, 1)}
}

func (d *DnodeRole) Start(s *Session) error {
	if d.replies == nil {
		d.replies = make(chan []byte, 1)
	}
	return nil
}

func (d *DnodeRole) Stop(s *Session) {}

func (d *DnodeRole) Open(s *Session, conn net.Conn) error {
	s.Logger().Info().Str("remote", conn.RemoteAddr().String()).Msg("control.dnode.open")
	return nil
}

func (d *DnodeRole) Close(s *Session) {
	s.Logger().Info().Msg("control.dnode.close")
}

// Read cuts in into command units. A unit goes to the worker when a round
// trip waits for it and is discarded otherwise.
func (d *DnodeRole) Read(s *Session, in *bytes.Buffer) Why {
	for in.Len() >= replyLen {
		unit := append([]byte(nil), in.Next(replyLen)...)
		d.mu.Lock()
		taken := false
		if d.awaiting {
			select {
			case d.replies <- unit:
				taken = true
			default:
			}
		}
		d.mu.Unlock()
		if !taken {
			s.Logger().Warn().Hex("unit", unit).Msg("control.dnode.unsolicited")
		}
	}
	return WhyNone
}

// expect opens the reply slot for one round trip.
func (d *DnodeRole) expect() {
	d.mu.Lock()
	d.drain()
	d.awaiting = true
	d.mu.Unlock()
}

// settle closes the reply slot; late replies are discarded by Read.
func (d *DnodeRole) settle() {
	d.mu.Lock()
	d.awaiting = false
	d.drain()
	d.mu.Unlock()
}

func (d *DnodeRole) drain() {
	for {
		select {
		case <-d.replies:
		default:
			return
		}
	}
}

// Thread runs one request/response exchange on the worker.
func (d *DnodeRole) Thread(s *Session, why Why) {
	if why != WhyDnodeRequest {
		return
	}
	req, ok := s.TakeRequest()
	if !ok {
		return
	}
	conn, closed := s.dnodeLink()
	if conn == nil {
		s.Publish(raw.CommandPacket{}, ErrNoDnode)
		return
	}

	start := time.Now()
	res, err := d.roundTrip(s, conn, closed, req)
	elapsed := time.Since(start)
	s.noteRoundTrip(err)

	kind := raw.KindOf(err)
	result := "ok"
	switch {
	case errors.Is(err, ErrDnodeError):
		result = "dnode_error_packet"
	case errors.Is(err, ErrIDMismatch):
		result = "id_mismatch"
	case errors.Is(err, ErrDnodeTimeout):
		result = "timeout"
	case err != nil:
		result = kind.String()
	case res.IsError():
		result = "dnode_error"
	}
	observability.RecordRoundTrip(result, elapsed)

	if err != nil {
		s.Logger().Warn().Err(err).Str("result", result).Dur("elapsed", elapsed).Msg("control.dnode.roundtrip")
		// a malformed unit leaves the link aligned; the rest do not
		if !errors.Is(err, ErrDnodeError) && (kind == raw.KindTransport || kind == raw.KindProtocolMismatch) {
			s.DropDnode(conn)
		}
	}
	s.Publish(res, err)
}

func (d *DnodeRole) roundTrip(s *Session, conn net.Conn, closed <-chan struct{}, req raw.CommandPacket) (raw.CommandPacket, error) {
	timeout := s.Config().DnodeTimeout
	d.expect()
	defer d.settle()

	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := raw.Send(conn, req)
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return raw.CommandPacket{}, fmt.Errorf("send: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var unit []byte
	select {
	case unit = <-d.replies:
	case <-closed:
		return raw.CommandPacket{}, fmt.Errorf("receive: %w", net.ErrClosed)
	case <-timer.C:
		return raw.CommandPacket{}, fmt.Errorf("%w after %s", ErrDnodeTimeout, timeout)
	}

	cmd, err := raw.DecodeCommand(unit)
	if err != nil {
		return raw.CommandPacket{}, fmt.Errorf("receive: %w", err)
	}
	switch cmd.MessageType() {
	case raw.MsgError:
		return raw.CommandPacket{}, ErrDnodeError
	case raw.MsgResponse:
	default:
		return raw.CommandPacket{}, fmt.Errorf("%w: got %s", raw.ErrTypeMismatch, cmd.MessageType())
	}
	sent, _ := req.Request()
	got, _ := cmd.Response()
	if got.ID != sent.ID {
		return raw.CommandPacket{}, fmt.Errorf("%w: sent %d got %d", ErrIDMismatch, sent.ID, got.ID)
	}
	return cmd, nil
}
