package control

import (
	"bytes"
	"errors"
	"net"
	"time"

	"github.com/danmuck/daqctl/internal/observability"
	"github.com/danmuck/daqctl/internal/protocol/frame"
	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/danmuck/daqctl/internal/protocol/regio"
)

// ClientRole speaks the framed register protocol to one client at a time.
// Its fields other than Limits are owned by the session loop.
type ClientRole struct {
	Limits frame.Limits

	seq         uint16
	pendingMsg  uint32
	// pendingConn is the client that sent the in-flight command; nil once
	// that client is gone.
	pendingConn net.Conn
	started     time.Time
}

func NewClientRole() *ClientRole {
	return &ClientRole{Limits: frame.DefaultLimits()}
}

func (c *ClientRole) Start(s *Session) error {
	c.Limits = c.Limits.WithDefaults()
	s.Logger().Debug().Uint32("max_payload", c.Limits.MaxPayloadBytes).Msg("control.client.start")
	return nil
}

func (c *ClientRole) Stop(s *Session) {
	s.Logger().Debug().Msg("control.client.stop")
}

func (c *ClientRole) Open(s *Session, conn net.Conn) error {
	s.Logger().Info().Str("remote", conn.RemoteAddr().String()).Msg("control.client.open")
	return nil
}

func (c *ClientRole) Close(s *Session) {
	if c.pendingConn != nil {
		s.Logger().Info().Uint32("msg_id", c.pendingMsg).Msg("control.client.orphaned")
		c.pendingConn = nil
	}
	s.Logger().Info().Msg("control.client.close")
}

// Read splits complete frames out of in and submits each as a request.
func (c *ClientRole) Read(s *Session, in *bytes.Buffer) Why {
	why := WhyNone
	for in.Len() > 0 {
		f, n, err := frame.Split(in.Bytes(), c.Limits)
		if err != nil {
			s.Logger().Warn().Err(err).Msg("control.client.framing")
			observability.RecordClientCommand("bad_frame")
			c.replyError(s, 0, regio.CodeClientProto, err.Error())
			in.Reset()
			s.DropClient(s.ClientConn())
			return why
		}
		if n == 0 {
			break
		}
		in.Next(n)
		why |= c.accept(s, f)
	}
	return why
}

func (c *ClientRole) accept(s *Session, f frame.Frame) Why {
	msgID := f.Header.MessageID
	cmd, err := regio.DecodeCommand(f)
	if err == nil {
		err = raw.ValidateRegister(cmd.RType, cmd.RAddr)
	}
	if err != nil {
		observability.RecordClientCommand("invalid")
		c.replyError(s, msgID, regio.CodeClientProto, err.Error())
		return WhyNone
	}

	c.seq++
	if err := s.Submit(cmd.Request(c.seq)); err != nil {
		if errors.Is(err, ErrBusy) {
			observability.RecordClientCommand("rejected_busy")
			c.replyError(s, msgID, regio.CodeClientProto, "command received while another is being processed")
			return WhyNone
		}
		observability.RecordClientCommand("rejected")
		c.replyError(s, msgID, regio.CodeDaemon, err.Error())
		return WhyNone
	}
	c.pendingMsg = msgID
	c.pendingConn = s.ClientConn()
	c.started = time.Now()
	observability.RecordClientCommand("accepted")
	s.Logger().Debug().
		Uint32("msg_id", msgID).
		Uint16("r_id", c.seq).
		Str("r_type", cmd.RType.String()).
		Str("register", raw.RegisterName(cmd.RType, cmd.RAddr)).
		Bool("write", cmd.Write).
		Msg("control.client.command")
	return WhyClientCommand
}

// Thread runs on the worker.
func (c *ClientRole) Thread(s *Session, why Why) {
	switch why {
	case WhyClientCommand:
		if s.DnodeConn() == nil {
			s.Publish(raw.CommandPacket{}, ErrNoDnode)
			return
		}
		s.Wake(WhyDnodeRequest)
	case WhyClientResponse:
		if !s.Post(func() { c.deliver(s) }) {
			_, _, _ = s.TakeResult()
		}
	}
}

// deliver runs on the loop.
func (c *ClientRole) deliver(s *Session) {
	res, resErr, ok := s.TakeResult()
	if !ok {
		return
	}
	logger := s.Logger().With().Uint32("msg_id", c.pendingMsg).Dur("elapsed", time.Since(c.started)).Logger()
	owner := c.pendingConn
	c.pendingConn = nil
	if owner == nil || owner != s.ClientConn() {
		observability.RecordClientCommand("orphaned")
		logger.Info().Err(resErr).Msg("control.client.discarded")
		return
	}
	if resErr != nil {
		code := errorCode(resErr)
		logger.Warn().Err(resErr).Str("code", code.String()).Msg("control.client.failed")
		c.replyError(s, c.pendingMsg, code, resErr.Error())
		return
	}
	result, err := regio.ResultFrom(c.pendingMsg, res)
	if err != nil {
		logger.Error().Err(err).Msg("control.client.result")
		c.replyError(s, c.pendingMsg, regio.CodeDaemon, err.Error())
		return
	}
	out, err := regio.EncodeResult(result)
	if err != nil {
		c.replyError(s, c.pendingMsg, regio.CodeDaemon, err.Error())
		return
	}
	logger.Debug().Uint32("value", result.Value).Bool("dnode_error", result.DnodeError).Msg("control.client.result")
	c.write(s, out)
}

func (c *ClientRole) replyError(s *Session, msgID uint32, code regio.ErrorCode, msg string) {
	f, err := regio.EncodeError(&regio.RemoteError{MessageID: msgID, Code: code, Message: msg})
	if err != nil {
		s.Logger().Error().Err(err).Msg("control.client.encode_error")
		return
	}
	c.write(s, f)
}

func (c *ClientRole) write(s *Session, f frame.Frame) {
	conn := s.ClientConn()
	if conn == nil {
		s.Logger().Warn().Uint32("msg_id", f.Header.MessageID).Msg("control.client.gone")
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.Config().WriteTimeout))
	if err := frame.WriteFrame(conn, f, c.Limits); err != nil {
		s.Logger().Warn().Err(err).Msg("control.client.write")
		s.DropClient(conn)
	}
}

// errorCode maps a failed round trip to the code sent to the client.
func errorCode(err error) regio.ErrorCode {
	switch {
	case errors.Is(err, ErrIDMismatch), errors.Is(err, ErrDnodeError):
		return regio.CodeDnodeProto
	case errors.Is(err, ErrNoDnode):
		return regio.CodeNoDnode
	}
	switch raw.KindOf(err) {
	case raw.KindMalformedFrame, raw.KindProtocolMismatch:
		return regio.CodeDnodeProto
	case raw.KindTransport:
		return regio.CodeNoDnode
	default:
		return regio.CodeDaemon
	}
}
