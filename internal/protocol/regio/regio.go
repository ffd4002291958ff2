// Package regio maps client register I/O messages to and from frames.
package regio

import (
	"errors"
	"fmt"

	"github.com/danmuck/daqctl/internal/protocol/frame"
	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/danmuck/daqctl/internal/protocol/schema"
	"github.com/danmuck/daqctl/internal/protocol/tlv"
)

var ErrUnexpectedMessage = errors.New("regio: unexpected message type")

// ErrorCode is the client-visible failure class.
type ErrorCode uint32

const (
	CodeNoDnode     ErrorCode = 1
	CodeDaemon      ErrorCode = 2
	CodeClientProto ErrorCode = 3
	CodeDnodeProto  ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNoDnode:
		return "not connected to data node"
	case CodeDaemon:
		return "internal daemon error"
	case CodeClientProto:
		return "client protocol error"
	case CodeDnodeProto:
		return "data node protocol error"
	default:
		return fmt.Sprintf("error code %d", uint32(c))
	}
}

// RemoteError is an error frame sent by the daemon.
type RemoteError struct {
	MessageID uint32
	Code      ErrorCode
	Message   string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "regio: " + e.Code.String()
	}
	return fmt.Sprintf("regio: %s: %s", e.Code, e.Message)
}

// Command is one register read or write requested by a client.
type Command struct {
	MessageID uint32
	RType     raw.RType
	RAddr     uint8
	Value     uint32
	Write     bool
}

// Request builds the data node request for c with sequence id id.
func (c Command) Request(id uint16) raw.CommandPacket {
	var flags raw.Flags
	val := uint32(0)
	if c.Write {
		flags = raw.FlagWrite
		val = c.Value
	}
	return raw.NewRequest(flags, id, c.RType, c.RAddr, val)
}

// Result is the data node's answer to a Command.
type Result struct {
	MessageID  uint32
	RID        uint16
	RType      raw.RType
	RAddr      uint8
	Value      uint32
	Write      bool
	DnodeError bool
}

// ResultFrom converts a data node response packet.
func ResultFrom(messageID uint32, p raw.CommandPacket) (Result, error) {
	res, ok := p.Response()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnexpectedMessage, p.MessageType())
	}
	return Result{
		MessageID:  messageID,
		RID:        res.ID,
		RType:      res.RType,
		RAddr:      res.RAddr,
		Value:      res.Value,
		Write:      p.Header().IsWrite(),
		DnodeError: p.IsError(),
	}, nil
}

func EncodeCommand(c Command) (frame.Frame, error) {
	fields := []tlv.Field{
		tlv.U8(schema.FieldRType, uint8(c.RType)),
		tlv.U8(schema.FieldRAddr, c.RAddr),
	}
	if c.Write {
		fields = append(fields, tlv.U32(schema.FieldRVal, c.Value))
	}
	return encode(schema.MsgRegIO, c.MessageID, 0, fields)
}

// DecodeCommand reads a reg_io frame. A present r_val means write.
func DecodeCommand(f frame.Frame) (Command, error) {
	fields, err := decode(f, schema.MsgRegIO)
	if err != nil {
		return Command{}, err
	}
	c := Command{MessageID: f.Header.MessageID}
	if c.RType, c.RAddr, err = register(fields); err != nil {
		return Command{}, err
	}
	if rv, ok := tlv.GetField(fields, schema.FieldRVal); ok {
		if c.Value, err = tlv.U32FromBytes(rv.Value); err != nil {
			return Command{}, err
		}
		c.Write = true
	}
	return c, nil
}

func EncodeResult(r Result) (frame.Frame, error) {
	fields := []tlv.Field{
		tlv.U16(schema.FieldRID, r.RID),
		tlv.U8(schema.FieldRType, uint8(r.RType)),
		tlv.U8(schema.FieldRAddr, r.RAddr),
		tlv.U32(schema.FieldRVal, r.Value),
		tlv.Bool(schema.FieldWrite, r.Write),
	}
	if r.DnodeError {
		fields = append(fields, tlv.Bool(schema.FieldDnodeError, true))
	}
	return encode(schema.MsgRegIOResult, r.MessageID, frame.FlagIsResponse, fields)
}

func DecodeResult(f frame.Frame) (Result, error) {
	fields, err := decode(f, schema.MsgRegIOResult)
	if err != nil {
		return Result{}, err
	}
	r := Result{MessageID: f.Header.MessageID}
	id, _ := tlv.GetField(fields, schema.FieldRID)
	rv, _ := tlv.GetField(fields, schema.FieldRVal)
	w, _ := tlv.GetField(fields, schema.FieldWrite)
	if r.RID, err = tlv.U16FromBytes(id.Value); err != nil {
		return Result{}, err
	}
	if r.RType, r.RAddr, err = register(fields); err != nil {
		return Result{}, err
	}
	if r.Value, err = tlv.U32FromBytes(rv.Value); err != nil {
		return Result{}, err
	}
	if r.Write, err = tlv.BoolFromBytes(w.Value); err != nil {
		return Result{}, err
	}
	if de, ok := tlv.GetField(fields, schema.FieldDnodeError); ok {
		if r.DnodeError, err = tlv.BoolFromBytes(de.Value); err != nil {
			return Result{}, err
		}
	}
	return r, nil
}

func EncodeError(e *RemoteError) (frame.Frame, error) {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	fields := []tlv.Field{
		tlv.U32(schema.FieldErrCode, uint32(e.Code)),
		tlv.String(schema.FieldErrMessage, msg),
	}
	return encode(schema.MsgError, e.MessageID, frame.FlagIsResponse|frame.FlagIsError, fields)
}

func DecodeError(f frame.Frame) (*RemoteError, error) {
	fields, err := decode(f, schema.MsgError)
	if err != nil {
		return nil, err
	}
	code, _ := tlv.GetField(fields, schema.FieldErrCode)
	c, err := tlv.U32FromBytes(code.Value)
	if err != nil {
		return nil, err
	}
	e := &RemoteError{MessageID: f.Header.MessageID, Code: ErrorCode(c)}
	if msg, ok := tlv.GetField(fields, schema.FieldErrMessage); ok {
		e.Message = string(msg.Value)
	}
	return e, nil
}

// DecodeReply reads a daemon reply: a Result, or a *RemoteError as err.
func DecodeReply(f frame.Frame) (Result, error) {
	switch f.Header.MessageType {
	case schema.MsgRegIOResult:
		return DecodeResult(f)
	case schema.MsgError:
		remote, err := DecodeError(f)
		if err != nil {
			return Result{}, err
		}
		return Result{}, remote
	default:
		return Result{}, fmt.Errorf("%w: %d", ErrUnexpectedMessage, f.Header.MessageType)
	}
}

func register(fields []tlv.Field) (raw.RType, uint8, error) {
	rt, _ := tlv.GetField(fields, schema.FieldRType)
	ra, _ := tlv.GetField(fields, schema.FieldRAddr)
	t, err := tlv.U8FromBytes(rt.Value)
	if err != nil {
		return 0, 0, err
	}
	a, err := tlv.U8FromBytes(ra.Value)
	if err != nil {
		return 0, 0, err
	}
	return raw.RType(t), a, nil
}

func encode(messageType uint16, messageID uint32, flags uint32, fields []tlv.Field) (frame.Frame, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{
		Header: frame.Header{
			MessageType: messageType,
			MessageID:   messageID,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, nil
}

func decode(f frame.Frame, want uint16) ([]tlv.Field, error) {
	if f.Header.MessageType != want {
		return nil, fmt.Errorf("%w: got %s want %s", ErrUnexpectedMessage, schema.Name(f.Header.MessageType), schema.Name(want))
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(want, fields); err != nil {
		return nil, err
	}
	return fields, nil
}
