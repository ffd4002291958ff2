package raw

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame = errors.New("raw: malformed frame")
	ErrTypeMismatch   = errors.New("raw: message type mismatch")
	ErrUnknownType    = errors.New("raw: unknown message type")
	ErrShortPacket    = errors.New("raw: short packet")
)

func unknownType(t MessageType) error {
	return fmt.Errorf("%w: 0x%02x", ErrUnknownType, uint8(t))
}

// RegisterError reports a request naming a register outside the map.
type RegisterError struct {
	RType  RType
	RAddr  uint8
	Reason string
}

func (e RegisterError) Error() string {
	return fmt.Sprintf("raw: r_type=%d r_addr=0x%02x: %s", e.RType, e.RAddr, e.Reason)
}

// Kind classifies an error for retry/close/abort decisions.
type Kind uint8

const (
	KindNone Kind = iota
	// KindMalformedFrame: discard the frame, the connection is still usable.
	KindMalformedFrame
	// KindProtocolMismatch: close and re-establish the connection.
	KindProtocolMismatch
	// KindValidation: the request was rejected before any I/O.
	KindValidation
	// KindTransport: the underlying read or write failed.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMalformedFrame:
		return "malformed_frame"
	case KindProtocolMismatch:
		return "protocol_mismatch"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

func KindOf(err error) Kind {
	var re RegisterError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrMalformedFrame), errors.Is(err, ErrShortPacket):
		return KindMalformedFrame
	case errors.Is(err, ErrTypeMismatch), errors.Is(err, ErrUnknownType):
		return KindProtocolMismatch
	case errors.As(err, &re):
		return KindValidation
	default:
		return KindTransport
	}
}
