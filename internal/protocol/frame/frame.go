package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic is "DAQC".
	Magic   uint32 = 0x44415143
	Version uint16 = 1

	HeaderLen = 20

	FlagIsResponse uint32 = 0x01
	FlagIsError    uint32 = 0x02
)

var (
	ErrShortHeader     = errors.New("frame: short fixed header")
	ErrBadMagic        = errors.New("frame: bad magic")
	ErrBadVersion      = errors.New("frame: unsupported version")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the fixed wire header of a client frame.
type Header struct {
	Magic       uint32
	Version     uint16
	MessageType uint16
	MessageID   uint32
	Flags       uint32
	PayloadLen  uint32
}

// Frame is one complete client message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 2 * 1024 * 1024}
}

func (l Limits) WithDefaults() Limits {
	if l.MaxPayloadBytes == 0 {
		l.MaxPayloadBytes = DefaultLimits().MaxPayloadBytes
	}
	return l
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	h, err := checkHeader(fixed[:], limits)
	if err != nil {
		return Frame{}, err
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// Split decodes the first frame in b without blocking. It returns the number
// of bytes consumed, or zero when b does not yet hold a whole frame.
func Split(b []byte, limits Limits) (Frame, int, error) {
	if len(b) < HeaderLen {
		return Frame{}, 0, nil
	}
	h, err := checkHeader(b[:HeaderLen], limits)
	if err != nil {
		return Frame{}, 0, err
	}
	total := HeaderLen + int(h.PayloadLen)
	if len(b) < total {
		return Frame{}, 0, nil
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, b[HeaderLen:total])
	return Frame{Header: h, Payload: payload}, total, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	b, err := Marshal(f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Marshal stamps magic, version and payload length and returns the frame bytes.
func Marshal(f Frame, limits Limits) ([]byte, error) {
	payloadLen := len(f.Payload)
	if uint64(payloadLen) > uint64(limits.MaxPayloadBytes) {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, payloadLen, limits.MaxPayloadBytes)
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.PayloadLen = uint32(payloadLen)
	out := make([]byte, 0, HeaderLen+payloadLen)
	out = append(out, EncodeHeader(h)...)
	return append(out, f.Payload...), nil
}

func checkHeader(b []byte, limits Limits) (Header, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Header{}, err
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("%w: 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Header{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.PayloadLen, limits.MaxPayloadBytes)
	}
	return h, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.MessageType)
	binary.BigEndian.PutUint32(buf[8:12], h.MessageID)
	binary.BigEndian.PutUint32(buf[12:16], h.Flags)
	binary.BigEndian.PutUint32(buf[16:20], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		MessageType: binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint32(b[8:12]),
		Flags:       binary.BigEndian.Uint32(b[12:16]),
		PayloadLen:  binary.BigEndian.Uint32(b[16:20]),
	}, nil
}
