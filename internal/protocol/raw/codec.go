package raw

import (
	"encoding/binary"
	"fmt"
)

// Encode returns the network byte order form of p. p is not modified.
func Encode(p Packet) ([]byte, error) {
	size, err := SizeOf(p)
	if err != nil {
		return nil, err
	}
	return p.appendWire(make([]byte, 0, size)), nil
}

// EncodeTo writes p into b and returns the number of bytes used.
func EncodeTo(b []byte, p Packet) (int, error) {
	size, err := SizeOf(p)
	if err != nil {
		return 0, err
	}
	if len(b) < size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrShortPacket, size, len(b))
	}
	p.appendWire(b[:0])
	return size, nil
}

func appendHeader(b []byte, h Header) []byte {
	return append(b, Magic, Version, uint8(h.Type), uint8(h.Flags))
}

func (p CommandPacket) appendWire(b []byte) []byte {
	b = appendHeader(b, p.Header())
	switch body := p.Body.(type) {
	case Request:
		return appendCommand(b, body.ID, body.RType, body.RAddr, body.Value)
	case Response:
		return appendCommand(b, body.ID, body.RType, body.RAddr, body.Value)
	default:
		return append(b, make([]byte, commandBodyLen)...)
	}
}

func appendCommand(b []byte, id uint16, rt RType, addr uint8, val uint32) []byte {
	b = binary.BigEndian.AppendUint16(b, id)
	b = append(b, uint8(rt), addr)
	return binary.BigEndian.AppendUint32(b, val)
}

func appendStreamPrefix(b []byte, cookie uint64, board, index, live uint32) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(cookie>>32))
	b = binary.BigEndian.AppendUint32(b, uint32(cookie))
	b = binary.BigEndian.AppendUint32(b, board)
	b = binary.BigEndian.AppendUint32(b, index)
	return binary.BigEndian.AppendUint32(b, live)
}

func (p *SubsamplePacket) appendWire(b []byte) []byte {
	b = appendHeader(b, p.Header())
	b = appendStreamPrefix(b, p.Cookie, p.BoardID, p.Index, p.ChipLive)
	for _, c := range p.Config {
		b = append(b, c.Chip, c.Channel)
	}
	for _, s := range p.Samples {
		b = binary.BigEndian.AppendUint16(b, s)
	}
	b = binary.BigEndian.AppendUint16(b, p.GPIO)
	return append(b, p.DACConfig, p.DAC)
}

func (p *SamplePacket) appendWire(b []byte) []byte {
	b = appendHeader(b, p.Header())
	b = appendStreamPrefix(b, p.Cookie, p.BoardID, p.Index, p.ChipLive)
	for _, s := range p.Samples {
		b = binary.BigEndian.AppendUint16(b, s)
	}
	return b
}

// DecodeHeader reads the 4-byte prefix without checking it.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortPacket, HeaderLen, len(b))
	}
	return Header{
		Magic:   b[0],
		Version: b[1],
		Type:    MessageType(b[2]),
		Flags:   Flags(b[3]),
	}, nil
}

// Decode parses one packet from b. Trailing bytes beyond the packet size are
// ignored. b is never modified.
func Decode(b []byte) (Packet, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: magic 0x%02x", ErrMalformedFrame, h.Magic)
	}
	size, err := Size(h.Type)
	if err != nil {
		return nil, err
	}
	if len(b) < size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrShortPacket, h.Type, size, len(b))
	}
	body := b[HeaderLen:size]

	switch h.Type {
	case MsgRequest:
		return CommandPacket{Flags: h.Flags, Body: Request(decodeCommand(body))}, nil
	case MsgResponse:
		return CommandPacket{Flags: h.Flags, Body: decodeCommand(body)}, nil
	case MsgError:
		return CommandPacket{Flags: h.Flags, Body: ErrorBody{}}, nil
	case MsgSubsample:
		p := &SubsamplePacket{Flags: h.Flags}
		p.Cookie, p.BoardID, p.Index, p.ChipLive = decodeStreamPrefix(body)
		off := 20
		for i := range p.Config {
			p.Config[i] = ChannelConfig{Chip: body[off], Channel: body[off+1]}
			off += 2
		}
		for i := range p.Samples {
			p.Samples[i] = binary.BigEndian.Uint16(body[off:])
			off += 2
		}
		p.GPIO = binary.BigEndian.Uint16(body[off:])
		p.DACConfig = body[off+2]
		p.DAC = body[off+3]
		return p, nil
	default:
		p := &SamplePacket{Flags: h.Flags}
		p.Cookie, p.BoardID, p.Index, p.ChipLive = decodeStreamPrefix(body)
		off := 20
		for i := range p.Samples {
			p.Samples[i] = binary.BigEndian.Uint16(body[off:])
			off += 2
		}
		return p, nil
	}
}

// DecodeCommand is Decode restricted to command packets.
func DecodeCommand(b []byte) (CommandPacket, error) {
	p, err := Decode(b)
	if err != nil {
		return CommandPacket{}, err
	}
	cmd, ok := p.(CommandPacket)
	if !ok {
		return CommandPacket{}, fmt.Errorf("%w: got %s, want a command packet", ErrTypeMismatch, p.Header().Type)
	}
	return cmd, nil
}

func decodeCommand(b []byte) Response {
	return Response{
		ID:    binary.BigEndian.Uint16(b[0:2]),
		RType: RType(b[2]),
		RAddr: b[3],
		Value: binary.BigEndian.Uint32(b[4:8]),
	}
}

func decodeStreamPrefix(b []byte) (cookie uint64, board, index, live uint32) {
	cookie = uint64(binary.BigEndian.Uint32(b[0:4]))<<32 | uint64(binary.BigEndian.Uint32(b[4:8]))
	return cookie, binary.BigEndian.Uint32(b[8:12]), binary.BigEndian.Uint32(b[12:16]), binary.BigEndian.Uint32(b[16:20])
}
