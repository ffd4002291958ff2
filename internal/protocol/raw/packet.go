package raw

import "math"

const (
	Magic   uint8 = 0x5A
	Version uint8 = 0x00

	HeaderLen = 4
)

// MessageType selects the packet body layout.
type MessageType uint8

const (
	MsgNone      MessageType = 0x00
	MsgRequest   MessageType = 0x01
	MsgResponse  MessageType = 0x02
	MsgError     MessageType = 0x7F
	MsgSubsample MessageType = 0x80
	MsgSample    MessageType = 0x81
)

// Flags is the header flags byte.
type Flags uint8

const (
	// FlagWrite marks a command as a register write; clear means read.
	FlagWrite Flags = 0x01
	// FlagLive and FlagLast annotate streaming packets.
	FlagLive Flags = 0x01
	FlagLast Flags = 0x02
	// FlagError may be set on any packet kind.
	FlagError Flags = 0x80
)

const (
	ChannelsPerChip = 32
	Chips           = 35
	SubsampleLen    = 32
	SampleLen       = ChannelsPerChip * Chips

	// NoSample is the sample index of a board that has not sampled yet.
	NoSample uint32 = math.MaxUint32
)

const (
	commandBodyLen = 8
	commandLen     = HeaderLen + commandBodyLen
	subsampleLen   = HeaderLen + 5*4 + SubsampleLen*2 + SubsampleLen*2 + 2 + 1 + 1
	sampleLen      = HeaderLen + 5*4 + SampleLen*2
)

// Header is the common 4-byte prefix of every packet.
type Header struct {
	Magic   uint8
	Version uint8
	Type    MessageType
	Flags   Flags
}

func (h Header) MessageType() MessageType { return h.Type }

func (h Header) IsError() bool { return h.Flags&FlagError != 0 }

func (h Header) IsWrite() bool { return h.Flags&FlagWrite != 0 }

func header(t MessageType, f Flags) Header {
	return Header{Magic: Magic, Version: Version, Type: t, Flags: f}
}

// Packet is any decoded or constructed packet.
type Packet interface {
	Header() Header
	appendWire(b []byte) []byte
}

// CommandBody is the variant carried by a CommandPacket: Request, Response
// or ErrorBody.
type CommandBody interface {
	commandType() MessageType
}

// Request asks the data node to read or write one register.
type Request struct {
	ID    uint16
	RType RType
	RAddr uint8
	Value uint32
}

// Response has the same layout as Request. Convert with Response(req).
type Response struct {
	ID    uint16
	RType RType
	RAddr uint8
	Value uint32
}

// ErrorBody is the zero-filled body of an error packet.
type ErrorBody struct{}

func (Request) commandType() MessageType   { return MsgRequest }
func (Response) commandType() MessageType  { return MsgResponse }
func (ErrorBody) commandType() MessageType { return MsgError }

// CommandPacket is a header plus exactly one command body. The message type
// is derived from Body, so the two can never disagree.
type CommandPacket struct {
	Flags Flags
	Body  CommandBody
}

func (p CommandPacket) Header() Header {
	return header(p.MessageType(), p.Flags)
}

func (p CommandPacket) MessageType() MessageType {
	if p.Body == nil {
		return MsgNone
	}
	return p.Body.commandType()
}

func (p CommandPacket) IsError() bool { return p.Header().IsError() }

// Request returns the body when the packet is a request.
func (p CommandPacket) Request() (Request, bool) {
	r, ok := p.Body.(Request)
	return r, ok
}

// Response returns the body when the packet is a response.
func (p CommandPacket) Response() (Response, bool) {
	r, ok := p.Body.(Response)
	return r, ok
}

func NewRequest(flags Flags, id uint16, rt RType, addr uint8, val uint32) CommandPacket {
	return CommandPacket{
		Flags: flags,
		Body:  Request{ID: id, RType: rt, RAddr: addr, Value: val},
	}
}

func NewResponse(flags Flags, id uint16, rt RType, addr uint8, val uint32) CommandPacket {
	return CommandPacket{
		Flags: flags,
		Body:  Response{ID: id, RType: rt, RAddr: addr, Value: val},
	}
}

func NewError(flags Flags) CommandPacket {
	return CommandPacket{Flags: flags | FlagError, Body: ErrorBody{}}
}

// ChannelConfig names the chip and channel feeding one subsample slot.
type ChannelConfig struct {
	Chip    uint8
	Channel uint8
}

// SubsamplePacket is the lightweight streaming unit.
type SubsamplePacket struct {
	Flags     Flags
	Cookie    uint64
	BoardID   uint32
	Index     uint32
	ChipLive  uint32
	Config    [SubsampleLen]ChannelConfig
	Samples   [SubsampleLen]uint16
	GPIO      uint16
	DACConfig uint8
	DAC       uint8
}

func (p *SubsamplePacket) Header() Header { return header(MsgSubsample, p.Flags) }

// SamplePacket is the bulk streaming unit: every channel of every chip.
type SamplePacket struct {
	Flags    Flags
	Cookie   uint64
	BoardID  uint32
	Index    uint32
	ChipLive uint32
	Samples  [SampleLen]uint16
}

func (p *SamplePacket) Header() Header { return header(MsgSample, p.Flags) }

func NewSubsample(flags Flags) *SubsamplePacket {
	return &SubsamplePacket{Flags: flags, Index: NoSample}
}

func NewSample(flags Flags) *SamplePacket {
	return &SamplePacket{Flags: flags, Index: NoSample}
}

// Init returns a zero packet of type t stamped with flags.
func Init(t MessageType, flags Flags) (Packet, error) {
	switch t {
	case MsgRequest:
		return CommandPacket{Flags: flags, Body: Request{}}, nil
	case MsgResponse:
		return CommandPacket{Flags: flags, Body: Response{}}, nil
	case MsgError:
		return NewError(flags), nil
	case MsgSubsample:
		return NewSubsample(flags), nil
	case MsgSample:
		return NewSample(flags), nil
	default:
		return nil, unknownType(t)
	}
}

// Size returns the exact wire size of a packet of type t.
func Size(t MessageType) (int, error) {
	switch t {
	case MsgRequest, MsgResponse, MsgError:
		return commandLen, nil
	case MsgSubsample:
		return subsampleLen, nil
	case MsgSample:
		return sampleLen, nil
	default:
		return 0, unknownType(t)
	}
}

// SizeOf returns the exact wire size of p, dispatching on its message type.
func SizeOf(p Packet) (int, error) {
	if p == nil {
		return 0, unknownType(MsgNone)
	}
	return Size(p.Header().Type)
}

// MaxSize is the largest wire size of any packet kind.
const MaxSize = sampleLen
