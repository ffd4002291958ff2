package raw

import (
	"errors"
	"testing"

	"github.com/danmuck/daqctl/internal/testutil/testlog"
)

func testSubsample() *SubsamplePacket {
	p := NewSubsample(FlagLive)
	p.Cookie = 0x0102030405060708
	p.BoardID = 7
	p.Index = 41
	p.ChipLive = 0x0000FFFF
	for i := range p.Config {
		p.Config[i] = ChannelConfig{Chip: uint8(i % Chips), Channel: uint8(31 - i)}
		p.Samples[i] = uint16(0x8000 + i*3)
	}
	p.GPIO = 0xBEEF
	p.DACConfig = 0x12
	p.DAC = 0x34
	return p
}

func testSample() *SamplePacket {
	p := NewSample(FlagLive | FlagLast)
	p.Cookie = 0xCAFEBABE00000001
	p.BoardID = 3
	p.Index = 1 << 20
	p.ChipLive = 0x7
	for i := range p.Samples {
		p.Samples[i] = uint16(i*7 + 1)
	}
	return p
}

func TestRoundTripCommandPackets(t *testing.T) {
	testlog.Start(t)
	cases := []CommandPacket{
		NewRequest(FlagWrite, 65535, RTypeDAQ, DAQEnable, 1),
		NewRequest(0, 0, RTypeSATA, 20, 0),
		NewResponse(0, 12, RTypeCentral, CentralBoardID, 0xDEADBEEF),
		NewResponse(FlagError, 13, RTypeGPIO, GPIOState, 0),
		NewError(0),
	}
	for _, want := range cases {
		b, err := Encode(want)
		if err != nil {
			t.Fatalf("encode %s: %v", want.MessageType(), err)
		}
		got, err := DecodeCommand(b)
		if err != nil {
			t.Fatalf("decode %s: %v", want.MessageType(), err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
		}
	}
}

func TestRoundTripStreamingPackets(t *testing.T) {
	testlog.Start(t)
	sub := testSubsample()
	b, err := Encode(sub)
	if err != nil {
		t.Fatalf("encode subsample: %v", err)
	}
	p, err := Decode(b)
	if err != nil {
		t.Fatalf("decode subsample: %v", err)
	}
	gotSub, ok := p.(*SubsamplePacket)
	if !ok {
		t.Fatalf("expected *SubsamplePacket, got %T", p)
	}
	if *gotSub != *sub {
		t.Fatalf("subsample mismatch: got %+v want %+v", gotSub, sub)
	}

	smp := testSample()
	b, err = Encode(smp)
	if err != nil {
		t.Fatalf("encode sample: %v", err)
	}
	p, err = Decode(b)
	if err != nil {
		t.Fatalf("decode sample: %v", err)
	}
	gotSmp, ok := p.(*SamplePacket)
	if !ok {
		t.Fatalf("expected *SamplePacket, got %T", p)
	}
	if *gotSmp != *smp {
		t.Fatalf("sample mismatch at header fields or samples")
	}
}

func TestStreamingSamplesAreBigEndianPerElement(t *testing.T) {
	testlog.Start(t)
	p := NewSample(0)
	p.Samples[0] = 0x0102
	p.Samples[SampleLen-1] = 0xA0B0
	b, err := Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b[24] != 0x01 || b[25] != 0x02 {
		t.Fatalf("first sample not big endian: % x", b[24:26])
	}
	if b[len(b)-2] != 0xA0 || b[len(b)-1] != 0xB0 {
		t.Fatalf("last sample not big endian: % x", b[len(b)-2:])
	}
}

func TestSizeMatchesEncodedLength(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		p    Packet
		want int
	}{
		{NewRequest(0, 1, RTypeDAQ, DAQEnable, 1), 12},
		{NewResponse(0, 1, RTypeDAQ, DAQEnable, 1), 12},
		{NewError(0), 12},
		{testSubsample(), 156},
		{testSample(), 2264},
	}
	for _, tc := range cases {
		size, err := Size(tc.p.Header().Type)
		if err != nil {
			t.Fatalf("size %s: %v", tc.p.Header().Type, err)
		}
		b, err := Encode(tc.p)
		if err != nil {
			t.Fatalf("encode %s: %v", tc.p.Header().Type, err)
		}
		if size != tc.want || len(b) != size {
			t.Fatalf("%s: size=%d encoded=%d want %d", tc.p.Header().Type, size, len(b), tc.want)
		}
		if of, err := SizeOf(tc.p); err != nil || of != size {
			t.Fatalf("%s: SizeOf=%d err=%v, want %d", tc.p.Header().Type, of, err, size)
		}
	}
}

func TestUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	if _, err := Size(0x42); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType from Size, got %v", err)
	}
	if _, err := SizeOf(nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType from SizeOf(nil), got %v", err)
	}
	if _, err := SizeOf(CommandPacket{}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType from SizeOf on empty command, got %v", err)
	}
	if _, err := Init(0x42, 0); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType from Init, got %v", err)
	}
	if _, err := Encode(CommandPacket{}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType for empty command, got %v", err)
	}
	b := []byte{Magic, Version, 0x42, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if _, err := Decode(b); KindOf(err) != KindProtocolMismatch {
		t.Fatalf("expected protocol mismatch kind, got %v", err)
	}
}

func TestInitStampsHeader(t *testing.T) {
	testlog.Start(t)
	for _, mt := range []MessageType{MsgRequest, MsgResponse, MsgError, MsgSubsample, MsgSample} {
		p, err := Init(mt, FlagLive)
		if err != nil {
			t.Fatalf("init %s: %v", mt, err)
		}
		h := p.Header()
		if h.Magic != Magic || h.Version != Version || h.Type != mt {
			t.Fatalf("bad header for %s: %+v", mt, h)
		}
		if mt != MsgError && h.IsError() {
			t.Fatalf("%s unexpectedly flagged error", mt)
		}
	}
}

func TestDecodeRejectsBadMagicWithoutMutating(t *testing.T) {
	testlog.Start(t)
	b, err := Encode(NewRequest(0, 9, RTypeUDP, 1, 0))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b[0] = 0x00
	if _, err := Decode(b); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	if b[0] != 0x00 {
		t.Fatalf("Decode must not modify its input")
	}
	if _, err := Decode(b[:3]); KindOf(err) != KindMalformedFrame {
		t.Fatalf("expected malformed kind for short header, got %v", err)
	}
}

func TestEncodeToShortBuffer(t *testing.T) {
	testlog.Start(t)
	buf := make([]byte, 8)
	if _, err := EncodeTo(buf, NewError(0)); !errors.Is(err, ErrShortPacket) {
		t.Fatalf("expected ErrShortPacket, got %v", err)
	}
	buf = make([]byte, 64)
	n, err := EncodeTo(buf, NewRequest(FlagWrite, 2, RTypeDAQ, DAQEnable, 1))
	if err != nil || n != 12 {
		t.Fatalf("encode into buffer: n=%d err=%v", n, err)
	}
	if buf[0] != Magic || buf[2] != byte(MsgRequest) || buf[3] != byte(FlagWrite) {
		t.Fatalf("unexpected header bytes: % x", buf[:4])
	}
}

// Request and response share a layout; the header alone tells them apart
// from each other and from error packets.
func TestRequestToResponseScenario(t *testing.T) {
	testlog.Start(t)
	req := NewRequest(FlagWrite, 100, RTypeDAQ, DAQEnable, 1)
	b, err := Encode(req)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	got, err := DecodeCommand(b)
	if err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if got.MessageType() != MsgRequest {
		t.Fatalf("expected request, got %s", got.MessageType())
	}
	r, ok := got.Request()
	if !ok || r.RType != RTypeDAQ || r.RAddr != DAQEnable || r.Value != 1 || r.ID != 100 {
		t.Fatalf("request fields changed: %+v", got)
	}

	res := CommandPacket{Flags: got.Flags, Body: Response(r)}
	rb, err := Encode(res)
	if err != nil {
		t.Fatalf("encode response: %v", err)
	}
	if string(rb[HeaderLen:]) != string(b[HeaderLen:]) {
		t.Fatalf("response body layout differs from request")
	}
	if res.Header().MessageType() != MsgResponse || res.IsError() {
		t.Fatalf("response header misclassified: %+v", res.Header())
	}
	errPkt := NewError(0)
	if errPkt.Header().MessageType() != MsgError || !errPkt.IsError() {
		t.Fatalf("error header misclassified: %+v", errPkt.Header())
	}
	if _, ok := res.Request(); ok {
		t.Fatalf("response must not read as a request")
	}
}

func TestKindOf(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{ErrMalformedFrame, KindMalformedFrame},
		{ErrTypeMismatch, KindProtocolMismatch},
		{ValidateRegister(RTypeGPIO, 9), KindValidation},
		{errors.New("connection reset"), KindTransport},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("KindOf(%v) = %s want %s", tc.err, got, tc.want)
		}
	}
}
