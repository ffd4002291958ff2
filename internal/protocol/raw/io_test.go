package raw

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/danmuck/daqctl/internal/testutil/testlog"
)

func TestSendWritesExactlySize(t *testing.T) {
	testlog.Start(t)
	for _, p := range []Packet{NewRequest(0, 1, RTypeDAQ, 1, 0), NewError(0), testSubsample(), testSample()} {
		var buf bytes.Buffer
		n, err := Send(&buf, p)
		if err != nil {
			t.Fatalf("send %s: %v", p.Header().Type, err)
		}
		size, _ := Size(p.Header().Type)
		if n != size || buf.Len() != size {
			t.Fatalf("%s: sent %d bytes, buffered %d, want %d", p.Header().Type, n, buf.Len(), size)
		}
	}
}

func TestSendLeavesPacketUsable(t *testing.T) {
	testlog.Start(t)
	p := testSample()
	want := *p
	var buf bytes.Buffer
	if _, err := Send(&buf, p); err != nil {
		t.Fatalf("send: %v", err)
	}
	if *p != want {
		t.Fatalf("Send modified the packet")
	}
}

func TestReceivePinnedType(t *testing.T) {
	testlog.Start(t)
	var wire bytes.Buffer
	if _, err := Send(&wire, NewResponse(0, 5, RTypeCentral, CentralState, 3)); err != nil {
		t.Fatalf("send: %v", err)
	}
	buf := make([]byte, MaxSize)
	expect := MsgResponse
	p, n, err := Receive(&wire, buf, &expect)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if n != 12 {
		t.Fatalf("unexpected byte count: %d", n)
	}
	res, ok := p.(CommandPacket).Response()
	if !ok || res.ID != 5 || res.Value != 3 {
		t.Fatalf("unexpected response: %+v", p)
	}
}

func TestReceiveBadMagicRestoresSentinel(t *testing.T) {
	testlog.Start(t)
	b, _ := Encode(NewResponse(0, 1, RTypeDAQ, DAQEnable, 1))
	b[0] = 0xA5
	buf := make([]byte, MaxSize)
	expect := MsgResponse
	_, _, err := Receive(bytes.NewReader(b), buf, &expect)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	if buf[0] != Magic {
		t.Fatalf("magic not restored: 0x%02x", buf[0])
	}

	expect = MsgNone
	_, _, err = Receive(bytes.NewReader(b), buf, &expect)
	if KindOf(err) != KindMalformedFrame || buf[0] != Magic {
		t.Fatalf("unpinned read: err=%v magic=0x%02x", err, buf[0])
	}
	if expect != MsgNone {
		t.Fatalf("expect must stay unpinned after failure, got %s", expect)
	}
}

func TestReceiveTypeMismatchKeepsCallerPacket(t *testing.T) {
	testlog.Start(t)
	prev := NewResponse(0, 77, RTypeSATA, 3, 0xAAAA)
	b, _ := Encode(NewRequest(0, 1, RTypeDAQ, DAQEnable, 1))

	buf := make([]byte, MaxSize)
	expect := MsgResponse
	p, _, err := Receive(bytes.NewReader(b), buf, &expect)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if KindOf(err) != KindProtocolMismatch {
		t.Fatalf("unexpected kind: %s", KindOf(err))
	}
	if p != nil {
		t.Fatalf("mismatch must not return a packet: %+v", p)
	}
	if r, _ := prev.Response(); r.ID != 77 || r.Value != 0xAAAA {
		t.Fatalf("caller packet changed: %+v", prev)
	}
	if expect != MsgResponse {
		t.Fatalf("pinned type must not change, got %s", expect)
	}
}

func TestReceiveUnpinnedReadsBodyAndReportsType(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sub := testSubsample()
	go func() {
		_, _ = Send(server, sub)
		_, _ = Send(server, NewRequest(FlagWrite, 2, RTypeDAQ, DAQEnable, 1))
	}()

	buf := make([]byte, MaxSize)
	expect := MsgNone
	p, n, err := Receive(client, buf, &expect)
	if err != nil {
		t.Fatalf("receive subsample: %v", err)
	}
	if expect != MsgSubsample || n != 156 {
		t.Fatalf("unexpected type/size: %s/%d", expect, n)
	}
	if got := p.(*SubsamplePacket); *got != *sub {
		t.Fatalf("subsample mismatch")
	}

	expect = MsgNone
	p, _, err = Receive(client, buf, &expect)
	if err != nil {
		t.Fatalf("receive request: %v", err)
	}
	if expect != MsgRequest || !p.Header().IsWrite() {
		t.Fatalf("unexpected second packet: %s %+v", expect, p.Header())
	}
}

func TestReceiveShortStreamIsTransportError(t *testing.T) {
	testlog.Start(t)
	b, _ := Encode(NewRequest(0, 1, RTypeDAQ, DAQEnable, 1))
	buf := make([]byte, MaxSize)
	expect := MsgRequest
	_, _, err := Receive(bytes.NewReader(b[:7]), buf, &expect)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
	if KindOf(err) != KindTransport {
		t.Fatalf("unexpected kind: %s", KindOf(err))
	}
}
