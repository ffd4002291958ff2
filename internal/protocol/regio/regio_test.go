package regio

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/daqctl/internal/protocol/frame"
	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/danmuck/daqctl/internal/protocol/schema"
	"github.com/danmuck/daqctl/internal/protocol/tlv"
	"github.com/danmuck/daqctl/internal/testutil/testlog"
)

func wireTrip(t *testing.T, f frame.Frame) frame.Frame {
	t.Helper()
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, frame.DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := frame.ReadFrame(&buf, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return out
}

func TestCommandReadWriteDistinction(t *testing.T) {
	testlog.Start(t)
	read := Command{MessageID: 1, RType: raw.RTypeDAQ, RAddr: raw.DAQEnable}
	f, err := EncodeCommand(read)
	if err != nil {
		t.Fatalf("encode read: %v", err)
	}
	got, err := DecodeCommand(wireTrip(t, f))
	if err != nil {
		t.Fatalf("decode read: %v", err)
	}
	if got != read {
		t.Fatalf("read mismatch: got %+v want %+v", got, read)
	}

	write := Command{MessageID: 2, RType: raw.RTypeDAQ, RAddr: raw.DAQEnable, Value: 1, Write: true}
	f, _ = EncodeCommand(write)
	got, err = DecodeCommand(wireTrip(t, f))
	if err != nil {
		t.Fatalf("decode write: %v", err)
	}
	if got != write {
		t.Fatalf("write mismatch: got %+v want %+v", got, write)
	}
}

func TestCommandRequestFlags(t *testing.T) {
	testlog.Start(t)
	req := Command{RType: raw.RTypeCentral, RAddr: raw.CentralState, Value: 9}.Request(7)
	r, ok := req.Request()
	if !ok || r.Value != 0 || req.Header().IsWrite() {
		t.Fatalf("read request must carry zero value and no write flag: %+v", req)
	}
	req = Command{RType: raw.RTypeCentral, RAddr: raw.CentralState, Value: 9, Write: true}.Request(8)
	r, _ = req.Request()
	if r.Value != 9 || r.ID != 8 || !req.Header().IsWrite() {
		t.Fatalf("write request mismatch: %+v", req)
	}
}

func TestResultRoundTripAndReply(t *testing.T) {
	testlog.Start(t)
	res := raw.NewResponse(raw.FlagWrite|raw.FlagError, 3, raw.RTypeGPIO, raw.GPIOState, 0xDEADBEEF)
	want, err := ResultFrom(11, res)
	if err != nil {
		t.Fatalf("result from: %v", err)
	}
	if !want.Write || !want.DnodeError || want.RID != 3 {
		t.Fatalf("unexpected result: %+v", want)
	}
	f, err := EncodeResult(want)
	if err != nil {
		t.Fatalf("encode result: %v", err)
	}
	got, err := DecodeReply(wireTrip(t, f))
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if got != want {
		t.Fatalf("result mismatch: got %+v want %+v", got, want)
	}
	if _, err := ResultFrom(1, raw.NewError(0)); !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("expected ErrUnexpectedMessage for error packet, got %v", err)
	}
}

func TestErrorReply(t *testing.T) {
	testlog.Start(t)
	f, err := EncodeError(&RemoteError{MessageID: 4, Code: CodeNoDnode})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	_, err = DecodeReply(wireTrip(t, f))
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if remote.Code != CodeNoDnode || remote.MessageID != 4 || remote.Message != "not connected to data node" {
		t.Fatalf("unexpected remote error: %+v", remote)
	}
}

func TestDecodeCommandRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	f := frame.Frame{
		Header:  frame.Header{MessageType: schema.MsgRegIO},
		Payload: tlv.EncodeFields([]tlv.Field{tlv.U8(schema.FieldRType, 3)}),
	}
	if _, err := DecodeCommand(f); err == nil {
		t.Fatalf("expected missing r_addr to fail")
	}
	f.Payload = tlv.EncodeFields([]tlv.Field{
		tlv.U8(schema.FieldRType, 3),
		{ID: schema.FieldRAddr, Type: tlv.TypeU8},
	})
	if _, err := DecodeCommand(f); err == nil {
		t.Fatalf("expected empty r_addr to fail")
	}
	f.Header.MessageType = schema.MsgError
	if _, err := DecodeCommand(f); !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}
}
