package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/daqctl/internal/testutil/testlog"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	testlog.Start(t)
	in := []Field{
		U8(1, 3),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}},
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	testlog.Start(t)
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestTypedConstructorsAndReaders(t *testing.T) {
	testlog.Start(t)
	if v, err := U8FromBytes(U8(1, 0xAB).Value); err != nil || v != 0xAB {
		t.Fatalf("u8: %v %v", v, err)
	}
	if v, err := U16FromBytes(U16(1, 0xBEEF).Value); err != nil || v != 0xBEEF {
		t.Fatalf("u16: %v %v", v, err)
	}
	if v, err := U32FromBytes(U32(1, 0xDEADBEEF).Value); err != nil || v != 0xDEADBEEF {
		t.Fatalf("u32: %v %v", v, err)
	}
	if v, err := BoolFromBytes(Bool(1, true).Value); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if _, err := U32FromBytes([]byte{1, 2}); err == nil {
		t.Fatalf("expected short u32 to fail")
	}
	if err := MustType(String(4, "x"), TypeU32); err == nil {
		t.Fatalf("expected type mismatch")
	}
}
