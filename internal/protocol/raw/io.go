package raw

import (
	"fmt"
	"io"
)

// Send writes exactly Size(p) bytes of p to w.
func Send(w io.Writer, p Packet) (int, error) {
	b, err := Encode(p)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	if err != nil {
		return n, err
	}
	if n != len(b) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Receive reads one packet from r using buf as scratch space; buf must hold
// at least MaxSize bytes for unpinned reads, or Size(*expect) when pinned.
//
// When *expect is MsgNone the header is read first and the body is sized
// from its message type, which is then stored in *expect. When *expect is
// pinned, exactly Size(*expect) bytes are read and a different message type
// fails with ErrTypeMismatch.
//
// A bad magic byte fails with ErrMalformedFrame; buf[0] is reset to Magic
// before returning so the buffer stays reusable.
func Receive(r io.Reader, buf []byte, expect *MessageType) (Packet, int, error) {
	want := MsgNone
	if expect != nil {
		want = *expect
	}

	if want != MsgNone {
		size, err := Size(want)
		if err != nil {
			return nil, 0, err
		}
		if len(buf) < size {
			return nil, 0, fmt.Errorf("%w: buffer %d < %d", ErrShortPacket, len(buf), size)
		}
		n, err := io.ReadFull(r, buf[:size])
		if err != nil {
			return nil, n, err
		}
		if buf[0] != Magic {
			return nil, n, restoreMagic(buf)
		}
		if got := MessageType(buf[2]); got != want {
			return nil, n, fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, got, want)
		}
		p, err := Decode(buf[:size])
		return p, n, err
	}

	if len(buf) < HeaderLen {
		return nil, 0, fmt.Errorf("%w: buffer %d < %d", ErrShortPacket, len(buf), HeaderLen)
	}
	n, err := io.ReadFull(r, buf[:HeaderLen])
	if err != nil {
		return nil, n, err
	}
	if buf[0] != Magic {
		return nil, n, restoreMagic(buf)
	}
	got := MessageType(buf[2])
	size, err := Size(got)
	if err != nil {
		return nil, n, err
	}
	if len(buf) < size {
		return nil, n, fmt.Errorf("%w: buffer %d < %d", ErrShortPacket, len(buf), size)
	}
	m, err := io.ReadFull(r, buf[HeaderLen:size])
	n += m
	if err != nil {
		return nil, n, err
	}
	if expect != nil {
		*expect = got
	}
	p, err := Decode(buf[:size])
	return p, n, err
}

func restoreMagic(buf []byte) error {
	bad := buf[0]
	buf[0] = Magic
	return fmt.Errorf("%w: magic 0x%02x", ErrMalformedFrame, bad)
}
