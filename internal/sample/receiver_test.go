package sample

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/danmuck/daqctl/internal/testutil/testlog"
)

type memChannel struct {
	mu      sync.Mutex
	indexes []uint32
	writes  int
	syncs   int
}

func (m *memChannel) Write(batch []*raw.SamplePacket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	for _, p := range batch {
		m.indexes = append(m.indexes, p.Index)
	}
	return nil
}

func (m *memChannel) DataSync() error {
	m.mu.Lock()
	m.syncs++
	m.mu.Unlock()
	return nil
}

func (m *memChannel) Close() error { return nil }

func sampleBytes(t *testing.T, idx uint32, flags raw.Flags) []byte {
	t.Helper()
	p := raw.NewSample(flags)
	p.Index = idx
	b, err := raw.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestSequenceCountsGapsAndDuplicates(t *testing.T) {
	testlog.Start(t)

	ch := &memChannel{}
	r := NewReceiver(Config{BatchSize: 100}, ch, nil)
	ctx := context.Background()
	for _, idx := range []uint32{5, 6, 9, 9, 7, 10} {
		if err := r.Handle(ctx, sampleBytes(t, idx, 0)); err != nil {
			t.Fatalf("handle %d: %v", idx, err)
		}
	}
	st := r.Stats()
	if st.Samples != 4 || st.Dropped != 2 || st.Duplicates != 2 || st.NextIndex != 11 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestSequenceWrapAndRestart(t *testing.T) {
	testlog.Start(t)

	r := NewReceiver(Config{BatchSize: 100}, nil, nil)
	ctx := context.Background()
	for _, idx := range []uint32{raw.NoSample - 2, raw.NoSample - 1, 0, 1, raw.NoSample, 500, 501} {
		if err := r.Handle(ctx, sampleBytes(t, idx, 0)); err != nil {
			t.Fatalf("handle %d: %v", idx, err)
		}
	}
	st := r.Stats()
	if st.Dropped != 0 || st.Duplicates != 0 || st.Samples != 7 || st.NextIndex != 502 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestHandleSkipsFlaggedAndMalformed(t *testing.T) {
	testlog.Start(t)

	r := NewReceiver(Config{}, nil, nil)
	ctx := context.Background()
	_ = r.Handle(ctx, sampleBytes(t, 1, raw.FlagError))
	_ = r.Handle(ctx, []byte{0x00, 0x00, 0x81, 0x00})
	req, _ := raw.Encode(raw.NewRequest(0, 1, raw.RTypeDAQ, raw.DAQEnable, 0))
	_ = r.Handle(ctx, req)

	st := r.Stats()
	if st.Flagged != 1 || st.Invalid != 2 || st.Samples != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestForwardSubsamples(t *testing.T) {
	testlog.Start(t)

	var fwd bytes.Buffer
	r := NewReceiver(Config{}, nil, &fwd)
	p := raw.NewSubsample(raw.FlagLive)
	p.Index = 3
	b, err := raw.Encode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := r.Handle(context.Background(), b); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !bytes.Equal(fwd.Bytes(), b) {
		t.Fatalf("forwarded bytes differ")
	}
	if st := r.Stats(); st.Subsamples != 1 || st.Forwarded != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestServeBatchesToStorage(t *testing.T) {
	testlog.Start(t)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	ch := &memChannel{}
	r := NewReceiver(Config{BatchSize: 4, SyncEvery: 2}, ch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, pc) }()

	sender, err := net.Dial("udp", pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sender.Close()
	for i := uint32(0); i < 10; i++ {
		if _, err := sender.Write(sampleBytes(t, i, 0)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.Stats().Samples < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if len(ch.indexes) != 10 {
		t.Fatalf("stored %d packets", len(ch.indexes))
	}
	for i, idx := range ch.indexes {
		if idx != uint32(i) {
			t.Fatalf("stored out of order at %d: %d", i, idx)
		}
	}
	if ch.writes != 3 {
		t.Fatalf("expected 3 batch writes, got %d", ch.writes)
	}
	if ch.syncs < 2 {
		t.Fatalf("expected periodic and final sync, got %d", ch.syncs)
	}
}
