// Package sample receives streamed packets from the data node, tracks
// sample index continuity and hands full samples to channel storage.
package sample

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/daqctl/internal/observability"
	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/danmuck/daqctl/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// BatchSize full samples are grouped per storage write.
	BatchSize int
	// SyncEvery batches trigger one DataSync.
	SyncEvery int
	// QueueDepth is the number of batches waiting for the writer.
	QueueDepth int
	Logger     *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		BatchSize:  32,
		SyncEvery:  16,
		QueueDepth: 8,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.SyncEvery <= 0 {
		c.SyncEvery = d.SyncEvery
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	return c
}

// Stats is a snapshot of receiver counters.
type Stats struct {
	Samples     uint64 `json:"samples"`
	Subsamples  uint64 `json:"subsamples"`
	Forwarded   uint64 `json:"forwarded"`
	Invalid     uint64 `json:"invalid"`
	Flagged     uint64 `json:"flagged"`
	Dropped     uint64 `json:"dropped"`
	Duplicates  uint64 `json:"duplicates"`
	Batches     uint64 `json:"batches"`
	Stored      uint64 `json:"stored"`
	WriteErrors uint64 `json:"write_errors"`
	NextIndex   uint32 `json:"next_index"`
}

// Receiver consumes datagrams. Full samples go to the storage channel,
// subsamples to the forward writer. Either may be nil.
type Receiver struct {
	cfg     Config
	channel storage.Channel
	forward io.Writer
	log     zerolog.Logger

	mu      sync.Mutex
	stats   Stats
	synced  bool
	batch   []*raw.SamplePacket
	queue   chan []*raw.SamplePacket
	pending int
}

func NewReceiver(cfg Config, ch storage.Channel, forward io.Writer) *Receiver {
	cfg = cfg.WithDefaults()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Receiver{
		cfg:     cfg,
		channel: ch,
		forward: forward,
		log:     logger.With().Str("component", "sample").Logger(),
		queue:   make(chan []*raw.SamplePacket, cfg.QueueDepth),
	}
}

// Serve reads datagrams from pc until ctx is done, then flushes and syncs
// what it has. pc is not closed. Serve runs once per Receiver.
func (r *Receiver) Serve(ctx context.Context, pc net.PacketConn) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.write()
	}()
	stop := context.AfterFunc(ctx, func() { _ = pc.SetReadDeadline(time.Now()) })
	defer stop()

	r.log.Info().Str("addr", pc.LocalAddr().String()).Msg("sample.receiving")
	buf := make([]byte, raw.MaxSize+1)
	var serveErr error
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				serveErr = err
			}
			break
		}
		if err := r.Handle(ctx, buf[:n]); err != nil {
			break
		}
	}

	r.mu.Lock()
	last := r.batch
	r.batch = nil
	r.mu.Unlock()
	if len(last) > 0 {
		r.queue <- last
	}
	close(r.queue)
	<-done
	r.log.Info().Interface("stats", r.Stats()).Msg("sample.stopped")
	return serveErr
}

// Handle processes one datagram. It only fails when ctx ends while the
// writer queue is full.
func (r *Receiver) Handle(ctx context.Context, b []byte) error {
	p, err := raw.Decode(b)
	if err != nil {
		r.count(func(s *Stats) { s.Invalid++ })
		observability.RecordSamplePackets("invalid", 1)
		r.log.Debug().Err(err).Int("len", len(b)).Msg("sample.malformed")
		return nil
	}
	if p.Header().IsError() {
		r.count(func(s *Stats) { s.Flagged++ })
		observability.RecordSamplePackets("flagged", 1)
		return nil
	}
	switch pkt := p.(type) {
	case *raw.SubsamplePacket:
		r.count(func(s *Stats) { s.Subsamples++ })
		observability.RecordSamplePackets("bsub", 1)
		r.forwardSubsample(b)
		return nil
	case *raw.SamplePacket:
		return r.sample(ctx, pkt)
	default:
		r.count(func(s *Stats) { s.Invalid++ })
		observability.RecordSamplePackets("invalid", 1)
		return nil
	}
}

func (r *Receiver) forwardSubsample(b []byte) {
	if r.forward == nil {
		return
	}
	size, _ := raw.Size(raw.MsgSubsample)
	if _, err := r.forward.Write(b[:size]); err != nil {
		r.log.Warn().Err(err).Msg("sample.forward")
		return
	}
	r.count(func(s *Stats) { s.Forwarded++ })
}

func (r *Receiver) sample(ctx context.Context, p *raw.SamplePacket) error {
	r.mu.Lock()
	dropped, dup := r.sequence(p.Index)
	if dup {
		r.stats.Duplicates++
		r.mu.Unlock()
		observability.RecordSamplePackets("duplicate", 1)
		return nil
	}
	r.stats.Samples++
	r.stats.Dropped += dropped
	r.batch = append(r.batch, p)
	var full []*raw.SamplePacket
	if len(r.batch) >= r.cfg.BatchSize {
		full, r.batch = r.batch, nil
	}
	r.mu.Unlock()

	observability.RecordSamplePackets("bsmp", 1)
	if dropped > 0 {
		observability.RecordDroppedSamples(dropped)
		r.log.Debug().Uint32("index", p.Index).Uint64("dropped", dropped).Msg("sample.gap")
	}
	if full == nil {
		return nil
	}
	select {
	case r.queue <- full:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sequence advances the expected index. It returns the number of indexes
// skipped, or dup when idx is at or behind one already seen. Caller holds mu.
func (r *Receiver) sequence(idx uint32) (dropped uint64, dup bool) {
	if idx == raw.NoSample {
		r.synced = false
		return 0, false
	}
	if !r.synced {
		r.synced = true
		r.stats.NextIndex = next(idx)
		return 0, false
	}
	gap := idx - r.stats.NextIndex
	if gap >= 1<<31 {
		return 0, true
	}
	r.stats.NextIndex = next(idx)
	return uint64(gap), false
}

func next(idx uint32) uint32 {
	idx++
	if idx == raw.NoSample {
		return 0
	}
	return idx
}

func (r *Receiver) write() {
	for batch := range r.queue {
		if r.channel == nil {
			continue
		}
		err := r.channel.Write(batch)
		observability.RecordStorageWrite(err == nil)
		r.mu.Lock()
		r.stats.Batches++
		if err != nil {
			r.stats.WriteErrors++
		} else {
			r.stats.Stored += uint64(len(batch))
		}
		r.pending++
		doSync := r.pending >= r.cfg.SyncEvery
		if doSync {
			r.pending = 0
		}
		r.mu.Unlock()
		if err != nil {
			r.log.Error().Err(err).Int("packets", len(batch)).Msg("sample.store")
		}
		if doSync {
			r.sync()
		}
	}
	if r.channel != nil {
		r.sync()
	}
}

func (r *Receiver) sync() {
	if err := r.channel.DataSync(); err != nil {
		r.log.Error().Err(err).Msg("sample.sync")
	}
}

func (r *Receiver) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
