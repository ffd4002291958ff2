package dnode

import (
	"context"
	"io"
	"math/rand"
	"time"

	"github.com/danmuck/daqctl/internal/protocol/raw"
)

// ChaosConfig makes the streamer drop or duplicate packets at random.
type ChaosConfig struct {
	Enabled bool
	PDrop   float64
	PDup    float64
	Seed    int64
}

type StreamConfig struct {
	Target   string
	Interval time.Duration
	// Count stops the stream after that many indexes; zero streams forever.
	Count uint32
	Start uint32
	Chaos ChaosConfig
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Interval: 10 * time.Millisecond,
		Chaos:    ChaosConfig{PDrop: 0.5, PDup: 0.5},
	}
}

func (c StreamConfig) WithDefaults() StreamConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultStreamConfig().Interval
	}
	return c
}

// StreamStats counts what a streamer emitted.
type StreamStats struct {
	Sent       uint64
	Dropped    uint64
	Duplicated uint64
	Next       uint32
}

// Streamer emits full-sample packets with increasing sample indexes.
type Streamer struct {
	cfg  StreamConfig
	regs *Registers
	rng  *rand.Rand
}

func NewStreamer(cfg StreamConfig, regs *Registers) *Streamer {
	cfg = cfg.WithDefaults()
	seed := cfg.Chaos.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if regs == nil {
		regs = NewRegisters()
	}
	return &Streamer{cfg: cfg, regs: regs, rng: rand.New(rand.NewSource(seed))}
}

// Run writes one packet per interval to w until ctx is done or Count
// indexes have been produced.
func (s *Streamer) Run(ctx context.Context, w io.Writer) (StreamStats, error) {
	st := StreamStats{Next: s.cfg.Start}
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for produced := uint32(0); s.cfg.Count == 0 || produced < s.cfg.Count; produced++ {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-t.C:
		}
		if err := s.emit(w, &st); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (s *Streamer) emit(w io.Writer, st *StreamStats) error {
	p := s.Packet(st.Next)
	st.Next++
	if st.Next == raw.NoSample {
		st.Next = 0
	}
	if s.roll(s.cfg.Chaos.PDrop) {
		st.Dropped++
		return nil
	}
	copies := 1
	if s.roll(s.cfg.Chaos.PDup) {
		copies = 2
		st.Duplicated++
	}
	for i := 0; i < copies; i++ {
		if _, err := raw.Send(w, p); err != nil {
			return err
		}
		st.Sent++
	}
	return nil
}

func (s *Streamer) roll(p float64) bool {
	return s.cfg.Chaos.Enabled && p > s.rng.Float64()
}

// Packet builds the sample at index idx from the current register file.
func (s *Streamer) Packet(idx uint32) *raw.SamplePacket {
	hi, _ := s.regs.Get(raw.RTypeCentral, raw.CentralExpCookieH)
	lo, _ := s.regs.Get(raw.RTypeCentral, raw.CentralExpCookieL)
	board, _ := s.regs.Get(raw.RTypeCentral, raw.CentralBoardID)
	live, _ := s.regs.Get(raw.RTypeDAQ, raw.DAQChipAlive)

	p := raw.NewSample(0)
	p.Cookie = uint64(hi)<<32 | uint64(lo)
	p.BoardID = board
	p.Index = idx
	p.ChipLive = live
	for i := range p.Samples {
		p.Samples[i] = uint16(idx + uint32(i))
	}
	return p
}
