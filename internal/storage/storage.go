// Package storage persists full-sample packets for one acquisition channel.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/danmuck/daqctl/internal/protocol/raw"
	"golang.org/x/sys/unix"
)

var ErrClosed = errors.New("storage: channel closed")

// Store opens channels.
type Store interface {
	Open(path string, flag int) (Channel, error)
}

// Channel appends batches of full-sample packets. Write either stores the
// whole batch or returns an error.
type Channel interface {
	Write(batch []*raw.SamplePacket) error
	DataSync() error
	Close() error
}

// RawStore writes packets in wire form, back to back.
type RawStore struct {
	Perm os.FileMode
}

func NewRawStore() *RawStore {
	return &RawStore{Perm: 0o644}
}

func (s *RawStore) Open(path string, flag int) (Channel, error) {
	if flag == 0 {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, s.Perm)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &rawChannel{f: f}, nil
}

type rawChannel struct {
	mu  sync.Mutex
	f   *os.File
	buf []byte
}

func (c *rawChannel) Write(batch []*raw.SamplePacket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return ErrClosed
	}
	c.buf = c.buf[:0]
	for _, p := range batch {
		b, err := raw.Encode(p)
		if err != nil {
			return err
		}
		c.buf = append(c.buf, b...)
	}
	n, err := c.f.Write(c.buf)
	if err != nil {
		return fmt.Errorf("storage: write: %w", err)
	}
	if n != len(c.buf) {
		return fmt.Errorf("storage: wrote %d of %d bytes: %w", n, len(c.buf), io.ErrShortWrite)
	}
	return nil
}

func (c *rawChannel) DataSync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return ErrClosed
	}
	if err := unix.Fdatasync(int(c.f.Fd())); err != nil {
		return fmt.Errorf("storage: fdatasync: %w", err)
	}
	return nil
}

func (c *rawChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return ErrClosed
	}
	err := c.f.Close()
	c.f = nil
	return err
}
