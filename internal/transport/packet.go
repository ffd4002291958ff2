package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// PacketConfig tunes the sample UDP socket.
type PacketConfig struct {
	ReuseAddr  bool
	ReadBuffer int
}

// ListenPacket opens a UDP socket on addr with the configured socket options
// applied before bind.
func ListenPacket(ctx context.Context, addr string, cfg PacketConfig) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if cfg.ReuseAddr {
					if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
						sockErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
						return
					}
				}
				if cfg.ReadBuffer > 0 {
					if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.ReadBuffer); err != nil {
						sockErr = fmt.Errorf("set SO_RCVBUF: %w", err)
						return
					}
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.ListenPacket(ctx, "udp", addr)
}
