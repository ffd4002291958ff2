package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrBadAddr = errors.New("transport: bad address")

const (
	NetworkTCP   = "tcp"
	NetworkUnix  = "unix"
	NetworkVsock = "vsock"
)

// Addr is a parsed endpoint. Vsock endpoints use CID and Port; the others
// use Address.
type Addr struct {
	Network string
	Address string
	CID     uint32
	Port    uint32
}

func (a Addr) String() string {
	switch a.Network {
	case NetworkVsock:
		return fmt.Sprintf("vsock://%d:%d", a.CID, a.Port)
	case NetworkUnix:
		return "unix://" + a.Address
	default:
		return "tcp://" + a.Address
	}
}

// ParseAddr accepts "tcp://host:port", "unix:///path", "vsock://cid:port"
// or a bare "host:port" (tcp).
func ParseAddr(raw string) (Addr, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Addr{}, fmt.Errorf("%w: empty", ErrBadAddr)
	}
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		scheme, rest = NetworkTCP, raw
	}
	switch strings.ToLower(scheme) {
	case NetworkTCP:
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return Addr{}, fmt.Errorf("%w: %q: %v", ErrBadAddr, raw, err)
		}
		return Addr{Network: NetworkTCP, Address: rest}, nil
	case NetworkUnix:
		if rest == "" {
			return Addr{}, fmt.Errorf("%w: %q: empty socket path", ErrBadAddr, raw)
		}
		return Addr{Network: NetworkUnix, Address: rest}, nil
	case NetworkVsock:
		cid, port, ok := strings.Cut(rest, ":")
		if !ok {
			return Addr{}, fmt.Errorf("%w: %q: want vsock://cid:port", ErrBadAddr, raw)
		}
		c, err := strconv.ParseUint(cid, 10, 32)
		if err != nil {
			return Addr{}, fmt.Errorf("%w: %q: cid: %v", ErrBadAddr, raw, err)
		}
		p, err := strconv.ParseUint(port, 10, 32)
		if err != nil {
			return Addr{}, fmt.Errorf("%w: %q: port: %v", ErrBadAddr, raw, err)
		}
		return Addr{Network: NetworkVsock, CID: uint32(c), Port: uint32(p)}, nil
	default:
		return Addr{}, fmt.Errorf("%w: %q: unknown scheme %q", ErrBadAddr, raw, scheme)
	}
}
