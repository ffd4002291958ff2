package transport

import (
	"context"
	"net"
	"time"

	"github.com/mdlayher/vsock"
)

// Dial connects to a. timeout bounds tcp and unix dials; vsock dials are
// local and return immediately.
func Dial(ctx context.Context, a Addr, timeout time.Duration) (net.Conn, error) {
	if a.Network == NetworkVsock {
		c, err := vsock.Dial(a.CID, a.Port, nil)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, a.Network, a.Address)
}

// Listen opens a stream listener on a. A vsock CID of 0 listens on the
// local context id.
func Listen(ctx context.Context, a Addr) (net.Listener, error) {
	if a.Network == NetworkVsock {
		var (
			ln  *vsock.Listener
			err error
		)
		if a.CID == 0 {
			ln, err = vsock.Listen(a.Port, nil)
		} else {
			ln, err = vsock.ListenContextID(a.CID, a.Port, nil)
		}
		if err != nil {
			return nil, err
		}
		return ln, nil
	}
	var lc net.ListenConfig
	return lc.Listen(ctx, a.Network, a.Address)
}

// ListenString parses raw and listens on it.
func ListenString(ctx context.Context, raw string) (net.Listener, error) {
	a, err := ParseAddr(raw)
	if err != nil {
		return nil, err
	}
	return Listen(ctx, a)
}
