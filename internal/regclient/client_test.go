package regclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/daqctl/internal/protocol/frame"
	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/danmuck/daqctl/internal/protocol/regio"
	"github.com/danmuck/daqctl/internal/testutil/testlog"
)

// fakeDaemon answers each command with handle's reply.
func fakeDaemon(t *testing.T, conn net.Conn, handle func(regio.Command) frame.Frame) {
	t.Helper()
	go func() {
		for {
			f, err := frame.ReadFrame(conn, frame.DefaultLimits())
			if err != nil {
				return
			}
			cmd, err := regio.DecodeCommand(f)
			if err != nil {
				return
			}
			if err := frame.WriteFrame(conn, handle(cmd), frame.DefaultLimits()); err != nil {
				return
			}
		}
	}()
}

func TestClientWriteRead(t *testing.T) {
	testlog.Start(t)

	local, remote := net.Pipe()
	defer remote.Close()
	stored := uint32(0)
	fakeDaemon(t, remote, func(cmd regio.Command) frame.Frame {
		if cmd.Write {
			stored = cmd.Value
		}
		f, _ := regio.EncodeResult(regio.Result{
			MessageID: cmd.MessageID,
			RType:     cmd.RType,
			RAddr:     cmd.RAddr,
			Value:     stored,
			Write:     cmd.Write,
		})
		return f
	})

	c := NewClient(local, Config{Timeout: 2 * time.Second})
	defer c.Close()
	ctx := context.Background()

	res, err := c.Write(ctx, raw.RTypeDAQ, raw.DAQEnable, 1)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !res.Write || res.Value != 1 || res.MessageID != 1 {
		t.Fatalf("unexpected write result: %+v", res)
	}
	res, err = c.Read(ctx, raw.RTypeDAQ, raw.DAQEnable)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Write || res.Value != 1 || res.MessageID != 2 {
		t.Fatalf("unexpected read result: %+v", res)
	}
}

func TestClientRemoteError(t *testing.T) {
	testlog.Start(t)

	local, remote := net.Pipe()
	defer remote.Close()
	fakeDaemon(t, remote, func(cmd regio.Command) frame.Frame {
		f, _ := regio.EncodeError(&regio.RemoteError{MessageID: cmd.MessageID, Code: regio.CodeNoDnode})
		return f
	})

	c := NewClient(local, Config{Timeout: 2 * time.Second})
	defer c.Close()
	_, err := c.Read(context.Background(), raw.RTypeCentral, raw.CentralBoardID)
	var remoteErr *regio.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if remoteErr.Code != regio.CodeNoDnode {
		t.Fatalf("unexpected code: %v", remoteErr.Code)
	}
}

func TestClientClosed(t *testing.T) {
	testlog.Start(t)

	local, remote := net.Pipe()
	defer remote.Close()
	c := NewClient(local, Config{})
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Read(context.Background(), raw.RTypeDAQ, raw.DAQEnable); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDialRequiresAddress(t *testing.T) {
	testlog.Start(t)

	if _, err := Dial(context.Background(), Config{}); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}
