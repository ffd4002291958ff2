package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/danmuck/daqctl/internal/protocol/raw"
	"github.com/danmuck/daqctl/internal/protocol/regio"
	"github.com/danmuck/daqctl/internal/regclient"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("regctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "127.0.0.1:1371", "daemon client address")
	rtype := fs.String("type", "", "register subsystem: err|central|sata|daq|udp|gpio or number")
	reg := fs.String("reg", "", "register name or number")
	val := fs.String("val", "", "value to write; omit to read")
	timeout := fs.Duration("timeout", 5*time.Second, "command timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cmd, err := parseCommand(*rtype, *reg, *val)
	if err != nil {
		fmt.Fprintf(stderr, "regctl: %v\n", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	client, err := regclient.Dial(ctx, regclient.Config{Address: *addr, Timeout: *timeout})
	if err != nil {
		fmt.Fprintf(stderr, "regctl: %v\n", err)
		return 1
	}
	defer client.Close()

	res, err := client.Do(ctx, cmd)
	if err != nil {
		var remote *regio.RemoteError
		if errors.As(err, &remote) {
			fmt.Fprintf(stderr, "regctl: daemon error %d: %s\n", remote.Code, remote.Message)
			return 1
		}
		fmt.Fprintf(stderr, "regctl: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, formatResult(res))
	if res.DnodeError {
		return 1
	}
	return 0
}

func parseCommand(rtype, reg, val string) (regio.Command, error) {
	if rtype == "" || reg == "" {
		return regio.Command{}, errors.New("-type and -reg are required")
	}
	t, err := raw.ParseRType(rtype)
	if err != nil {
		return regio.Command{}, err
	}
	addr, err := raw.ParseRegister(t, reg)
	if err != nil {
		return regio.Command{}, err
	}
	cmd := regio.Command{RType: t, RAddr: addr}
	if val != "" {
		v, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return regio.Command{}, fmt.Errorf("bad -val %q: %w", val, err)
		}
		cmd.Value, cmd.Write = uint32(v), true
	}
	return cmd, nil
}

func formatResult(res regio.Result) string {
	op := "read"
	if res.Write {
		op = "write"
	}
	out := fmt.Sprintf("%s %s.%s = 0x%08x (%d) r_id=%d",
		op, res.RType, raw.RegisterName(res.RType, res.RAddr), res.Value, res.Value, res.RID)
	if res.DnodeError {
		out += " [data node error]"
	}
	return out
}
