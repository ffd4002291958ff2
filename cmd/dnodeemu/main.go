package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/daqctl/internal/config"
	"github.com/danmuck/daqctl/internal/dnode"
	"github.com/danmuck/daqctl/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to dnodeemu TOML config")
	dial := flag.String("dial", "", "daemon dnode address to dial (overrides config)")
	listen := flag.String("listen", "", "address to accept the daemon on (overrides config)")
	target := flag.String("stream", "", "UDP target for full-sample packets (overrides config)")
	chaos := flag.Bool("chaos", false, "randomly drop and duplicate streamed packets")
	flag.Parse()

	logger := observability.InitLogger("dnodeemu")

	cfg := dnode.DefaultConfig()
	cfg.Listen = ""
	cfg.Dial = "127.0.0.1:1370"
	if *configPath != "" {
		fileCfg, err := config.LoadEmulatorConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dnodeemu: %v\n", err)
			os.Exit(1)
		}
		cfg = fileCfg.DnodeConfig()
	}
	if *dial != "" {
		cfg.Dial, cfg.Listen = *dial, ""
	}
	if *listen != "" {
		cfg.Listen, cfg.Dial = *listen, ""
	}
	if *target != "" {
		cfg.Stream.Target = *target
	}
	if *chaos {
		cfg.Stream.Chaos.Enabled = true
	}
	cfg.Logger = &logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info().
		Str("dial", cfg.Dial).
		Str("listen", cfg.Listen).
		Str("stream", cfg.Stream.Target).
		Bool("chaos", cfg.Stream.Chaos.Enabled).
		Msg("dnodeemu.starting")
	if err := dnode.New(cfg).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dnodeemu: %v\n", err)
		os.Exit(1)
	}
}
