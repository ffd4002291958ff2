package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/daqctl/internal/daemon"
	"github.com/danmuck/daqctl/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to daqctld TOML config")
	flag.Parse()

	logger := observability.InitLogger("daqctld")

	cfg := daemon.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "daqctld: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	logger.Info().
		Str("client_listen", cfg.ClientListen).
		Str("dnode_listen", cfg.DnodeListen).
		Str("dnode_dial", cfg.DnodeDial).
		Str("admin_listen", cfg.AdminListen).
		Msg("daqctld.starting")

	svc := daemon.NewService(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daqctld: %v\n", err)
		os.Exit(1)
	}
}
