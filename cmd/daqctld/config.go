package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/daqctl/internal/daemon"
)

// daqctld config.toml key mapping to daemon runtime settings.
type fileConfig struct {
	ID                 string         `toml:"id"`
	ClientListen       string         `toml:"client_listen"`
	DnodeListen        string         `toml:"dnode_listen"`
	DnodeDial          string         `toml:"dnode_dial"`
	DnodeTimeout       duration       `toml:"dnode_timeout"`
	DnodeTimeoutMS     int64          `toml:"dnode_timeout_ms"`
	ClientWriteTimeout duration       `toml:"client_write_timeout"`
	AdminListen        string         `toml:"admin_listen"`
	CORSOrigins        []string       `toml:"cors_origins"`
	HeartbeatInterval  duration       `toml:"heartbeat_interval"`
	Sample             sampleSection  `toml:"sample"`
	Backoff            backoffSection `toml:"backoff"`
}

type sampleSection struct {
	Listen      string `toml:"listen"`
	Forward     string `toml:"forward"`
	StoragePath string `toml:"storage_path"`
	BatchSize   int    `toml:"batch_size"`
	SyncEvery   int    `toml:"sync_every"`
	ReadBuffer  int    `toml:"read_buffer"`
}

type backoffSection struct {
	Initial    duration `toml:"initial"`
	Multiplier float64  `toml:"multiplier"`
	Max        duration `toml:"max"`
	Jitter     bool     `toml:"jitter"`
}

// duration decodes TOML strings like "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// daqctld loader for TOML config with default overlay.
func loadServiceConfig(path string) (daemon.ServiceConfig, error) {
	cfg := daemon.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemon.ServiceConfig{}, fmt.Errorf("load daqctld config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return daemon.ServiceConfig{}, fmt.Errorf("load daqctld config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("client_listen") {
		cfg.ClientListen = strings.TrimSpace(raw.ClientListen)
	}
	if meta.IsDefined("dnode_listen") {
		cfg.DnodeListen = strings.TrimSpace(raw.DnodeListen)
	}
	if meta.IsDefined("dnode_dial") {
		cfg.DnodeDial = strings.TrimSpace(raw.DnodeDial)
	}
	if meta.IsDefined("dnode_timeout") {
		cfg.DnodeTimeout = raw.DnodeTimeout.Duration
	}
	if meta.IsDefined("dnode_timeout_ms") {
		cfg.DnodeTimeout = time.Duration(raw.DnodeTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("client_write_timeout") {
		cfg.ClientWriteTimeout = raw.ClientWriteTimeout.Duration
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("heartbeat_interval") {
		cfg.HeartbeatInterval = raw.HeartbeatInterval.Duration
	}

	if meta.IsDefined("sample", "listen") {
		cfg.Sample.Listen = strings.TrimSpace(raw.Sample.Listen)
	}
	if meta.IsDefined("sample", "forward") {
		cfg.Sample.Forward = strings.TrimSpace(raw.Sample.Forward)
	}
	if meta.IsDefined("sample", "storage_path") {
		cfg.Sample.StoragePath = strings.TrimSpace(raw.Sample.StoragePath)
	}
	if meta.IsDefined("sample", "batch_size") {
		cfg.Sample.BatchSize = raw.Sample.BatchSize
	}
	if meta.IsDefined("sample", "sync_every") {
		cfg.Sample.SyncEvery = raw.Sample.SyncEvery
	}
	if meta.IsDefined("sample", "read_buffer") {
		cfg.Sample.ReadBuffer = raw.Sample.ReadBuffer
	}

	if meta.IsDefined("backoff", "initial") {
		cfg.Backoff.InitialDelay = raw.Backoff.Initial.Duration
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "max") {
		cfg.Backoff.MaxDelay = raw.Backoff.Max.Duration
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return daemon.ServiceConfig{}, fmt.Errorf("load daqctld config: %w", err)
	}
	return cfg, nil
}
