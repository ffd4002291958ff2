package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/danmuck/daqctl/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

type DaemonConfig struct {
	ID                 string         `toml:"id"`
	ClientListen       string         `toml:"client_listen"`
	DnodeListen        string         `toml:"dnode_listen"`
	DnodeDial          string         `toml:"dnode_dial"`
	DnodeTimeout       string         `toml:"dnode_timeout"`
	ClientWriteTimeout string         `toml:"client_write_timeout"`
	AdminListen        string         `toml:"admin_listen"`
	CorsOrigins        []string       `toml:"cors_origins"`
	HeartbeatInterval  string         `toml:"heartbeat_interval"`
	Sample             SampleConfig   `toml:"sample"`
	Backoff            BackoffSection `toml:"backoff"`
}

type SampleConfig struct {
	Listen      string `toml:"listen"`
	Forward     string `toml:"forward"`
	StoragePath string `toml:"storage_path"`
	BatchSize   int    `toml:"batch_size"`
	SyncEvery   int    `toml:"sync_every"`
	ReadBuffer  int    `toml:"read_buffer"`
}

type BackoffSection struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     *bool   `toml:"jitter"`
}

type EmulatorConfig struct {
	Listen      string         `toml:"listen"`
	Dial        string         `toml:"dial"`
	DialTimeout string         `toml:"dial_timeout"`
	Backoff     BackoffSection `toml:"backoff"`
	Stream      StreamSection  `toml:"stream"`
}

type StreamSection struct {
	Target     string  `toml:"target"`
	Interval   string  `toml:"interval"`
	Count      uint32  `toml:"count"`
	Start      uint32  `toml:"start"`
	Chaos      bool    `toml:"chaos"`
	ChaosPDrop float64 `toml:"chaos_p_drop"`
	ChaosPDup  float64 `toml:"chaos_p_dup"`
	ChaosSeed  int64   `toml:"chaos_seed"`
}

func LoadDaemonConfig(path string) (DaemonConfig, error) {
	var cfg DaemonConfig
	if err := loadToml(path, &cfg); err != nil {
		return DaemonConfig{}, err
	}
	if cfg.ID == "" {
		cfg.ID = "daqctl.local"
	}
	if cfg.ClientListen == "" {
		cfg.ClientListen = "127.0.0.1:1371"
	}
	if cfg.DnodeListen == "" && cfg.DnodeDial == "" {
		cfg.DnodeListen = "127.0.0.1:1370"
	}
	if err := ValidateDaemonConfig(cfg); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

func LoadEmulatorConfig(path string) (EmulatorConfig, error) {
	var cfg EmulatorConfig
	if err := loadToml(path, &cfg); err != nil {
		return EmulatorConfig{}, err
	}
	if cfg.Listen == "" && cfg.Dial == "" {
		cfg.Dial = "127.0.0.1:1370"
	}
	if err := ValidateEmulatorConfig(cfg); err != nil {
		return EmulatorConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDaemonConfig(cfg DaemonConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("daemon config missing id")
	}
	addrs := []struct{ key, val string }{
		{"client_listen", cfg.ClientListen},
		{"dnode_listen", cfg.DnodeListen},
		{"dnode_dial", cfg.DnodeDial},
	}
	for _, a := range addrs {
		if err := validateAddr(a.key, a.val); err != nil {
			return err
		}
	}
	if cfg.DnodeListen == "" && cfg.DnodeDial == "" {
		return fmt.Errorf("daemon config needs dnode_listen or dnode_dial")
	}
	durations := []struct{ key, val string }{
		{"dnode_timeout", cfg.DnodeTimeout},
		{"client_write_timeout", cfg.ClientWriteTimeout},
		{"heartbeat_interval", cfg.HeartbeatInterval},
	}
	for _, d := range durations {
		if _, err := ParseDuration(d.key, d.val); err != nil {
			return err
		}
	}
	if err := validateSample(cfg.Sample); err != nil {
		return fmt.Errorf("sample invalid: %w", err)
	}
	if err := validateBackoff(cfg.Backoff); err != nil {
		return fmt.Errorf("backoff invalid: %w", err)
	}
	return nil
}

func ValidateEmulatorConfig(cfg EmulatorConfig) error {
	if err := validateAddr("listen", cfg.Listen); err != nil {
		return err
	}
	if err := validateAddr("dial", cfg.Dial); err != nil {
		return err
	}
	if _, err := ParseDuration("dial_timeout", cfg.DialTimeout); err != nil {
		return err
	}
	if _, err := ParseDuration("stream.interval", cfg.Stream.Interval); err != nil {
		return err
	}
	for key, p := range map[string]float64{
		"stream.chaos_p_drop": cfg.Stream.ChaosPDrop,
		"stream.chaos_p_dup":  cfg.Stream.ChaosPDup,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %v", key, p)
		}
	}
	return validateBackoff(cfg.Backoff)
}

func validateSample(cfg SampleConfig) error {
	if cfg.StoragePath != "" && cfg.Listen == "" {
		return fmt.Errorf("storage_path requires listen")
	}
	if cfg.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	if cfg.Forward != "" {
		if _, _, err := net.SplitHostPort(cfg.Forward); err != nil {
			return fmt.Errorf("forward: %w", err)
		}
	}
	if cfg.BatchSize < 0 || cfg.SyncEvery < 0 || cfg.ReadBuffer < 0 {
		return fmt.Errorf("batch_size, sync_every and read_buffer must not be negative")
	}
	return nil
}

func validateBackoff(b BackoffSection) error {
	if _, err := ParseDuration("initial", b.Initial); err != nil {
		return err
	}
	if _, err := ParseDuration("max", b.Max); err != nil {
		return err
	}
	if b.Multiplier != 0 && b.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", b.Multiplier)
	}
	return nil
}

func validateAddr(key, addr string) error {
	if addr == "" {
		return nil
	}
	if _, err := transport.ParseAddr(addr); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// ParseDuration parses a config duration string. Empty means unset.
func ParseDuration(key, s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
