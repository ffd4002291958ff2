package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/daqctl/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplatesValidate(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	daemonPath := filepath.Join(dir, "daqctld.toml")
	if err := WriteTemplate(daemonPath, "daqctld", false); err != nil {
		t.Fatalf("write daemon template: %v", err)
	}
	cfg, err := LoadDaemonConfig(daemonPath)
	if err != nil {
		t.Fatalf("load daemon template: %v", err)
	}
	if cfg.Sample.BatchSize != 32 || cfg.Backoff.Multiplier != 2.0 {
		t.Fatalf("unexpected daemon template values: %+v", cfg)
	}

	emuPath := filepath.Join(dir, "dnodeemu.toml")
	if err := WriteTemplate(emuPath, "dnodeemu", false); err != nil {
		t.Fatalf("write emulator template: %v", err)
	}
	if _, err := LoadEmulatorConfig(emuPath); err != nil {
		t.Fatalf("load emulator template: %v", err)
	}

	if err := WriteTemplate(emuPath, "dnodeemu", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if _, err := Template("mirage"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestDaemonConfigDefaults(t *testing.T) {
	testlog.Start(t)

	cfg, err := LoadDaemonConfig(writeFile(t, "d.toml", `admin_listen = "127.0.0.1:0"`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ID != "daqctl.local" || cfg.ClientListen != "127.0.0.1:1371" || cfg.DnodeListen != "127.0.0.1:1370" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestDaemonConfigRejects(t *testing.T) {
	testlog.Start(t)

	cases := map[string]string{
		"bad duration":   `dnode_timeout = "soon"`,
		"bad address":    `client_listen = "nohostport"`,
		"orphan storage": "[sample]\nstorage_path = \"/tmp/a.raw\"",
		"bad multiplier": "[backoff]\nmultiplier = 0.5",
	}
	for name, content := range cases {
		if _, err := LoadDaemonConfig(writeFile(t, "d.toml", content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEmulatorDnodeConfig(t *testing.T) {
	testlog.Start(t)

	cfg, err := LoadEmulatorConfig(writeFile(t, "e.toml", `
listen = "127.0.0.1:1370"

[stream]
target = "127.0.0.1:1372"
interval = "2ms"
count = 100
chaos = true
chaos_p_drop = 0.1
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dc := cfg.DnodeConfig()
	if dc.Listen != "127.0.0.1:1370" || dc.Dial != "" {
		t.Fatalf("unexpected endpoints: %+v", dc)
	}
	if dc.Stream.Interval != 2*time.Millisecond || dc.Stream.Count != 100 {
		t.Fatalf("unexpected stream: %+v", dc.Stream)
	}
	if !dc.Stream.Chaos.Enabled || dc.Stream.Chaos.PDrop != 0.1 || dc.Stream.Chaos.PDup != 0.5 {
		t.Fatalf("unexpected chaos: %+v", dc.Stream.Chaos)
	}

	if _, err := LoadEmulatorConfig(writeFile(t, "e.toml", "[stream]\nchaos_p_dup = 2.0")); err == nil ||
		!strings.Contains(err.Error(), "chaos_p_dup") {
		t.Fatalf("expected probability error, got %v", err)
	}
}
