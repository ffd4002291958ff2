package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARN ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		got, ok := parseLevel(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("parseLevel(%q) = %v,%v want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvLogTimestamp, "nope")

	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel {
		t.Fatalf("unexpected level: %v", cfg.Level)
	}
	if !cfg.JSON {
		t.Fatalf("expected json output")
	}
	if !cfg.Timestamp {
		t.Fatalf("invalid bool must keep profile default")
	}
}

func TestApplyJSON(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	var buf bytes.Buffer
	Apply(Config{Level: zerolog.InfoLevel, JSON: true, Out: &buf})
	log.Info().Str("k", "v").Msg("logging.apply")
	log.Debug().Msg("hidden")

	out := buf.String()
	if !strings.Contains(out, `"k":"v"`) || !strings.Contains(out, "logging.apply") {
		t.Fatalf("unexpected output: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug event leaked at info level: %q", out)
	}
}
