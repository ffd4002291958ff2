package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "daqctld", "daemon":
		return daemonTemplate, nil
	case "dnodeemu", "emulator":
		return emulatorTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const daemonTemplate = `id = "daqctl.local"
client_listen = "127.0.0.1:1371"
dnode_listen = "127.0.0.1:1370"
# dnode_dial = "vsock://3:1370"
dnode_timeout = "2s"
client_write_timeout = "5s"
admin_listen = "127.0.0.1:7080"
cors_origins = ["http://localhost:3000"]
heartbeat_interval = "30s"

[sample]
listen = "127.0.0.1:1372"
forward = ""
storage_path = ""
batch_size = 32
sync_every = 16
read_buffer = 4194304

[backoff]
initial = "250ms"
multiplier = 2.0
max = "5s"
jitter = true
`

const emulatorTemplate = `dial = "127.0.0.1:1370"
dial_timeout = "2s"

[backoff]
initial = "250ms"
multiplier = 2.0
max = "3s"
jitter = true

[stream]
target = "127.0.0.1:1372"
interval = "10ms"
count = 0
start = 0
chaos = false
chaos_p_drop = 0.5
chaos_p_dup = 0.5
`
