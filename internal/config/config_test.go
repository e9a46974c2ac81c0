package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, `broker_id = "node-1"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TCPPort != DefaultTCPPort {
		t.Errorf("TCPPort = %d, want %d", cfg.TCPPort, DefaultTCPPort)
	}
	if cfg.TCPAddr != ":1883" {
		t.Errorf("TCPAddr = %q, want :1883", cfg.TCPAddr)
	}
	if cfg.LogDest != DefaultLog {
		t.Errorf("LogDest = %q, want %q", cfg.LogDest, DefaultLog)
	}
	if !cfg.AnonymousAllowed {
		t.Errorf("AnonymousAllowed default should follow DEFAULT_ANONYMOUS_ALLOWED=true when unset")
	}
}

func TestLoadMissingBrokerID(t *testing.T) {
	path := writeTemp(t, `tcp_port = 1883`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing broker_id")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeTemp(t, `
broker_id = "node-1"
log_level = "verbose"
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid log_level")
	}
}

func TestLoadRejectsNoAuthPath(t *testing.T) {
	path := writeTemp(t, `
broker_id = "node-1"
anonymous_allowed = false
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error: no auth path configured and anonymous disallowed")
	}
}

func TestLoadAcceptsFileLogDest(t *testing.T) {
	path := writeTemp(t, `
broker_id = "node-1"
log_dest = "file:/var/log/tidemq.log"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogDest != "file:/var/log/tidemq.log" {
		t.Errorf("LogDest = %q", cfg.LogDest)
	}
}
