package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "RLINK_TERMINAL_PATH", "RLINK_AUTH_TIMEOUT", "RLINK_PING_INTERVAL",
		"RLINK_IDLE_TIMEOUT", "RLINK_REQUIRE_SSH_HOST_KEY", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8000 {
		t.Errorf("Port: got %d", cfg.Port)
	}
	if cfg.TerminalPath != "/api/ssh/connect" {
		t.Errorf("TerminalPath: got %q", cfg.TerminalPath)
	}
	if cfg.AuthTimeout != 15*time.Second || cfg.PingInterval != 25*time.Second || cfg.IdleTimeout != 30*time.Minute {
		t.Errorf("timeouts: got %v %v %v", cfg.AuthTimeout, cfg.PingInterval, cfg.IdleTimeout)
	}
	if cfg.RequireSSHHostKey {
		t.Error("RequireSSHHostKey should default to false")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("RLINK_TERMINAL_PATH", "ws/ssh")
	t.Setenv("RLINK_AUTH_TIMEOUT", "3s")
	t.Setenv("RLINK_PING_INTERVAL", "10")
	t.Setenv("RLINK_REQUIRE_SSH_HOST_KEY", "yes")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9001 {
		t.Errorf("Port: got %d", cfg.Port)
	}
	if cfg.TerminalPath != "/ws/ssh" {
		t.Errorf("TerminalPath: got %q", cfg.TerminalPath)
	}
	if cfg.AuthTimeout != 3*time.Second {
		t.Errorf("AuthTimeout: got %v", cfg.AuthTimeout)
	}
	if cfg.PingInterval != 10*time.Second {
		t.Errorf("PingInterval: got %v", cfg.PingInterval)
	}
	if !cfg.RequireSSHHostKey {
		t.Error("RequireSSHHostKey: want true")
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, want) {
		t.Errorf("CORSAllowedOrigins: got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadClient(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RLINK_DB", "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("RLINK_API_URL", "")
	t.Setenv("RLINK_RECONNECT_DELAY", "bogus")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.APIURL != "ws://127.0.0.1:8000/api/ssh/connect" {
		t.Errorf("APIURL: got %q", cfg.APIURL)
	}
	if cfg.ReconnectDelay != 500*time.Millisecond {
		t.Errorf("ReconnectDelay: got %v", cfg.ReconnectDelay)
	}
	if filepath.Base(cfg.DBPath) != "profiles.db" || filepath.Base(filepath.Dir(cfg.DBPath)) != "rlink" {
		t.Errorf("DBPath: got %q", cfg.DBPath)
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"1", false, true},
		{"TRUE", false, true},
		{"no", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("RLINK_TEST_BOOL", tt.value)
		if got := getEnvAsBool("RLINK_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("getEnvAsBool(%q, %v): got %v", tt.value, tt.def, got)
		}
	}
}
