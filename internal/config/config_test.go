package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"murmur/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("MURMUR_API_TOKEN", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "murmur")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.DatabasePath != filepath.Join(wantData, "murmur.db") {
		t.Fatalf("unexpected database path: %q", cfg.Paths.DatabasePath)
	}
	if cfg.Paths.SocketPath != filepath.Join(wantData, "murmur.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.Paths.SocketPath)
	}
	if cfg.Tor.DataDir != filepath.Join(wantData, "tor") {
		t.Fatalf("unexpected tor data dir: %q", cfg.Tor.DataDir)
	}
	if cfg.Tor.SocksPort != 9050 || cfg.Tor.ControlPort != 9051 {
		t.Fatalf("unexpected tor ports: %d/%d", cfg.Tor.SocksPort, cfg.Tor.ControlPort)
	}
	if cfg.Relay.LocalDiscovery {
		t.Fatal("expected local discovery disabled by default")
	}
	if cfg.API.Bind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := config.Default()
	if got := cfg.Tor.PollInterval(); got != time.Second {
		t.Fatalf("PollInterval = %s, want 1s", got)
	}
	if got := cfg.Tor.StopGrace(); got != 3*time.Second {
		t.Fatalf("StopGrace = %s, want 3s", got)
	}
	if got := cfg.Relay.RetryBase(); got != 5*time.Second {
		t.Fatalf("RetryBase = %s, want 5s", got)
	}
	if got := cfg.Relay.RetryMax(); got != 15*time.Second {
		t.Fatalf("RetryMax = %s, want 15s", got)
	}
	if got := cfg.Relay.SendTimeoutDuration(); got != 120*time.Second {
		t.Fatalf("SendTimeoutDuration = %s, want 120s", got)
	}
	ports := cfg.Relay.CandidatePorts()
	if len(ports) != 10 || ports[0] != 7777 || ports[9] != 7786 {
		t.Fatalf("unexpected candidate ports: %v", ports)
	}
}

func TestLoadCustomFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(tempHome, "custom.toml")
	custom := map[string]any{
		"paths": map[string]any{
			"data_dir": "~/murmur-data",
		},
		"relay": map[string]any{
			"port":            8800,
			"port_range":      4,
			"local_discovery": true,
		},
		"logging": map[string]any{
			"format": "JSON",
			"level":  "DEBUG",
		},
	}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "murmur-data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Relay.Port != 8800 || !cfg.Relay.LocalDiscovery {
		t.Fatalf("unexpected relay config: %+v", cfg.Relay)
	}
	if got := cfg.Relay.CandidatePorts(); len(got) != 4 || got[3] != 8803 {
		t.Fatalf("unexpected candidate ports: %v", got)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}
	if cfg.Relay.SendAttempts != 3 {
		t.Fatalf("expected default send attempts, got %d", cfg.Relay.SendAttempts)
	}
}

func TestValidateRejectsOverlappingPorts(t *testing.T) {
	cfg := config.Default()
	cfg.Tor.ControlPort = cfg.Tor.SocksPort
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected port overlap error, got %v", err)
	}

	cfg = config.Default()
	cfg.Relay.Port = 9045
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "overlaps tor port") {
		t.Fatalf("expected relay/tor overlap error, got %v", err)
	}

	cfg = config.Default()
	cfg.API.Bind = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid api bind error")
	}

	cfg = config.Default()
	cfg.Notifications.NtfyTopic = "my-topic"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ntfy_topic") {
		t.Fatalf("expected ntfy topic error, got %v", err)
	}
}

func TestAPITokenFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MURMUR_API_TOKEN", "  secret  ")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.API.Token != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.API.Token)
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Relay.Port != 7777 || cfg.Tor.SocksPort != 9050 {
		t.Fatalf("sample produced unexpected values: relay=%d socks=%d", cfg.Relay.Port, cfg.Tor.SocksPort)
	}
	if cfg.Notifications.NtfyTopic != "" || cfg.Notifications.RequestTimeout != 10 {
		t.Fatalf("unexpected notification defaults: %+v", cfg.Notifications)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.SocketPath = filepath.Join(base, "run", "murmur.sock")
	cfg.Tor.DataDir = filepath.Join(base, "tor")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	info, err := os.Stat(cfg.Tor.DataDir)
	if err != nil {
		t.Fatalf("stat tor dir: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("tor data dir mode = %v, want 0700", info.Mode().Perm())
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, filepath.Dir(cfg.Paths.SocketPath)} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
	}
}
