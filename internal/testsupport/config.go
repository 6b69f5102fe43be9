package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"murmur/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories and free
// loopback ports per test. Tor is disabled unless WithFakeTor is applied.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.DatabasePath = filepath.Join(base, "data", "murmur.db")
	cfgVal.Paths.LockPath = filepath.Join(base, "data", "murmur.lock")
	cfgVal.Paths.PIDPath = filepath.Join(base, "data", "murmur.pid")
	cfgVal.Paths.SocketPath = shortSocketPath(t)
	cfgVal.Tor.Enabled = false
	cfgVal.Tor.DataDir = filepath.Join(base, "tor")
	cfgVal.Tor.SocksPort = FreePort(t)
	cfgVal.Tor.ControlPort = FreePort(t)
	cfgVal.Tor.PollIntervalMs = 10
	cfgVal.Tor.BootstrapAttempts = 300
	cfgVal.Tor.CleanupWaitMs = 10
	cfgVal.Relay.PortRange = 4
	cfgVal.Relay.Port = FreePortBlock(t, cfgVal.Relay.PortRange)
	cfgVal.Relay.ProbeTimeoutMs = 500
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithLocalDiscovery enables same-host receiver probing.
func WithLocalDiscovery() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Relay.LocalDiscovery = true
	}
}

// WithRelayPort pins the receiver port range start, so several relays in one
// test share a range.
func WithRelayPort(port int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Relay.Port = port
	}
}

// WithFakeTor writes a shell script standing in for the tor executable and
// enables the supervisor. The script receives the same arguments as tor.
func WithFakeTor(script string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tor.Enabled = true
		b.cfg.Tor.Binary = WriteExecutable(b.t, filepath.Join(b.baseDir, "bin", "tor"), script)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WriteExecutable writes a shell script to path with the executable bit set.
func WriteExecutable(t testing.TB, path, body string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// shortSocketPath keeps unix socket paths under the sun_path limit, which
// t.TempDir paths can exceed.
func shortSocketPath(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "murmur")
	if err != nil {
		t.Fatalf("mkdir socket dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "m.sock")
}
