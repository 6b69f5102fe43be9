package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains filesystem locations used by the daemon and CLI. Empty
// derived paths are filled in relative to DataDir during normalization.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	DatabasePath string `toml:"database_path"`
	SocketPath   string `toml:"socket_path"`
	LockPath     string `toml:"lock_path"`
	PIDPath      string `toml:"pid_path"`
}

// Tor contains configuration for the supervised anonymity daemon.
type Tor struct {
	Enabled           bool   `toml:"enabled"`
	Binary            string `toml:"binary"`
	DataDir           string `toml:"data_dir"`
	SocksPort         int    `toml:"socks_port"`
	ControlPort       int    `toml:"control_port"`
	BootstrapAttempts int    `toml:"bootstrap_attempts"`
	PollIntervalMs    int    `toml:"poll_interval_ms"`
	StopGraceSeconds  int    `toml:"stop_grace_seconds"`
	CleanupWaitMs     int    `toml:"cleanup_wait_ms"`
}

// Relay contains configuration for the message receiver and sender.
type Relay struct {
	Port             int  `toml:"port"`
	PortRange        int  `toml:"port_range"`
	RemotePort       int  `toml:"remote_port"`
	LocalDiscovery   bool `toml:"local_discovery"`
	SendAttempts     int  `toml:"send_attempts"`
	RetryBaseSeconds int  `toml:"retry_base_seconds"`
	RetryMaxSeconds  int  `toml:"retry_max_seconds"`
	SendTimeout      int  `toml:"send_timeout"`
	ProbeTimeoutMs   int  `toml:"probe_timeout_ms"`
	MaxPayloadBytes  int  `toml:"max_payload_bytes"`
}

// API contains configuration for the localhost HTTP API.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Token   string `toml:"token"`
}

// Notifications configures ntfy push notices.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	IncludeContent bool   `toml:"include_content"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for murmur.
//
// Configuration sections by subsystem:
//   - Paths: data, log, database, socket, lock and pid locations
//   - Tor: executable lookup, ports and bootstrap timing
//   - Relay: receiver ports, delivery retries and local discovery
//   - API: localhost HTTP API bind address and bearer token
//   - Notifications: optional ntfy topic for incoming message notices
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Tor           Tor           `toml:"tor"`
	Relay         Relay         `toml:"relay"`
	API           API           `toml:"api"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/murmur/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("murmur.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation. The
// Tor data directory is private to the current user.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, filepath.Dir(c.Paths.SocketPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if err := os.MkdirAll(c.Tor.DataDir, 0o700); err != nil {
		return fmt.Errorf("create tor data directory %q: %w", c.Tor.DataDir, err)
	}
	return nil
}

// PollInterval returns the bootstrap polling cadence.
func (t Tor) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

// StopGrace returns how long Stop waits after SIGTERM before force-killing.
func (t Tor) StopGrace() time.Duration {
	return time.Duration(t.StopGraceSeconds) * time.Second
}

// CleanupWait returns the pause between an orphan sweep and the port re-check.
func (t Tor) CleanupWait() time.Duration {
	return time.Duration(t.CleanupWaitMs) * time.Millisecond
}

// SocksAddress returns the loopback address of the SOCKS proxy.
func (t Tor) SocksAddress() string {
	return fmt.Sprintf("127.0.0.1:%d", t.SocksPort)
}

// ControlAddress returns the loopback address of the control port.
func (t Tor) ControlAddress() string {
	return fmt.Sprintf("127.0.0.1:%d", t.ControlPort)
}

// RetryBase returns the first backoff delay between delivery attempts.
func (r Relay) RetryBase() time.Duration {
	return time.Duration(r.RetryBaseSeconds) * time.Second
}

// RetryMax caps the backoff delay between delivery attempts.
func (r Relay) RetryMax() time.Duration {
	return time.Duration(r.RetryMaxSeconds) * time.Second
}

// SendTimeoutDuration returns the per-attempt timeout for proxied delivery.
func (r Relay) SendTimeoutDuration() time.Duration {
	return time.Duration(r.SendTimeout) * time.Second
}

// ProbeTimeout returns the per-port timeout for local discovery.
func (r Relay) ProbeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeoutMs) * time.Millisecond
}

// CandidatePorts lists the receiver ports in bind order.
func (r Relay) CandidatePorts() []int {
	ports := make([]int, 0, r.PortRange)
	for i := 0; i < r.PortRange; i++ {
		ports = append(ports, r.Port+i)
	}
	return ports
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
