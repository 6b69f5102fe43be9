package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeTor(); err != nil {
		return err
	}
	c.normalizeRelay()
	c.normalizeAPI()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}

	derived := []struct {
		key   string
		value *string
		name  string
	}{
		{"paths.database_path", &c.Paths.DatabasePath, "murmur.db"},
		{"paths.socket_path", &c.Paths.SocketPath, "murmur.sock"},
		{"paths.lock_path", &c.Paths.LockPath, "murmur.lock"},
		{"paths.pid_path", &c.Paths.PIDPath, "murmur.pid"},
	}
	for _, entry := range derived {
		if strings.TrimSpace(*entry.value) == "" {
			*entry.value = filepath.Join(c.Paths.DataDir, entry.name)
		}
		if *entry.value, err = expandPath(*entry.value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}
	return nil
}

func (c *Config) normalizeTor() error {
	var err error
	c.Tor.Binary = strings.TrimSpace(c.Tor.Binary)
	if c.Tor.Binary != "" {
		if c.Tor.Binary, err = expandPath(c.Tor.Binary); err != nil {
			return fmt.Errorf("tor.binary: %w", err)
		}
	}
	if strings.TrimSpace(c.Tor.DataDir) == "" {
		c.Tor.DataDir = filepath.Join(c.Paths.DataDir, "tor")
	}
	if c.Tor.DataDir, err = expandPath(c.Tor.DataDir); err != nil {
		return fmt.Errorf("tor.data_dir: %w", err)
	}
	if c.Tor.BootstrapAttempts <= 0 {
		c.Tor.BootstrapAttempts = defaultBootstrapAttempts
	}
	if c.Tor.PollIntervalMs <= 0 {
		c.Tor.PollIntervalMs = defaultPollIntervalMs
	}
	if c.Tor.StopGraceSeconds <= 0 {
		c.Tor.StopGraceSeconds = defaultStopGraceSeconds
	}
	if c.Tor.CleanupWaitMs < 0 {
		c.Tor.CleanupWaitMs = 0
	}
	return nil
}

func (c *Config) normalizeRelay() {
	if c.Relay.PortRange <= 0 {
		c.Relay.PortRange = defaultRelayPortRange
	}
	if c.Relay.RemotePort <= 0 {
		c.Relay.RemotePort = defaultRelayRemotePort
	}
	if c.Relay.SendAttempts <= 0 {
		c.Relay.SendAttempts = defaultSendAttempts
	}
	if c.Relay.RetryMaxSeconds < c.Relay.RetryBaseSeconds {
		c.Relay.RetryMaxSeconds = c.Relay.RetryBaseSeconds
	}
	if c.Relay.SendTimeout <= 0 {
		c.Relay.SendTimeout = defaultSendTimeout
	}
	if c.Relay.ProbeTimeoutMs <= 0 {
		c.Relay.ProbeTimeoutMs = defaultProbeTimeoutMs
	}
	if c.Relay.MaxPayloadBytes <= 0 {
		c.Relay.MaxPayloadBytes = defaultMaxPayloadBytes
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("MURMUR_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
