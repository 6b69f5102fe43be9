package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTor(); err != nil {
		return err
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateTor() error {
	if err := ensurePortMap(map[string]int{
		"tor.socks_port":   c.Tor.SocksPort,
		"tor.control_port": c.Tor.ControlPort,
	}); err != nil {
		return err
	}
	if c.Tor.SocksPort == c.Tor.ControlPort {
		return errors.New("tor.socks_port and tor.control_port must differ")
	}
	return nil
}

func (c *Config) validateRelay() error {
	if err := ensurePortMap(map[string]int{
		"relay.port":        c.Relay.Port,
		"relay.remote_port": c.Relay.RemotePort,
	}); err != nil {
		return err
	}
	if c.Relay.Port+c.Relay.PortRange-1 > 65535 {
		return errors.New("relay.port + relay.port_range exceeds the valid port range")
	}
	if c.Relay.RetryBaseSeconds < 0 {
		return errors.New("relay.retry_base_seconds must be >= 0")
	}
	for _, port := range c.Relay.CandidatePorts() {
		if port == c.Tor.SocksPort || port == c.Tor.ControlPort {
			return fmt.Errorf("relay port range overlaps tor port %d", port)
		}
	}
	return nil
}

func (c *Config) validateAPI() error {
	if !c.API.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind: %w", err)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func ensurePortMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 || value > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535", key)
		}
	}
	return nil
}
