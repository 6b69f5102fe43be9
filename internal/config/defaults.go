package config

const (
	defaultDataDir           = "~/.local/share/murmur"
	defaultLogDir            = "~/.local/share/murmur/logs"
	defaultLogRetentionDays  = 30
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultTorSocksPort      = 9050
	defaultTorControlPort    = 9051
	defaultBootstrapAttempts = 120
	defaultPollIntervalMs    = 1000
	defaultStopGraceSeconds  = 3
	defaultCleanupWaitMs     = 2000
	defaultRelayPort         = 7777
	defaultRelayPortRange    = 10
	defaultRelayRemotePort   = 80
	defaultSendAttempts      = 3
	defaultRetryBaseSeconds  = 5
	defaultRetryMaxSeconds   = 15
	defaultSendTimeout       = 120
	defaultProbeTimeoutMs    = 1000
	defaultMaxPayloadBytes   = 64 << 10
	defaultAPIBind           = "127.0.0.1:7488"
	defaultNtfyTimeout       = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Tor: Tor{
			Enabled:           true,
			SocksPort:         defaultTorSocksPort,
			ControlPort:       defaultTorControlPort,
			BootstrapAttempts: defaultBootstrapAttempts,
			PollIntervalMs:    defaultPollIntervalMs,
			StopGraceSeconds:  defaultStopGraceSeconds,
			CleanupWaitMs:     defaultCleanupWaitMs,
		},
		Relay: Relay{
			Port:             defaultRelayPort,
			PortRange:        defaultRelayPortRange,
			RemotePort:       defaultRelayRemotePort,
			SendAttempts:     defaultSendAttempts,
			RetryBaseSeconds: defaultRetryBaseSeconds,
			RetryMaxSeconds:  defaultRetryMaxSeconds,
			SendTimeout:      defaultSendTimeout,
			ProbeTimeoutMs:   defaultProbeTimeoutMs,
			MaxPayloadBytes:  defaultMaxPayloadBytes,
		},
		API: API{
			Enabled: true,
			Bind:    defaultAPIBind,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
