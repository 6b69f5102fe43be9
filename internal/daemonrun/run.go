package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"murmur/internal/config"
	"murmur/internal/daemon"
	"murmur/internal/ipc"
	"murmur/internal/logging"
	"murmur/internal/metrics"
	"murmur/internal/notifications"
	"murmur/internal/onion"
	"murmur/internal/preflight"
	"murmur/internal/relay"
	"murmur/internal/store"
	"murmur/internal/tor"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Dev enables same-host delivery between several instances so two
	// daemons can talk without Tor.
	Dev bool
}

// Run starts the murmur daemon runtime loop and blocks until a signal or an
// IPC stop request ends it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if opts.Dev {
		cfg.Relay.LocalDiscovery = true
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("murmur-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	if opts.Dev && opts.LogLevel == "" {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development || opts.Dev,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update murmur.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "murmur-*.log", Exclude: []string{logPath}, KeepNewest: 3},
	)
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := cfg.Paths.PIDPath
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open message store", logging.Error(err))
		return err
	}
	defer st.Close()

	m := metrics.New()
	relayOpts := []relay.Option{relay.WithLogger(logger), relay.WithMetrics(m)}
	daemonOpts := []daemon.Option{
		daemon.WithLogger(logger),
		daemon.WithLogPath(logPath),
		daemon.WithMetrics(m),
		daemon.WithNotifier(notifications.NewService(cfg)),
	}
	if cfg.Tor.Enabled {
		supervisor := tor.New(cfg.Tor, tor.WithLogger(logger), tor.WithMetrics(m))
		provider := onion.New(supervisor.ControlAddress(), cfg.Paths.DataDir, onion.WithLogger(logger))
		relayOpts = append(relayOpts, relay.WithProxy(supervisor), relay.WithIdentity(provider))
		daemonOpts = append(daemonOpts, daemon.WithTor(supervisor), daemon.WithIdentity(provider))
	}
	r := relay.New(cfg.Relay, st, relayOpts...)

	d, err := daemon.New(cfg, st, r, daemonOpts...)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Stop()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger, ipc.WithShutdown(cancel))
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the receiver port range and database access"),
			logging.String(logging.FieldImpact, "messages cannot be sent or received until the daemon starts"),
		)
	}

	<-signalCtx.Done()
	logger.Info("murmur daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "murmur.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("tor_enabled", cfg.Tor.Enabled),
		logging.Bool("local_discovery", cfg.Relay.LocalDiscovery),
		logging.Bool("api_enabled", cfg.API.Enabled),
	}
	for _, dep := range preflight.CheckSystemDeps(ctx, cfg) {
		attrs = append(attrs, logging.Bool(strings.ToLower(strings.ReplaceAll(dep.Name, " ", "_"))+"_available", dep.Available))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
