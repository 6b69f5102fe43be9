package tor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/metrics"
)

// Status is a snapshot of the supervised daemon.
type Status struct {
	Running           bool   `json:"running"`
	ProxyPort         int    `json:"proxy_port"`
	ControlPort       int    `json:"control_port"`
	ExecutablePath    string `json:"executable_path,omitempty"`
	PID               int    `json:"pid,omitempty"`
	BootstrapPercent  int    `json:"bootstrap_percent"`
	ExternallyManaged bool   `json:"externally_managed,omitempty"`
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects the clock used for bootstrap polling and stop grace.
func WithClock(clk clock.Clock) Option {
	return func(s *Supervisor) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithMetrics records bootstrap progress and liveness.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithSweeper replaces the process sweeper (primarily for tests).
func WithSweeper(sweeper Sweeper) Option {
	return func(s *Supervisor) {
		if sweeper != nil {
			s.sweeper = sweeper
		}
	}
}

// Supervisor owns the Tor daemon lifecycle. It is the only writer of Status.
type Supervisor struct {
	cfg     config.Tor
	logger  *slog.Logger
	clock   clock.Clock
	metrics *metrics.Metrics
	sweeper Sweeper

	mu          sync.Mutex
	initialized bool
	execPath    string
	status      Status
	ready       bool
	proc        *process
	starting    *startAttempt
	sampler     *logging.ProgressSampler
}

// startAttempt lets concurrent Start callers wait for the bootstrap already
// in flight instead of spawning a second daemon.
type startAttempt struct {
	done chan struct{}
	err  error
}

type process struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

// New constructs a supervisor for the [tor] configuration section.
func New(cfg config.Tor, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		logger:  logging.NewNop(),
		clock:   clock.New(),
		sweeper: processSweeper{},
		sampler: logging.NewProgressSampler(10),
		status: Status{
			ProxyPort:   cfg.SocksPort,
			ControlPort: cfg.ControlPort,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "tor")
	return s
}

// Initialize resolves the executable and prepares the private data
// directory. Calling it again after success is a no-op.
func (s *Supervisor) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	path, err := LocateExecutable(s.cfg.Binary)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create tor data directory: %w", err)
	}
	if err := os.Chmod(s.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("restrict tor data directory: %w", err)
	}

	s.execPath = path
	s.status.ExecutablePath = path
	s.initialized = true
	s.logger.Debug("tor executable resolved", logging.String("path", path))
	return nil
}

// Start brings the daemon up and blocks until it has bootstrapped, the
// process exits, the attempt budget runs out, or ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.Initialize(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		return nil
	}
	if pending := s.starting; pending != nil {
		s.mu.Unlock()
		select {
		case <-pending.done:
			return pending.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &startAttempt{done: make(chan struct{})}
	s.starting = attempt
	execPath := s.execPath
	s.mu.Unlock()

	err := s.start(ctx, execPath)

	s.mu.Lock()
	attempt.err = err
	s.starting = nil
	s.mu.Unlock()
	close(attempt.done)
	return err
}

func (s *Supervisor) start(ctx context.Context, execPath string) error {
	if portInUse(s.cfg.SocksPort) {
		if s.VerifyRunning(ctx) {
			s.adopt()
			return nil
		}
		logging.WarnWithContext(s.logger, "socks port held by unresponsive process; sweeping orphans", "tor_port_conflict",
			logging.Int("socks_port", s.cfg.SocksPort),
			logging.String(logging.FieldImpact, "startup delayed while stale daemons are killed"),
			logging.String(logging.FieldErrorHint, "stop other Tor instances or change tor.socks_port"),
		)
		if err := s.sweeper.Sweep(ctx, filepath.Base(execPath)); err != nil {
			s.logger.Debug("orphan sweep failed", logging.Error(err))
		}
		if err := s.sleep(ctx, s.cfg.CleanupWait()); err != nil {
			return err
		}
		if portInUse(s.cfg.SocksPort) {
			return fmt.Errorf("%w: port %d", ErrPortConflict, s.cfg.SocksPort)
		}
	}

	torrc, err := writeTorrc(s.cfg)
	if err != nil {
		return err
	}
	proc, err := s.spawn(execPath, torrc)
	if err != nil {
		return err
	}
	return s.awaitBootstrap(ctx, proc)
}

func (s *Supervisor) adopt() {
	s.mu.Lock()
	s.status.Running = true
	s.status.ExternallyManaged = true
	s.status.BootstrapPercent = 100
	s.status.PID = 0
	s.mu.Unlock()
	s.metrics.TorRunning(true)
	s.metrics.TorBootstrap(100)
	s.logger.Info("adopted running tor daemon",
		logging.String(logging.FieldEventType, "tor_adopted"),
		logging.Int("socks_port", s.cfg.SocksPort),
	)
}

func (s *Supervisor) spawn(execPath, torrc string) (*process, error) {
	cmd := exec.Command(execPath, "-f", torrc) //nolint:gosec
	cmd.Dir = s.cfg.DataDir
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tor: %w", err)
	}

	proc := &process{cmd: cmd, exited: make(chan struct{})}
	s.mu.Lock()
	s.proc = proc
	s.ready = false
	s.sampler.Reset()
	s.status.PID = cmd.Process.Pid
	s.status.BootstrapPercent = 0
	s.status.ExternallyManaged = false
	s.mu.Unlock()

	s.logger.Info("tor process started",
		logging.String(logging.FieldEventType, "tor_spawned"),
		logging.Int("pid", cmd.Process.Pid),
		logging.String("torrc", torrc),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go s.scan(&wg, stdout)
	go s.scan(&wg, stderr)
	go func() {
		wg.Wait()
		proc.waitErr = cmd.Wait()
		s.handleExit(proc)
		close(proc.exited)
	}()
	return proc, nil
}

func (s *Supervisor) scan(wg *sync.WaitGroup, r io.Reader) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		percent, ok := parseBootstrap(line)
		if !ok {
			s.logger.Debug("tor output", logging.String("line", line))
			continue
		}
		s.mu.Lock()
		s.status.BootstrapPercent = percent
		if percent >= 100 {
			s.ready = true
		}
		shouldLog := s.sampler.ShouldLog(percent)
		s.mu.Unlock()

		s.metrics.TorBootstrap(percent)
		if shouldLog {
			s.logger.Info("tor bootstrap progress",
				logging.String(logging.FieldEventType, "tor_bootstrap"),
				logging.Int("percent", percent),
			)
		}
	}
}

func (s *Supervisor) handleExit(proc *process) {
	s.mu.Lock()
	current := s.proc == proc
	if current {
		s.proc = nil
		s.ready = false
		s.status.Running = false
		s.status.PID = 0
		s.status.BootstrapPercent = 0
	}
	s.mu.Unlock()
	if !current {
		return
	}
	s.metrics.TorRunning(false)
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "tor_exited")}
	if proc.waitErr != nil {
		attrs = append(attrs, logging.Error(proc.waitErr))
	}
	s.logger.Info("tor process exited", logging.Args(attrs...)...)
}

func (s *Supervisor) awaitBootstrap(ctx context.Context, proc *process) error {
	ticker := s.clock.Ticker(s.cfg.PollInterval())
	defer ticker.Stop()

	for attempt := 0; attempt < s.cfg.BootstrapAttempts; attempt++ {
		select {
		case <-ctx.Done():
			s.abort(proc)
			return ctx.Err()
		case <-proc.exited:
			if proc.waitErr != nil {
				return fmt.Errorf("%w: %w", ErrProcessExited, proc.waitErr)
			}
			return ErrProcessExited
		case <-ticker.C:
		}
		if s.markReady(proc) {
			return nil
		}
	}

	if s.VerifyRunning(ctx) && s.markReadyForced(proc) {
		return nil
	}
	s.abort(proc)
	return fmt.Errorf("%w after %d polls", ErrBootstrapTimeout, s.cfg.BootstrapAttempts)
}

func (s *Supervisor) markReady(proc *process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.proc != proc {
		return false
	}
	s.setRunningLocked()
	return true
}

func (s *Supervisor) markReadyForced(proc *process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != proc {
		return false
	}
	s.setRunningLocked()
	return true
}

func (s *Supervisor) setRunningLocked() {
	s.status.Running = true
	s.metrics.TorRunning(true)
	s.logger.Info("tor ready",
		logging.String(logging.FieldEventType, "tor_ready"),
		logging.Int("socks_port", s.cfg.SocksPort),
		logging.Int("pid", s.status.PID),
	)
}

// abort force-kills a daemon that failed to become ready.
func (s *Supervisor) abort(proc *process) {
	if err := killProcess(proc.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("kill tor after failed start", logging.Error(err))
	}
	<-proc.exited
}

// Stop terminates a daemon this supervisor spawned, escalating to SIGKILL
// after the grace period, and then kills any orphaned tor processes. An
// adopted external daemon is left running and nothing is swept.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status.ExternallyManaged {
		s.status.Running = false
		s.status.ExternallyManaged = false
		s.status.BootstrapPercent = 0
		s.mu.Unlock()
		s.metrics.TorRunning(false)
		s.logger.Info("released externally managed tor daemon")
		return nil
	}
	proc := s.proc
	name := sweepName(s.execPath)
	s.mu.Unlock()

	var errs error
	if proc != nil {
		errs = s.terminate(ctx, proc)
	}
	// Daemons orphaned by an earlier crash are not in s.proc.
	if err := s.sweeper.Sweep(context.WithoutCancel(ctx), name); err != nil {
		errs = multierr.Append(errs, err)
	}
	if proc != nil {
		<-proc.exited
	}
	return errs
}

// terminate sends SIGTERM and escalates to SIGKILL once the stop grace
// period runs out.
func (s *Supervisor) terminate(ctx context.Context, proc *process) error {
	var errs error
	if err := terminateProcess(proc.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = multierr.Append(errs, fmt.Errorf("terminate tor: %w", err))
	}

	grace := s.clock.Timer(s.cfg.StopGrace())
	defer grace.Stop()
	select {
	case <-proc.exited:
		s.logger.Info("tor stopped", logging.String(logging.FieldEventType, "tor_stopped"))
		return errs
	case <-grace.C:
	case <-ctx.Done():
		errs = multierr.Append(errs, ctx.Err())
	}

	s.logger.Warn("tor ignored SIGTERM; killing",
		logging.String(logging.FieldEventType, "tor_force_kill"),
		logging.Duration("grace", s.cfg.StopGrace()),
	)
	if err := killProcess(proc.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		errs = multierr.Append(errs, fmt.Errorf("kill tor: %w", err))
	}
	return errs
}

func sweepName(execPath string) string {
	if execPath == "" {
		return binaryName()
	}
	return filepath.Base(execPath)
}

// Running reports the cached readiness flag.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Running
}

// VerifyRunning checks over the network whether a Tor daemon is answering
// on the configured ports.
func (s *Supervisor) VerifyRunning(ctx context.Context) bool {
	if probeSocks(ctx, s.cfg.SocksAddress(), socksProbeTimeout) {
		return true
	}
	return probeControl(ctx, s.cfg.ControlAddress(), controlProbeTimeout)
}

// Status returns a snapshot of the daemon state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SocksAddress is the loopback address of the SOCKS proxy.
func (s *Supervisor) SocksAddress() string {
	return s.cfg.SocksAddress()
}

// ControlAddress is the loopback address of the control port.
func (s *Supervisor) ControlAddress() string {
	return s.cfg.ControlAddress()
}

// CookiePath is where the daemon writes its control cookie.
func (s *Supervisor) CookiePath() string {
	return CookiePath(s.cfg)
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := s.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
