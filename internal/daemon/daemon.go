package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"murmur/internal/config"
	"murmur/internal/deps"
	"murmur/internal/logging"
	"murmur/internal/metrics"
	"murmur/internal/notifications"
	"murmur/internal/onion"
	"murmur/internal/preflight"
	"murmur/internal/relay"
	"murmur/internal/store"
	"murmur/internal/tor"
)

var (
	// ErrAlreadyRunning reports that the daemon or another instance holds the lock.
	ErrAlreadyRunning = errors.New("another murmur daemon instance is already running")
	// ErrNotRunning reports an operation that needs a started daemon.
	ErrNotRunning = errors.New("daemon is not running")
	// ErrTorDisabled reports a Tor operation while tor.enabled is false.
	ErrTorDisabled = errors.New("tor supervision is disabled in config")
	// ErrNoIdentity reports an identity operation without an onion provider.
	ErrNoIdentity = errors.New("onion identity provider unavailable")
)

// TorController is the slice of the Tor supervisor the daemon drives.
// *tor.Supervisor satisfies it.
type TorController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	Status() tor.Status
}

// IdentityController manages the onion service key. *onion.Provider
// satisfies it.
type IdentityController interface {
	RegenerateOnionAddress(ctx context.Context) error
	Circuits(ctx context.Context) ([]onion.Circuit, error)
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTor attaches the Tor supervisor.
func WithTor(t TorController) Option {
	return func(d *Daemon) {
		d.tor = t
	}
}

// WithIdentity attaches the onion identity provider.
func WithIdentity(id IdentityController) Option {
	return func(d *Daemon) {
		d.identity = id
	}
}

// WithLogPath records the daemon log file served by log tailing.
func WithLogPath(path string) Option {
	return func(d *Daemon) {
		d.logPath = path
	}
}

// WithMetrics exposes m on the HTTP API.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) {
		d.metrics = m
	}
}

// Daemon owns the relay, the Tor supervisor and the local API surfaces, and
// enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	relay    *relay.Relay
	tor      TorController
	identity IdentityController
	metrics  *metrics.Metrics
	notifier notifications.Service
	logPath  string

	lockPath string
	lock     *flock.Flock

	mu          sync.Mutex
	running     atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	bg          *errgroup.Group
	unsubscribe func()

	infoMu    sync.RWMutex
	api       *apiServer
	startedAt time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	StartedAt     time.Time
	Address       string
	ReceiverPort  int
	APIAddress    string
	DatabasePath  string
	LockFilePath  string
	MessageCounts map[store.Status]int
	TorEnabled    bool
	Tor           tor.Status
	Dependencies  []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, r *relay.Relay, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || r == nil {
		return nil, errors.New("daemon requires config, store, and relay")
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewNop(),
		store:    st,
		relay:    r,
		notifier: notifications.NewService(nil),
		lockPath: cfg.Paths.LockPath,
		lock:     flock.New(cfg.Paths.LockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "daemon")
	return d, nil
}

// Start acquires the daemon lock, binds the receiver and begins bringing Tor
// up in the background. Tor failures are logged, not returned: the relay
// keeps serving local peers without it.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return ErrAlreadyRunning
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.relay.Start(d.ctx); err != nil {
		d.abortStartLocked()
		return fmt.Errorf("start relay: %w", err)
	}

	srv, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		_ = d.relay.Stop(context.Background())
		d.abortStartLocked()
		return err
	}
	if err := srv.start(d.ctx); err != nil {
		_ = d.relay.Stop(context.Background())
		d.abortStartLocked()
		return err
	}

	eventCtx := d.ctx
	d.unsubscribe = d.relay.Subscribe(func(ev relay.Event) {
		d.handleRelayEvent(eventCtx, ev)
	})

	d.bg = &errgroup.Group{}
	if d.cfg.Tor.Enabled && d.tor != nil {
		torCtx := d.ctx
		d.bg.Go(func() error {
			d.bringUpTor(torCtx)
			return nil
		})
	}

	d.infoMu.Lock()
	d.api = srv
	d.startedAt = time.Now()
	d.infoMu.Unlock()
	d.running.Store(true)
	d.logger.Info("murmur daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Int("receiver_port", d.relay.Port()),
	)
	return nil
}

func (d *Daemon) abortStartLocked() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// bringUpTor starts the supervisor and then publishes the onion service.
func (d *Daemon) bringUpTor(ctx context.Context) {
	if err := d.tor.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "tor unavailable", "tor_start_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "remote peers cannot be reached; local delivery still works"),
			logging.String(logging.FieldErrorHint, torHint(err)),
		)
		d.publish(ctx, notifications.EventTorUnavailable, notifications.Payload{"error": err.Error()})
		return
	}
	d.provisionIdentity(ctx)
}

func (d *Daemon) provisionIdentity(ctx context.Context) {
	address, err := d.relay.ProvisionIdentity(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "onion identity not published", "identity_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "peers cannot reach this node by onion address"),
		)
		return
	}
	d.logger.Info("onion identity published",
		logging.String(logging.FieldEventType, "identity_ready"),
		logging.String("address", address),
	)
	d.publish(ctx, notifications.EventIdentityReady, notifications.Payload{"address": address})
}

func torHint(err error) string {
	switch {
	case errors.Is(err, tor.ErrNotInstalled):
		return "install tor or set tor.binary in the config file"
	case errors.Is(err, tor.ErrPortConflict):
		return "free the tor socks/control ports or change them in the config file"
	case errors.Is(err, tor.ErrBootstrapTimeout):
		return "check network connectivity and run murmur tor start"
	default:
		return "see the daemon log for tor output"
	}
}

// Stop cancels background work, shuts the receiver down, stops Tor and
// releases the lock.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return nil
	}

	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.bg != nil {
		_ = d.bg.Wait()
		d.bg = nil
	}
	d.infoMu.Lock()
	srv := d.api
	d.api = nil
	d.infoMu.Unlock()
	srv.stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	err = multierr.Append(err, d.relay.Stop(shutdownCtx))
	if d.tor != nil {
		err = multierr.Append(err, d.tor.Stop(shutdownCtx))
	}
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("murmur daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return err
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	err := d.Stop()
	if d.store != nil {
		err = multierr.Append(err, d.store.Close())
	}
	return err
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Address:      d.relay.Address(),
		ReceiverPort: d.relay.Port(),
		APIAddress:   d.APIAddress(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		TorEnabled:   d.cfg.Tor.Enabled,
		Dependencies: preflight.CheckSystemDeps(ctx, d.cfg),
	}
	d.infoMu.RLock()
	status.StartedAt = d.startedAt
	d.infoMu.RUnlock()
	if d.tor != nil {
		status.Tor = d.tor.Status()
	}
	if counts, err := d.store.CountByStatus(ctx); err == nil {
		status.MessageCounts = counts
	} else {
		d.logger.Warn("count messages failed", logging.Error(err))
	}
	return status
}

// APIAddress returns the bound HTTP API address, or "" when it is disabled.
func (d *Daemon) APIAddress() string {
	d.infoMu.RLock()
	defer d.infoMu.RUnlock()
	return d.api.address()
}

// Send delivers content to peer. Delivery failures are reported in the
// result; the error is only set when the daemon cannot accept the request.
func (d *Daemon) Send(ctx context.Context, peer, content string, ttl time.Duration) (relay.Result, error) {
	if !d.running.Load() {
		return relay.Result{}, ErrNotRunning
	}
	return d.relay.SendMessage(ctx, peer, content, ttl), nil
}

// Resend delivers an earlier outgoing message again under a new id.
func (d *Daemon) Resend(ctx context.Context, id string) (relay.Result, error) {
	if !d.running.Load() {
		return relay.Result{}, ErrNotRunning
	}
	return d.relay.Resend(ctx, strings.TrimSpace(id)), nil
}

// Messages lists the history, optionally filtered to one peer.
func (d *Daemon) Messages(ctx context.Context, peer string) ([]store.Message, error) {
	return d.relay.Messages(ctx, peer)
}

// DeleteMessage removes a message and cancels its expiry timer.
func (d *Daemon) DeleteMessage(ctx context.Context, id string) (bool, error) {
	return d.relay.DeleteMessage(ctx, strings.TrimSpace(id))
}

// Contacts lists the address book.
func (d *Daemon) Contacts(ctx context.Context) ([]store.Contact, error) {
	return d.relay.Contacts(ctx)
}

// AddContact stores a new contact.
func (d *Daemon) AddContact(ctx context.Context, address, name string) (*store.Contact, error) {
	return d.relay.AddContact(ctx, address, name)
}

// EditContact renames a contact.
func (d *Daemon) EditContact(ctx context.Context, address, name string) (*store.Contact, error) {
	return d.relay.EditContact(ctx, address, name)
}

// DeleteContact removes a contact.
func (d *Daemon) DeleteContact(ctx context.Context, address string) error {
	return d.relay.DeleteContact(ctx, address)
}

// Subscribe forwards relay events to fn until cancel is called.
func (d *Daemon) Subscribe(fn func(relay.Event)) (cancel func()) {
	return d.relay.Subscribe(fn)
}

// StartTor starts the supervisor and publishes the onion service. It blocks
// until bootstrap completes or ctx ends.
func (d *Daemon) StartTor(ctx context.Context) (tor.Status, error) {
	if !d.cfg.Tor.Enabled || d.tor == nil {
		return tor.Status{}, ErrTorDisabled
	}
	if !d.running.Load() {
		return tor.Status{}, ErrNotRunning
	}
	if err := d.tor.Start(ctx); err != nil {
		return d.tor.Status(), err
	}
	if d.identity != nil {
		d.provisionIdentity(ctx)
	}
	return d.tor.Status(), nil
}

// StopTor stops the supervised daemon. The relay keeps serving local peers.
func (d *Daemon) StopTor(ctx context.Context) (tor.Status, error) {
	if d.tor == nil {
		return tor.Status{}, ErrTorDisabled
	}
	err := d.tor.Stop(ctx)
	return d.tor.Status(), err
}

// TorStatus returns the supervisor snapshot.
func (d *Daemon) TorStatus() tor.Status {
	if d.tor == nil {
		return tor.Status{}
	}
	return d.tor.Status()
}

// Circuits lists built Tor circuits.
func (d *Daemon) Circuits(ctx context.Context) ([]onion.Circuit, error) {
	if d.identity == nil {
		return nil, ErrNoIdentity
	}
	if d.tor == nil || !d.tor.Running() {
		return nil, fmt.Errorf("list circuits: %w", relay.ErrProxyUnavailable)
	}
	return d.identity.Circuits(ctx)
}

// ResetIdentity discards the onion key. When Tor is running a new service
// is published immediately and its address returned.
func (d *Daemon) ResetIdentity(ctx context.Context) (string, error) {
	if d.identity == nil {
		return "", ErrNoIdentity
	}
	if err := d.identity.RegenerateOnionAddress(ctx); err != nil {
		return "", err
	}
	d.relay.SetAddress("")
	if d.tor == nil || !d.tor.Running() || !d.running.Load() {
		d.logger.Info("onion identity reset; new address will be published when tor starts",
			logging.String(logging.FieldEventType, "identity_reset"),
		)
		return "", nil
	}
	address, err := d.relay.ProvisionIdentity(ctx)
	if err != nil {
		return "", err
	}
	d.logger.Info("onion identity regenerated",
		logging.String(logging.FieldEventType, "identity_reset"),
		logging.String("address", address),
	)
	return address, nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Address returns the relay's own address.
func (d *Daemon) Address() string {
	return d.relay.Address()
}
