package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/net/proxy"

	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/metrics"
	"murmur/internal/store"
)

// Store is the persistence the relay needs. *store.Store satisfies it.
type Store interface {
	InsertMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	ListMessages(ctx context.Context, peer string) ([]store.Message, error)
	UpdateOutcome(ctx context.Context, id string, outcome store.Outcome) error
	DeleteMessage(ctx context.Context, id string) (bool, error)
	ExpiringMessages(ctx context.Context) ([]store.Message, error)
	PurgeExpired(ctx context.Context, now time.Time) ([]string, error)
	FailInterrupted(ctx context.Context, kind, detail string) (int64, error)
	AddContact(ctx context.Context, address, name string) (*store.Contact, error)
	EditContact(ctx context.Context, address, name string) (*store.Contact, error)
	DeleteContact(ctx context.Context, address string) error
	ListContacts(ctx context.Context) ([]store.Contact, error)
}

// Identity publishes the receiver as an onion service.
type Identity interface {
	SetupHiddenService(ctx context.Context, localPort, remotePort int) (string, error)
}

// Proxy reports whether the Tor SOCKS proxy is usable and where it listens.
type Proxy interface {
	Running() bool
	SocksAddress() string
}

// Option configures a Relay.
type Option func(*Relay)

// WithIdentity sets the onion identity provider.
func WithIdentity(identity Identity) Option {
	return func(r *Relay) {
		r.identity = identity
	}
}

// WithProxy sets the Tor proxy used for remote delivery.
func WithProxy(p Proxy) Option {
	return func(r *Relay) {
		r.proxy = p
	}
}

// WithProxyDialer overrides the SOCKS dialer (primarily for tests).
func WithProxyDialer(d proxy.ContextDialer) Option {
	return func(r *Relay) {
		if d != nil {
			r.proxied = newHTTPClient(d.DialContext)
		}
	}
}

// WithClock injects the clock driving TTL timers and retry backoff.
func WithClock(clk clock.Clock) Option {
	return func(r *Relay) {
		if clk != nil {
			r.clock = clk
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records delivery counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// Relay sends, receives and expires messages.
type Relay struct {
	cfg      config.Relay
	store    Store
	identity Identity
	proxy    Proxy
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   observers
	direct   *http.Client

	mu       sync.Mutex
	proxied  *http.Client
	address  string
	port     int
	server   *http.Server
	serveErr chan error
	timers   map[string]*clock.Timer
}

// New constructs a relay over st. Nothing is bound until Start.
func New(cfg config.Relay, st Store, opts ...Option) *Relay {
	r := &Relay{
		cfg:    cfg,
		store:  st,
		clock:  clock.New(),
		logger: logging.NewNop(),
		direct: newDirectClient(),
		timers: make(map[string]*clock.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "relay")
	return r
}

// Start binds the receiver on the first free port of the configured range,
// fails sends interrupted by a previous run, and re-arms stored TTLs.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.server != nil {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	ln, err := r.bind()
	if err != nil {
		return err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)

	r.mu.Lock()
	r.port = port
	r.server = srv
	r.serveErr = serveErr
	r.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	r.logger.Info("receiver listening",
		logging.String(logging.FieldEventType, "receiver_bound"),
		logging.Int("port", port),
	)

	if n, err := r.store.FailInterrupted(ctx, string(KindInterrupted), "Sending was interrupted before delivery completed."); err != nil {
		return fmt.Errorf("fail interrupted sends: %w", err)
	} else if n > 0 {
		logging.WarnWithContext(r.logger, "marked interrupted sends as failed", "send_interrupted",
			logging.Int64("count", n),
			logging.String(logging.FieldImpact, "those messages were not delivered"),
			logging.String(logging.FieldErrorHint, "resend them with murmur resend <id>"),
		)
	}
	return r.rearmTTLs(ctx)
}

func (r *Relay) bind() (net.Listener, error) {
	var errs error
	for _, port := range r.cfg.CandidatePorts() {
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
		r.logger.Debug("receiver port unavailable", logging.Int("port", port), logging.Error(err))
		errs = multierr.Append(errs, err)
	}
	return nil, fmt.Errorf("bind receiver on ports %d-%d: %w", r.cfg.Port, r.cfg.Port+r.cfg.PortRange-1, errs)
}

// ProvisionIdentity publishes the receiver as an onion service and adopts
// the resulting address. It can take tens of seconds; ctx bounds it.
func (r *Relay) ProvisionIdentity(ctx context.Context) (string, error) {
	if r.identity == nil {
		return "", errors.New("no onion identity provider configured")
	}
	port := r.Port()
	if port == 0 {
		return "", errors.New("receiver is not bound")
	}
	address, err := r.identity.SetupHiddenService(ctx, port, r.cfg.RemotePort)
	if err != nil {
		return "", fmt.Errorf("provision onion identity: %w", err)
	}
	r.SetAddress(address)
	return r.Address(), nil
}

// Initialize is Start followed by ProvisionIdentity. The receiver stays
// bound if provisioning fails so the relay keeps working locally.
func (r *Relay) Initialize(ctx context.Context) (string, error) {
	if err := r.Start(ctx); err != nil {
		return "", err
	}
	return r.ProvisionIdentity(ctx)
}

// Stop shuts the receiver down and cancels pending TTL timers. Stored
// expiries are re-armed on the next Start.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	srv := r.server
	serveErr := r.serveErr
	r.server = nil
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	for serr := range serveErr {
		err = multierr.Append(err, serr)
	}
	r.logger.Info("receiver stopped", logging.String(logging.FieldEventType, "receiver_stopped"))
	return err
}

// Address returns the relay's own address: the onion address once
// provisioned, otherwise the loopback receiver address.
func (r *Relay) Address() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addressLocked()
}

func (r *Relay) addressLocked() string {
	if r.address != "" {
		return r.address
	}
	if r.port != 0 {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(r.port))
	}
	return ""
}

// SetAddress overrides the own address.
func (r *Relay) SetAddress(address string) {
	r.mu.Lock()
	r.address = CanonicalAddress(address)
	r.mu.Unlock()
}

// Port returns the bound receiver port, or 0 before Start.
func (r *Relay) Port() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port
}

// isSelf reports whether peer names this relay by its onion or loopback
// address.
func (r *Relay) isSelf(peer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	canonical := CanonicalAddress(peer)
	if canonical == "" {
		return false
	}
	if r.address != "" && canonical == r.address {
		return true
	}
	if r.port == 0 {
		return false
	}
	port := strconv.Itoa(r.port)
	return canonical == net.JoinHostPort("127.0.0.1", port) || canonical == net.JoinHostPort("localhost", port)
}

// Messages returns history in insertion order, optionally limited to peer.
func (r *Relay) Messages(ctx context.Context, peer string) ([]store.Message, error) {
	return r.store.ListMessages(ctx, CanonicalAddress(peer))
}

// DeleteMessage removes a message, cancels its TTL and notifies
// subscribers. It reports whether the message existed.
func (r *Relay) DeleteMessage(ctx context.Context, id string) (bool, error) {
	return r.deleteMessage(ctx, id, false)
}

func (r *Relay) deleteMessage(ctx context.Context, id string, expired bool) (bool, error) {
	r.cancelTTL(id)
	deleted, err := r.store.DeleteMessage(ctx, id)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}
	if expired {
		r.metrics.MessageExpired()
	}
	r.logger.Debug("message deleted",
		logging.String(logging.FieldMessageID, id),
		logging.Bool("expired", expired),
	)
	r.events.publish(Event{Type: EventMessageDeleted, MessageID: id, Expired: expired})
	return true, nil
}
