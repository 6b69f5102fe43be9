package onion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cretz/bine/control"

	"murmur/internal/logging"
)

// KeyFileName is the file under the data directory holding the service key.
const KeyFileName = "hidden_service_key"

const defaultDialTimeout = 10 * time.Second

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Provider publishes and tears down the hidden service over the control port.
type Provider struct {
	controlAddr string
	keyPath     string
	logger      *slog.Logger

	mu        sync.Mutex
	serviceID string
}

// New returns a provider talking to controlAddr and storing its key under
// dataDir.
func New(controlAddr, dataDir string, opts ...Option) *Provider {
	p := &Provider{
		controlAddr: controlAddr,
		keyPath:     filepath.Join(dataDir, KeyFileName),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "onion")
	return p
}

// KeyPath returns the location of the persisted service key.
func (p *Provider) KeyPath() string {
	return p.keyPath
}

// ServiceID returns the currently published service id, if any.
func (p *Provider) ServiceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serviceID
}

// SetupHiddenService maps remotePort on the onion address to the local
// receiver and returns "<service id>.onion". A saved key is reused so the
// address is stable; otherwise Tor generates one and it is saved.
func (p *Provider) SetupHiddenService(ctx context.Context, localPort, remotePort int) (string, error) {
	key, err := p.loadKey()
	if err != nil {
		return "", err
	}

	conn, release, err := p.connect(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.serviceID != "" {
		if err := conn.DelOnion(p.serviceID); err != nil {
			p.logger.Debug("remove previous hidden service", logging.String("service_id", p.serviceID), logging.Error(err))
		}
		p.serviceID = ""
	}

	req := &control.AddOnionRequest{
		Key:   key,
		Flags: []string{"Detach"},
		Ports: []*control.KeyVal{
			control.NewKeyVal(strconv.Itoa(remotePort), net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort))),
		},
	}
	resp, err := conn.AddOnion(req)
	if err != nil {
		return "", wrapReply("add onion", err)
	}
	if resp.ServiceID == "" {
		return "", errors.New("add onion: reply carried no service id")
	}
	if resp.Key != nil {
		if err := p.saveKey(resp.Key); err != nil {
			return "", err
		}
	}

	p.serviceID = resp.ServiceID
	address := resp.ServiceID + ".onion"
	p.logger.Info("hidden service published",
		logging.String(logging.FieldEventType, "onion_published"),
		logging.String(logging.FieldPeer, address),
		logging.Int("local_port", localPort),
		logging.Int("remote_port", remotePort),
	)
	return address, nil
}

// RegenerateOnionAddress removes the current service and forgets its key so
// the next SetupHiddenService yields a new address.
func (p *Provider) RegenerateOnionAddress(ctx context.Context) error {
	p.mu.Lock()
	serviceID := p.serviceID
	p.serviceID = ""
	p.mu.Unlock()

	if serviceID != "" {
		if conn, release, err := p.connect(ctx); err == nil {
			if err := conn.DelOnion(serviceID); err != nil {
				p.logger.Debug("remove hidden service", logging.String("service_id", serviceID), logging.Error(err))
			}
			release()
		} else {
			p.logger.Debug("control port unreachable during identity reset", logging.Error(err))
		}
	}

	if err := os.Remove(p.keyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove hidden service key: %w", err)
	}
	p.logger.Info("onion identity reset", logging.String(logging.FieldEventType, "onion_reset"))
	return nil
}

// Circuits lists the circuits Tor currently has built.
func (p *Provider) Circuits(ctx context.Context) ([]Circuit, error) {
	conn, release, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := conn.SendRequest("GETINFO circuit-status")
	if err != nil {
		return nil, wrapReply("getinfo circuit-status", err)
	}
	return parseCircuits(resp.Data), nil
}

// connect dials and authenticates. The returned release closes the
// connection; ctx cancellation also closes it to unblock pending reads.
func (p *Provider) connect(ctx context.Context) (*control.Conn, func(), error) {
	dialer := net.Dialer{Timeout: defaultDialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", p.controlAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial tor control port: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = netConn.Close() })

	conn := control.NewConn(textproto.NewConn(netConn))
	release := func() {
		stop()
		_ = conn.Close()
	}
	if err := conn.Authenticate(""); err != nil {
		release()
		return nil, nil, wrapReply("authenticate control port", err)
	}
	return conn, release, nil
}

// storedKey replays a saved "<type>:<blob>" key to Tor without decoding it.
type storedKey struct {
	keyType control.KeyType
	blob    string
}

func (k storedKey) Type() control.KeyType { return k.keyType }

func (k storedKey) Blob() string { return k.blob }

func (p *Provider) loadKey() (control.Key, error) {
	data, err := os.ReadFile(p.keyPath)
	if errors.Is(err, fs.ErrNotExist) {
		return control.GenKey(control.KeyAlgoBest), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hidden service key: %w", err)
	}
	keyType, blob, ok := strings.Cut(strings.TrimSpace(string(data)), ":")
	if !ok || keyType == "" || blob == "" {
		logging.WarnWithContext(p.logger, "ignoring malformed hidden service key", "onion_key_invalid",
			logging.String("path", p.keyPath),
			logging.String(logging.FieldImpact, "a new onion address will be generated"),
			logging.String(logging.FieldErrorHint, "restore the key file from backup to keep the old address"),
		)
		return control.GenKey(control.KeyAlgoBest), nil
	}
	return storedKey{keyType: control.KeyType(keyType), blob: blob}, nil
}

func (p *Provider) saveKey(key control.Key) error {
	if err := os.MkdirAll(filepath.Dir(p.keyPath), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	contents := string(key.Type()) + ":" + key.Blob()
	if err := os.WriteFile(p.keyPath, []byte(contents), 0o600); err != nil {
		return fmt.Errorf("write hidden service key: %w", err)
	}
	return os.Chmod(p.keyPath, 0o600)
}
