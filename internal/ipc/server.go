package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"murmur/internal/api"
	"murmur/internal/daemon"
	"murmur/internal/logging"
	"murmur/internal/logs"
)

// ServiceName is the RPC receiver name clients call methods on.
const ServiceName = "Murmur"

// ServerOption configures a Server.
type ServerOption func(*service)

// WithShutdown registers fn to run after a Stop request has stopped the
// daemon, typically cancelling the process context.
func WithShutdown(fn func()) ServerOption {
	return func(s *service) {
		s.shutdown = fn
	}
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	// The socket controls the daemon; keep it private to the user.
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	for _, opt := range opts {
		opt(srv)
	}
	if err := rpcServer.RegisterName(ServiceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				stop := context.AfterFunc(s.ctx, func() { _ = c.Close() })
				defer stop()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun murmur stop"))
	}
}

type service struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String("component", "ipc"))
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC",
		logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	if err := s.daemon.Stop(); err != nil {
		resp.Message = err.Error()
	}
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	if s.shutdown != nil {
		// Let the reply reach the client before the process winds down.
		time.AfterFunc(100*time.Millisecond, s.shutdown)
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.DaemonStatus = s.daemon.Status(s.ctx).API()
	return nil
}

func (s *service) Send(req SendRequest, resp *SendResponse) error {
	if req.TTLMillis < 0 {
		return errors.New("ttl must not be negative")
	}
	ctx := logging.WithRequestID(s.ctx, "ipc")
	res, err := s.daemon.Send(ctx, req.Peer, req.Content, time.Duration(req.TTLMillis)*time.Millisecond)
	if err != nil {
		return err
	}
	resp.Result = api.FromResult(res)
	return nil
}

func (s *service) Resend(req ResendRequest, resp *SendResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("message id is required")
	}
	res, err := s.daemon.Resend(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Result = api.FromResult(res)
	return nil
}

func (s *service) Messages(req MessagesRequest, resp *MessagesResponse) error {
	msgs, err := s.daemon.Messages(s.ctx, req.Peer)
	if err != nil {
		return err
	}
	resp.Messages = api.FromMessages(msgs)
	return nil
}

func (s *service) DeleteMessage(req DeleteMessageRequest, resp *DeleteMessageResponse) error {
	deleted, err := s.daemon.DeleteMessage(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Deleted = deleted
	return nil
}

func (s *service) Contacts(_ ContactsRequest, resp *ContactsResponse) error {
	contacts, err := s.daemon.Contacts(s.ctx)
	if err != nil {
		return err
	}
	resp.Contacts = api.FromContacts(contacts)
	return nil
}

func (s *service) AddContact(req ContactRequest, resp *ContactResponse) error {
	contact, err := s.daemon.AddContact(s.ctx, req.Address, req.Name)
	if err != nil {
		return err
	}
	resp.Contact = api.FromContact(*contact)
	return nil
}

func (s *service) EditContact(req ContactRequest, resp *ContactResponse) error {
	contact, err := s.daemon.EditContact(s.ctx, req.Address, req.Name)
	if err != nil {
		return err
	}
	resp.Contact = api.FromContact(*contact)
	return nil
}

func (s *service) DeleteContact(req ContactRequest, resp *ContactResponse) error {
	if err := s.daemon.DeleteContact(s.ctx, req.Address); err != nil {
		return err
	}
	resp.Contact = api.Contact{Address: req.Address}
	return nil
}

func (s *service) TorStart(_ TorRequest, resp *TorResponse) error {
	status, err := s.daemon.StartTor(s.ctx)
	resp.Tor = api.FromTorStatus(status, !errors.Is(err, daemon.ErrTorDisabled))
	return err
}

func (s *service) TorStatus(_ TorRequest, resp *TorResponse) error {
	resp.Tor = s.daemon.Status(s.ctx).API().Tor
	return nil
}

func (s *service) TorStop(_ TorRequest, resp *TorResponse) error {
	status, err := s.daemon.StopTor(s.ctx)
	resp.Tor = api.FromTorStatus(status, !errors.Is(err, daemon.ErrTorDisabled))
	return err
}

func (s *service) Circuits(_ CircuitsRequest, resp *CircuitsResponse) error {
	circuits, err := s.daemon.Circuits(s.ctx)
	if err != nil {
		return err
	}
	resp.Circuits = api.FromCircuits(circuits)
	return nil
}

func (s *service) ResetIdentity(_ ResetIdentityRequest, resp *ResetIdentityResponse) error {
	address, err := s.daemon.ResetIdentity(s.ctx)
	if err != nil {
		return err
	}
	resp.Address = address
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	err := s.daemon.TestNotification(s.ctx)
	if errors.Is(err, daemon.ErrNotificationsDisabled) {
		resp.Message = "Notifications are disabled (set notifications.ntfy_topic)"
		return nil
	}
	if err != nil {
		return err
	}
	resp.Sent = true
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
		Keep: logs.MatchFields(map[string]string{
			logging.FieldMessageID: req.MessageID,
			logging.FieldPeer:      req.Peer,
		}),
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}
