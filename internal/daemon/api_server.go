package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"murmur/internal/api"
	"murmur/internal/config"
	"murmur/internal/logging"
	"murmur/internal/relay"
	"murmur/internal/store"
)

const (
	maxRequestBody = 256 << 10
	eventBuffer    = 64
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil || !cfg.API.Enabled {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  strings.TrimSpace(cfg.API.Token),
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/messages", s.handleMessages)
	mux.HandleFunc("POST /api/messages", s.handleSend)
	mux.HandleFunc("DELETE /api/messages/{id}", s.handleDeleteMessage)
	mux.HandleFunc("POST /api/messages/{id}/resend", s.handleResend)
	mux.HandleFunc("GET /api/contacts", s.handleContacts)
	mux.HandleFunc("POST /api/contacts", s.handleAddContact)
	mux.HandleFunc("PUT /api/contacts/{address}", s.handleEditContact)
	mux.HandleFunc("DELETE /api/contacts/{address}", s.handleDeleteContact)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/tor/start", s.handleTorStart)
	mux.HandleFunc("POST /api/tor/stop", s.handleTorStop)
	mux.HandleFunc("GET /api/tor/circuits", s.handleCircuits)
	mux.HandleFunc("POST /api/identity/reset", s.handleIdentityReset)
	if s.daemon.metrics != nil {
		mux.Handle("GET /metrics", s.daemon.metrics.Handler())
	}
	return authMiddleware(s.token, mux.ServeHTTP)
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	// Handlers, including event streams, end with the daemon context.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()).API())
}

func (s *apiServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.daemon.Messages(r.Context(), r.URL.Query().Get("peer"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.MessageListResponse{Messages: api.FromMessages(msgs)})
}

func (s *apiServer) handleSend(w http.ResponseWriter, r *http.Request) {
	var req api.SendRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TTLMillis < 0 {
		s.writeError(w, http.StatusBadRequest, "ttlMs must not be negative")
		return
	}
	res, err := s.daemon.Send(r.Context(), req.Peer, req.Content, time.Duration(req.TTLMillis)*time.Millisecond)
	s.writeResult(w, res, err)
}

func (s *apiServer) handleResend(w http.ResponseWriter, r *http.Request) {
	res, err := s.daemon.Resend(r.Context(), r.PathValue("id"))
	if err == nil && errors.Is(res.Err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "message not found")
		return
	}
	s.writeResult(w, res, err)
}

func (s *apiServer) writeResult(w http.ResponseWriter, res relay.Result, err error) {
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	status := http.StatusOK
	if res.MessageID == "" {
		// Rejected before anything was stored.
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, api.FromResult(res))
}

func (s *apiServer) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ok, err := s.daemon.DeleteMessage(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "message not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.daemon.Contacts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ContactListResponse{Contacts: api.FromContacts(contacts)})
}

func (s *apiServer) handleAddContact(w http.ResponseWriter, r *http.Request) {
	var req api.ContactRequest
	if !s.decode(w, r, &req) {
		return
	}
	contact, err := s.daemon.AddContact(r.Context(), req.Address, req.Name)
	if err != nil {
		s.writeContactError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromContact(*contact))
}

func (s *apiServer) handleEditContact(w http.ResponseWriter, r *http.Request) {
	var req api.ContactRequest
	if !s.decode(w, r, &req) {
		return
	}
	contact, err := s.daemon.EditContact(r.Context(), r.PathValue("address"), req.Name)
	if err != nil {
		s.writeContactError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromContact(*contact))
}

func (s *apiServer) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.DeleteContact(r.Context(), r.PathValue("address")); err != nil {
		s.writeContactError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) writeContactError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "contact not found")
	default:
		s.writeError(w, http.StatusBadRequest, err.Error())
	}
}

// handleEvents streams relay events as server-sent events until the client
// disconnects. Slow clients drop events rather than stalling the relay.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events := make(chan relay.Event, eventBuffer)
	cancel := s.daemon.Subscribe(func(ev relay.Event) {
		select {
		case events <- ev:
		default:
			s.log().Debug("event dropped for slow subscriber", logging.String("type", string(ev.Type)))
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(api.FromEvent(ev))
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *apiServer) handleTorStart(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.StartTor(r.Context())
	if err != nil {
		s.writeError(w, torErrorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromTorStatus(status, s.daemon.cfg.Tor.Enabled))
}

func (s *apiServer) handleTorStop(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.StopTor(r.Context())
	if err != nil {
		s.writeError(w, torErrorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromTorStatus(status, s.daemon.cfg.Tor.Enabled))
}

func (s *apiServer) handleCircuits(w http.ResponseWriter, r *http.Request) {
	circuits, err := s.daemon.Circuits(r.Context())
	if err != nil {
		s.writeError(w, torErrorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.CircuitListResponse{Circuits: api.FromCircuits(circuits)})
}

func (s *apiServer) handleIdentityReset(w http.ResponseWriter, r *http.Request) {
	address, err := s.daemon.ResetIdentity(r.Context())
	if err != nil {
		s.writeError(w, torErrorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"address": address})
}

func torErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrTorDisabled), errors.Is(err, ErrNoIdentity):
		return http.StatusConflict
	case errors.Is(err, ErrNotRunning), errors.Is(err, relay.ErrProxyUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// API converts the status to its wire representation.
func (status Status) API() api.DaemonStatus {
	deps := make([]api.DependencyStatus, len(status.Dependencies))
	for i, dep := range status.Dependencies {
		deps[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Path:        dep.Path,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	counts := make(map[string]int, len(status.MessageCounts))
	for k, v := range status.MessageCounts {
		counts[string(k)] = v
	}
	payload := api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		Address:       status.Address,
		ReceiverPort:  status.ReceiverPort,
		APIAddress:    status.APIAddress,
		DatabasePath:  status.DatabasePath,
		LockFilePath:  status.LockFilePath,
		MessageCounts: counts,
		Tor:           api.FromTorStatus(status.Tor, status.TorEnabled),
		Dependencies:  deps,
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
