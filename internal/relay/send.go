package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"murmur/internal/logging"
	"murmur/internal/store"
)

// Routes a message can be delivered by.
const (
	RouteSelf  = "self"
	RouteLocal = "local"
	RouteProxy = "proxy"
)

const (
	defaultSendTimeout = 120 * time.Second
	responseBodyLimit  = 4 << 10
)

// Result is the outcome of a send. Delivery failures are reported here and
// never returned as errors.
type Result struct {
	MessageID string    `json:"message_id,omitempty"`
	Success   bool      `json:"success"`
	Route     string    `json:"route,omitempty"`
	Error     string    `json:"error,omitempty"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Err       error     `json:"-"`
}

func rejected(err error) Result {
	return Result{Error: err.Error(), Kind: KindGeneric, Err: err}
}

// SendMessage persists an outgoing message as pending and then delivers it.
// A ttl of zero means the message never expires.
func (r *Relay) SendMessage(ctx context.Context, peer, content string, ttl time.Duration) Result {
	return r.send(ctx, peer, content, ttl, "")
}

// Resend delivers the content of an earlier outgoing message as a new
// message with its own id. The original record is left unchanged.
func (r *Relay) Resend(ctx context.Context, id string) Result {
	original, err := r.store.GetMessage(ctx, id)
	if err != nil {
		return rejected(err)
	}
	if original.Direction != store.DirectionOutgoing {
		return rejected(fmt.Errorf("message %s was received, not sent, and cannot be resent", id))
	}
	var ttl time.Duration
	if original.TTL != nil {
		ttl = *original.TTL
	}
	return r.send(ctx, original.PeerAddress, original.Content, ttl, original.ID)
}

func (r *Relay) send(ctx context.Context, peer, content string, ttl time.Duration, resendOf string) Result {
	canonical := CanonicalAddress(peer)
	if canonical == "" {
		return rejected(errors.New("peer address is required"))
	}
	if ttl < 0 {
		ttl = 0
	}

	started := r.clock.Now()
	payload := newWirePayload(r.Address(), content, started.UTC(), ttl)
	if err := r.checkEncodedSize(payload, canonical); err != nil {
		return rejected(err)
	}
	msg := &store.Message{
		ID:          uuid.NewString(),
		Direction:   store.DirectionOutgoing,
		PeerAddress: canonical,
		Content:     content,
		Timestamp:   started.UTC(),
		Status:      store.StatusPending,
		ResendOf:    resendOf,
	}
	msg.SetTTL(ttl)
	if err := r.store.InsertMessage(ctx, msg); err != nil {
		return rejected(fmt.Errorf("store message: %w", err))
	}
	r.armTTL(msg)

	ctx = logging.WithPeer(logging.WithMessageID(ctx, msg.ID), canonical)
	logger := logging.WithContext(ctx, r.logger)
	logger.Debug("message queued", logging.String(logging.FieldEventType, "message_queued"))

	route, err := r.deliver(ctx, logger, canonical, payload)
	return r.finish(ctx, logger, msg, route, err, started)
}

func (r *Relay) deliver(ctx context.Context, logger *slog.Logger, peer string, payload wirePayload) (string, error) {
	if r.isSelf(peer) {
		r.metrics.SendAttempt(RouteSelf)
		_, err := r.accept(ctx, payload)
		return RouteSelf, err
	}
	if r.cfg.LocalDiscovery && r.probeLocal(ctx, logger, peer, payload) {
		return RouteLocal, nil
	}
	if isLoopback(peer) {
		return RouteLocal, r.deliverWithRetry(ctx, logger, RouteLocal, r.direct, messageURL(peer), payload)
	}
	client, err := r.proxyClient()
	if err != nil {
		return RouteProxy, err
	}
	return RouteProxy, r.deliverWithRetry(ctx, logger, RouteProxy, client, messageURL(peer), payload)
}

func (r *Relay) proxyClient() (*http.Client, error) {
	if r.proxy == nil || !r.proxy.Running() {
		return nil, fmt.Errorf("%w: tor is not running", ErrProxyUnavailable)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proxied != nil {
		return r.proxied, nil
	}
	dialer, err := newSOCKSDialer(r.proxy.SocksAddress())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProxyUnavailable, err)
	}
	r.proxied = newHTTPClient(dialer.DialContext)
	return r.proxied, nil
}

// probeLocal offers the payload to sibling receivers on this host. Only a
// relay that recognises the recipient address answers 200.
func (r *Relay) probeLocal(ctx context.Context, logger *slog.Logger, peer string, payload wirePayload) bool {
	payload.To = peer
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	own := r.Port()
	for _, port := range r.cfg.CandidatePorts() {
		if port == own {
			continue
		}
		r.metrics.SendAttempt(RouteLocal)
		probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout())
		err := r.post(probeCtx, r.direct, "http://127.0.0.1:"+strconv.Itoa(port)+"/message", body, true)
		cancel()
		if err == nil {
			logger.Info("delivered to local receiver",
				logging.String(logging.FieldEventType, "local_delivery"),
				logging.Int("port", port),
			)
			return true
		}
		logger.Debug("local probe missed", logging.Int("port", port), logging.Error(err))
	}
	return false
}

func (r *Relay) deliverWithRetry(ctx context.Context, logger *slog.Logger, route string, client *http.Client, url string, payload wirePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	timeout := r.cfg.SendTimeoutDuration()
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	attempts := max(r.cfg.SendAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		r.metrics.SendAttempt(route)
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		lastErr = r.post(attemptCtx, client, url, body, false)
		cancel()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("delivery succeeded after retry", logging.Int("attempt", attempt))
			}
			return nil
		}
		if errors.Is(lastErr, ErrProxyUnavailable) || isPeerRejection(lastErr) || ctx.Err() != nil || attempt == attempts {
			break
		}

		delay := retryDelay(r.cfg.RetryBase(), r.cfg.RetryMax(), attempt)
		logging.WarnWithContext(logger, "delivery attempt failed; retrying", "send_retry",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("retry_in", delay),
			logging.String("route", route),
			logging.Error(lastErr),
			logging.String(logging.FieldImpact, "message stays pending until a retry succeeds"),
			logging.String(logging.FieldErrorHint, "a freshly published onion address can take a minute to propagate"),
		)
		if err := r.sleep(ctx, delay); err != nil {
			break
		}
	}
	return fmt.Errorf("deliver to %s: %w", url, lastErr)
}

// checkEncodedSize fails when the JSON body, including the recipient field
// local probes add, would exceed what receivers accept.
func (r *Relay) checkEncodedSize(payload wirePayload, peer string) error {
	payload.To = peer
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if limit := r.maxPayload(); len(body) > limit {
		return fmt.Errorf("message too large: %d bytes encoded, receivers accept at most %d", len(body), limit)
	}
	return nil
}

// retryDelay is the wait before attempt+1: base*attempt capped at limit.
func retryDelay(base, limit time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(attempt)
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

func (r *Relay) post(ctx context.Context, client *http.Client, url string, body []byte, requireAck bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PeerStatusError{Code: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(reply))}
	}
	if !requireAck {
		return nil
	}
	var ack struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(reply, &ack); err != nil || ack.Status != "received" {
		return fmt.Errorf("unexpected reply from %s", url)
	}
	return nil
}

func (r *Relay) finish(ctx context.Context, logger *slog.Logger, msg *store.Message, route string, err error, started time.Time) Result {
	elapsed := r.clock.Since(started)
	result := Result{MessageID: msg.ID, Success: true, Route: route}
	outcome := store.Outcome{Status: store.StatusSent, Route: route}
	if err != nil {
		kind, detail := Classify(err)
		if sentinel := kind.Sentinel(); sentinel != nil && !errors.Is(err, sentinel) {
			err = fmt.Errorf("%w: %w", sentinel, err)
		}
		result = Result{MessageID: msg.ID, Route: route, Error: detail, Kind: kind, Err: err}
		outcome = store.Outcome{Status: store.StatusFailed, Route: route, ErrorKind: string(kind), ErrorDetail: detail}
	}

	if uerr := r.store.UpdateOutcome(context.WithoutCancel(ctx), msg.ID, outcome); uerr != nil {
		if errors.Is(uerr, store.ErrNotFound) {
			logger.Debug("message expired before delivery finished")
		} else {
			logging.ErrorWithContext(logger, "failed to record delivery outcome", "outcome_update_failed", logging.Error(uerr))
		}
	} else {
		updated := *msg
		updated.Status = outcome.Status
		updated.Route = outcome.Route
		updated.ErrorKind = outcome.ErrorKind
		updated.ErrorDetail = outcome.ErrorDetail
		r.events.publish(Event{Type: EventMessageUpdated, MessageID: msg.ID, Message: &updated})
	}

	if result.Success {
		r.metrics.MessageSent(route, elapsed)
		logger.Info("message sent",
			logging.String(logging.FieldEventType, "message_sent"),
			logging.String("route", route),
			logging.Duration("elapsed", elapsed),
		)
		return result
	}
	r.metrics.MessageFailed(string(result.Kind), elapsed)
	logging.WarnWithContext(logger, "message delivery failed", "message_failed",
		logging.String("route", route),
		logging.String("kind", string(result.Kind)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "message kept in history as failed"),
		logging.String(logging.FieldErrorHint, result.Error),
	)
	return result
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := r.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
