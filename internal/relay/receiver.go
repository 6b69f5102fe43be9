package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"murmur/internal/logging"
	"murmur/internal/store"
)

const defaultMaxPayload = 64 << 10

// Handler serves the receiver endpoints.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", r.handleMessage)
	mux.HandleFunc("GET /health", r.handleHealth)
	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *Relay) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "address": r.Address()})
}

func (r *Relay) maxPayload() int {
	if r.cfg.MaxPayloadBytes > 0 {
		return r.cfg.MaxPayloadBytes
	}
	return defaultMaxPayload
}

func (r *Relay) handleMessage(w http.ResponseWriter, req *http.Request) {
	limit := int64(r.maxPayload())
	raw, err := io.ReadAll(http.MaxBytesReader(w, req.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			r.reject(w, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, limit))
			return
		}
		r.reject(w, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
		return
	}

	payload, err := decodePayload(raw)
	if err != nil {
		r.reject(w, err)
		return
	}
	if r.misdirected(payload.To) {
		r.logger.Debug("refused probe addressed to another relay", logging.String(logging.FieldPeer, payload.To))
		writeJSON(w, http.StatusMisdirectedRequest, map[string]string{"error": "not addressed to this relay"})
		return
	}

	if _, err := r.accept(req.Context(), payload); err != nil {
		logging.ErrorWithContext(r.logger, "failed to store incoming message", "receive_failed",
			logging.String(logging.FieldPeer, payload.From),
			logging.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store message"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (r *Relay) reject(w http.ResponseWriter, err error) {
	r.metrics.PayloadRejected()
	logging.WarnWithContext(r.logger, "rejected malformed payload", "payload_rejected",
		logging.Error(err),
		logging.String(logging.FieldImpact, "the sender's message was not stored"),
		logging.String(logging.FieldErrorHint, "sender must post {from, content, timestamp, ttl?} as JSON"),
	)
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// misdirected reports whether a probe names a different relay than this one.
func (r *Relay) misdirected(to string) bool {
	if to == "" {
		return false
	}
	return !r.isSelf(to)
}

// Receive validates and stores a raw inbound payload, exactly as POST
// /message does. Validation failures wrap ErrMalformedPayload.
func (r *Relay) Receive(ctx context.Context, raw []byte) (*store.Message, error) {
	if limit := r.maxPayload(); len(raw) > limit {
		r.metrics.PayloadRejected()
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, limit)
	}
	payload, err := decodePayload(raw)
	if err != nil {
		r.metrics.PayloadRejected()
		return nil, err
	}
	return r.accept(ctx, payload)
}

// accept stores a validated payload as a delivered incoming message. The
// timestamp is the local receipt time so TTLs count from arrival here; the
// sender's timestamp is kept alongside it.
func (r *Relay) accept(ctx context.Context, payload wirePayload) (*store.Message, error) {
	sentAt := payload.sentAt()
	msg := &store.Message{
		ID:          uuid.NewString(),
		Direction:   store.DirectionIncoming,
		PeerAddress: CanonicalAddress(payload.From),
		Content:     payload.Content,
		Timestamp:   r.clock.Now().UTC(),
		SentAt:      &sentAt,
		Status:      store.StatusDelivered,
	}
	msg.SetTTL(payload.ttl())
	if err := r.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	r.armTTL(msg)
	r.metrics.MessageReceived()

	r.logger.Info("message received",
		logging.String(logging.FieldEventType, "message_received"),
		logging.String(logging.FieldMessageID, msg.ID),
		logging.String(logging.FieldPeer, msg.PeerAddress),
	)
	received := *msg
	r.events.publish(Event{Type: EventMessageReceived, MessageID: msg.ID, Message: &received})
	return msg, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
