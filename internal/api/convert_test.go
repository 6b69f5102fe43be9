package api

import (
	"errors"
	"testing"
	"time"

	"murmur/internal/onion"
	"murmur/internal/relay"
	"murmur/internal/store"
)

func TestFromMessageIncludesExpiry(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := store.Message{
		ID:          "m1",
		Direction:   store.DirectionOutgoing,
		PeerAddress: "abc.onion",
		Content:     "hi",
		Timestamp:   created,
		Status:      store.StatusFailed,
		ErrorKind:   string(relay.KindTimedOut),
	}
	msg.SetTTL(90 * time.Second)

	dto := FromMessage(msg)
	if dto.TTLMillis != 90000 {
		t.Fatalf("ttl = %d, want 90000", dto.TTLMillis)
	}
	if dto.Timestamp != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("timestamp = %q", dto.Timestamp)
	}
	if got := ParseTime(dto.ExpiresAt); !got.Equal(created.Add(90 * time.Second)) {
		t.Fatalf("expiresAt = %q", dto.ExpiresAt)
	}
	if dto.Direction != "outgoing" || dto.Status != "failed" || dto.ErrorKind != "timed_out" {
		t.Fatalf("unexpected dto %+v", dto)
	}
}

func TestFromMessageIncludesSenderTime(t *testing.T) {
	sent := time.Date(2026, 3, 1, 11, 59, 58, 0, time.UTC)
	dto := FromMessage(store.Message{ID: "m5", Direction: store.DirectionIncoming, Timestamp: time.Now(), SentAt: &sent})
	if dto.SentAt != "2026-03-01T11:59:58.000Z" {
		t.Fatalf("sentAt = %q", dto.SentAt)
	}
	if FromMessage(store.Message{ID: "m6", Timestamp: time.Now()}).SentAt != "" {
		t.Fatal("expected empty sentAt when the sender time is unknown")
	}
}

func TestFromMessageWithoutTTL(t *testing.T) {
	dto := FromMessage(store.Message{ID: "m2", Timestamp: time.Now()})
	if dto.TTLMillis != 0 || dto.ExpiresAt != "" {
		t.Fatalf("expected no expiry, got %+v", dto)
	}
}

func TestFromResult(t *testing.T) {
	res := relay.Result{
		MessageID: "m3",
		Route:     relay.RouteProxy,
		Error:     "peer refused connection",
		Kind:      relay.KindConnectionRefused,
		Err:       errors.New("boom"),
	}
	dto := FromResult(res)
	if dto.Success || dto.ErrorKind != "connection_refused" || dto.Route != "proxy" || dto.MessageID != "m3" {
		t.Fatalf("unexpected dto %+v", dto)
	}
}

func TestFromCircuits(t *testing.T) {
	circuits := FromCircuits([]onion.Circuit{{
		ID:     "7",
		Status: "BUILT",
		Nodes:  []onion.Node{{Fingerprint: "AAAA", Nickname: "guard"}, {Fingerprint: "BBBB"}},
	}})
	if len(circuits) != 1 || len(circuits[0].Nodes) != 2 || circuits[0].Nodes[0].Nickname != "guard" {
		t.Fatalf("unexpected circuits %+v", circuits)
	}
}

func TestFromEventCarriesMessage(t *testing.T) {
	msg := store.Message{ID: "m4", Timestamp: time.Now()}
	ev := FromEvent(relay.Event{Type: relay.EventMessageReceived, MessageID: "m4", Message: &msg})
	if ev.Message == nil || ev.Message.ID != "m4" || ev.Type != "message_received" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if del := FromEvent(relay.Event{Type: relay.EventMessageDeleted, MessageID: "m4", Expired: true}); del.Message != nil || !del.Expired {
		t.Fatalf("unexpected deletion event %+v", del)
	}
}

func TestParseTimeInvalid(t *testing.T) {
	if !ParseTime("yesterday").IsZero() || !ParseTime("").IsZero() {
		t.Fatal("expected zero time for invalid input")
	}
}
