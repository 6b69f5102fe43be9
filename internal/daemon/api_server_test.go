package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"murmur/internal/api"
	"murmur/internal/metrics"
	"murmur/internal/relay"
	"murmur/internal/testsupport"
)

const testToken = "s3cret"

func startAPIDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.API.Token = testToken
	st := testsupport.MustOpenStore(t, cfg)
	m := metrics.New()
	r := relay.New(cfg.Relay, st, relay.WithMetrics(m))
	d, err := New(cfg, st, r, WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Stop() })
	return d, "http://" + d.APIAddress()
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAuthMiddleware(t *testing.T) {
	next := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }
	cases := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"no token configured", "", "", http.StatusTeapot},
		{"missing header", "abc", "", http.StatusUnauthorized},
		{"wrong scheme", "abc", "Basic abc", http.StatusUnauthorized},
		{"wrong token", "abc", "Bearer nope", http.StatusUnauthorized},
		{"valid", "abc", "Bearer abc", http.StatusTeapot},
		{"scheme is case insensitive", "abc", "bearer abc", http.StatusTeapot},
		{"token prefix only", "abc", "Bearer ab", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.token, next)(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d", w.Code, tc.want)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate challenge")
			}
		})
	}
}

func TestAPIRejectsMissingToken(t *testing.T) {
	_, base := startAPIDaemon(t)
	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAPIStatus(t *testing.T) {
	d, base := startAPIDaemon(t)
	var status api.DaemonStatus
	if code := doJSON(t, http.MethodGet, base+"/api/status", nil, &status); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if !status.Running || status.ReceiverPort != d.relay.Port() || status.Tor.Enabled {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency report")
	}
}

func TestAPISendAndList(t *testing.T) {
	d, base := startAPIDaemon(t)

	var res api.SendResult
	code := doJSON(t, http.MethodPost, base+"/api/messages", api.SendRequest{Peer: d.Address(), Content: "hello me", TTLMillis: 60000}, &res)
	if code != http.StatusOK || !res.Success || res.Route != relay.RouteSelf {
		t.Fatalf("send: code=%d res=%+v", code, res)
	}

	var list api.MessageListResponse
	if code := doJSON(t, http.MethodGet, base+"/api/messages", nil, &list); code != http.StatusOK {
		t.Fatalf("list code %d", code)
	}
	if len(list.Messages) != 2 {
		t.Fatalf("expected outgoing and incoming copies, got %+v", list.Messages)
	}
	for _, msg := range list.Messages {
		if msg.TTLMillis != 60000 || msg.ExpiresAt == "" {
			t.Fatalf("ttl not carried: %+v", msg)
		}
	}

	if code := doJSON(t, http.MethodPost, base+"/api/messages", api.SendRequest{Peer: "", Content: "x"}, nil); code != http.StatusBadRequest {
		t.Fatalf("empty peer: code %d", code)
	}
	if code := doJSON(t, http.MethodPost, base+"/api/messages/missing/resend", nil, nil); code != http.StatusNotFound {
		t.Fatalf("resend missing: code %d", code)
	}
	if code := doJSON(t, http.MethodDelete, base+"/api/messages/"+list.Messages[0].ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: code %d", code)
	}
	if code := doJSON(t, http.MethodDelete, base+"/api/messages/"+list.Messages[0].ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("second delete: code %d", code)
	}
}

func TestAPIContacts(t *testing.T) {
	_, base := startAPIDaemon(t)

	var contact api.Contact
	if code := doJSON(t, http.MethodPost, base+"/api/contacts", api.ContactRequest{Address: "FRIEND.onion", Name: "  Friend "}, &contact); code != http.StatusCreated {
		t.Fatalf("add: code %d", code)
	}
	if contact.Address != "friend.onion" || contact.Name != "Friend" {
		t.Fatalf("unexpected contact %+v", contact)
	}
	if code := doJSON(t, http.MethodPut, base+"/api/contacts/friend.onion", api.ContactRequest{Name: "Pal"}, &contact); code != http.StatusOK || contact.Name != "Pal" {
		t.Fatalf("edit: code %d contact %+v", code, contact)
	}
	if code := doJSON(t, http.MethodPut, base+"/api/contacts/stranger.onion", api.ContactRequest{Name: "x"}, nil); code != http.StatusNotFound {
		t.Fatalf("edit missing: code %d", code)
	}
	var list api.ContactListResponse
	doJSON(t, http.MethodGet, base+"/api/contacts", nil, &list)
	if len(list.Contacts) != 1 {
		t.Fatalf("expected one contact, got %+v", list.Contacts)
	}
	if code := doJSON(t, http.MethodDelete, base+"/api/contacts/friend.onion", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: code %d", code)
	}
	if code := doJSON(t, http.MethodPost, base+"/api/contacts", map[string]string{"nickname": "x"}, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown field: code %d", code)
	}
}

func TestAPITorEndpointsWhenDisabled(t *testing.T) {
	_, base := startAPIDaemon(t)
	if code := doJSON(t, http.MethodPost, base+"/api/tor/start", nil, nil); code != http.StatusConflict {
		t.Fatalf("tor start: code %d", code)
	}
	if code := doJSON(t, http.MethodGet, base+"/api/tor/circuits", nil, nil); code != http.StatusConflict {
		t.Fatalf("circuits: code %d", code)
	}
}

func TestAPIEventsStream(t *testing.T) {
	d, base := startAPIDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("preamble %q: %v", line, err)
	}

	go func() { _, _ = d.Send(context.Background(), d.Address(), "ping", 0) }()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev api.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type == string(relay.EventMessageReceived) {
			if ev.Message == nil || ev.Message.Content != "ping" {
				t.Fatalf("unexpected event %+v", ev)
			}
			return
		}
	}
}

func TestAPIMetrics(t *testing.T) {
	_, base := startAPIDaemon(t)
	req, _ := http.NewRequest(http.MethodGet, base+"/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "murmur_") {
		t.Fatalf("metrics code=%d body=%q", resp.StatusCode, body)
	}
}
