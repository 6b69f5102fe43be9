package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"murmur/internal/config"
)

const userAgent = "murmur/0.1.0"

// Event names something worth pushing to the user's devices.
type Event string

const (
	EventMessageReceived Event = "message_received"
	EventDeliveryFailed  Event = "delivery_failed"
	EventTorUnavailable  Event = "tor_unavailable"
	EventIdentityReady   Event = "identity_ready"
	EventTest            Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]string

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notifier backed by ntfy when a topic is configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:       topic,
		client:         &http.Client{Timeout: timeout},
		includeContent: cfg.Notifications.IncludeContent,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint       string
	client         *http.Client
	includeContent bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }
	switch event {
	case EventMessageReceived:
		sender := get("sender")
		if sender == "" {
			sender = "unknown peer"
		}
		body := "New message from " + sender
		if n.includeContent {
			if content := get("content"); content != "" {
				body = fmt.Sprintf("%s: %s", sender, content)
			}
		}
		return message{
			title: "Murmur - New Message",
			body:  body,
			tags:  []string{"murmur", "message", "incoming"},
		}, true
	case EventDeliveryFailed:
		body := "Could not deliver message to " + get("peer")
		if detail := get("error"); detail != "" {
			body += "\n" + detail
		}
		return message{
			title: "Murmur - Delivery Failed",
			body:  body,
			tags:  []string{"murmur", "message", "failed"},
		}, true
	case EventTorUnavailable:
		body := "Tor could not be started"
		if detail := get("error"); detail != "" {
			body += ": " + detail
		}
		return message{
			title:    "Murmur - Tor Unavailable",
			body:     body,
			tags:     []string{"murmur", "tor", "alert"},
			priority: "high",
		}, true
	case EventIdentityReady:
		return message{
			title: "Murmur - Online",
			body:  "Reachable at " + get("address"),
			tags:  []string{"murmur", "tor", "ready"},
		}, true
	case EventTest:
		return message{
			title:    "Murmur - Test",
			body:     "Notification system test",
			tags:     []string{"murmur", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// Enabled reports whether svc actually delivers anything.
func Enabled(svc Service) bool {
	if svc == nil {
		return false
	}
	_, noop := svc.(noopService)
	return !noop
}
