package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"murmur/internal/api"
)

// ErrAPIUnavailable reports that the daemon HTTP API could not be reached.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// EventClient follows the daemon's server-sent event stream.
type EventClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewEventClient targets the API at bind. It returns nil when bind is empty.
func NewEventClient(bind, token string) (*EventClient, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &EventClient{
		base:  base,
		token: strings.TrimSpace(token),
		// No timeout - the stream stays open until the caller cancels.
		http: &http.Client{},
	}, nil
}

// Follow calls fn for every event until ctx ends, the stream closes, or fn
// returns an error.
func (c *EventClient) Follow(ctx context.Context, fn func(api.Event) error) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := *c.base
	endpoint.Path = "/api/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return errors.New("daemon API rejected the token (set api.token or MURMUR_API_TOKEN)")
	default:
		return fmt.Errorf("event stream: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev api.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// IsAPIUnavailable reports whether err means the daemon API is unreachable.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAPIUnavailable) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}
