package relay

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// wirePayload is the JSON body exchanged between receivers. To is only sent
// on local discovery probes so a sibling relay can refuse mail that is not
// addressed to it.
type wirePayload struct {
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	TTL       *int64 `json:"ttl,omitempty"`
}

// maxWireMillis is the largest millisecond value that still fits a
// time.Duration or time.Time without overflow.
const maxWireMillis = math.MaxInt64 / int64(time.Millisecond)

type inboundPayload struct {
	From      *string  `json:"from"`
	To        *string  `json:"to"`
	Content   *string  `json:"content"`
	Timestamp *float64 `json:"timestamp"`
	TTL       *float64 `json:"ttl"`
}

// decodePayload validates an inbound body.
func decodePayload(raw []byte) (wirePayload, error) {
	var in inboundPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return wirePayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if in.From == nil || strings.TrimSpace(*in.From) == "" {
		return wirePayload{}, fmt.Errorf("%w: from is required", ErrMalformedPayload)
	}
	if in.Content == nil {
		return wirePayload{}, fmt.Errorf("%w: content is required", ErrMalformedPayload)
	}
	if in.Timestamp == nil || math.IsNaN(*in.Timestamp) || math.IsInf(*in.Timestamp, 0) {
		return wirePayload{}, fmt.Errorf("%w: timestamp must be a number", ErrMalformedPayload)
	}
	if math.Abs(*in.Timestamp) > float64(maxWireMillis) {
		return wirePayload{}, fmt.Errorf("%w: timestamp out of range", ErrMalformedPayload)
	}

	out := wirePayload{
		From:      strings.TrimSpace(*in.From),
		Content:   *in.Content,
		Timestamp: int64(*in.Timestamp),
	}
	if in.To != nil {
		out.To = strings.TrimSpace(*in.To)
	}
	if in.TTL != nil {
		ttl := *in.TTL
		if ttl < 0 || math.IsNaN(ttl) || math.IsInf(ttl, 0) {
			return wirePayload{}, fmt.Errorf("%w: ttl must be a non-negative number of milliseconds", ErrMalformedPayload)
		}
		if ttl > float64(maxWireMillis) {
			return wirePayload{}, fmt.Errorf("%w: ttl exceeds %d milliseconds", ErrMalformedPayload, maxWireMillis)
		}
		if ms := int64(ttl); ms > 0 {
			out.TTL = &ms
		}
	}
	return out, nil
}

func (p wirePayload) ttl() time.Duration {
	if p.TTL == nil {
		return 0
	}
	return time.Duration(*p.TTL) * time.Millisecond
}

// sentAt is the sender's clock reading for the message.
func (p wirePayload) sentAt() time.Time {
	return time.UnixMilli(p.Timestamp).UTC()
}

func newWirePayload(from, content string, created time.Time, ttl time.Duration) wirePayload {
	payload := wirePayload{From: from, Content: content, Timestamp: created.UnixMilli()}
	if ttl > 0 {
		ms := ttl.Milliseconds()
		payload.TTL = &ms
	}
	return payload
}
