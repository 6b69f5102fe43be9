package store

import "time"

// Direction tells whether a message was sent or received by this node.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Status represents the delivery lifecycle of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusDelivered Status = "delivered"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusDelivered
}

// Contact is an address book entry keyed by peer address.
type Contact struct {
	Address     string    `json:"address"`
	DisplayName string    `json:"name"`
	AddedAt     time.Time `json:"added_at"`
}

// Message is one entry of the history. Outgoing messages start pending and
// move to sent or failed exactly once; incoming messages are stored as
// delivered. For incoming messages Timestamp is the local receipt time and
// SentAt the sender's own clock reading.
type Message struct {
	ID          string         `json:"id"`
	Direction   Direction      `json:"direction"`
	PeerAddress string         `json:"peer"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	TTL         *time.Duration `json:"ttl,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	Status      Status         `json:"status"`
	Route       string         `json:"route,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	ResendOf    string         `json:"resend_of,omitempty"`
}

// SetTTL records ttl and derives ExpiresAt from Timestamp.
func (m *Message) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		m.TTL = nil
		m.ExpiresAt = nil
		return
	}
	expires := m.Timestamp.Add(ttl)
	m.TTL = &ttl
	m.ExpiresAt = &expires
}

// Outcome is the final delivery state applied to a pending message.
type Outcome struct {
	Status      Status
	Route       string
	ErrorKind   string
	ErrorDetail string
}
