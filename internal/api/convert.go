package api

import (
	"time"

	"murmur/internal/onion"
	"murmur/internal/relay"
	"murmur/internal/store"
	"murmur/internal/tor"
)

// FromMessage converts a store record to its API representation.
func FromMessage(msg store.Message) Message {
	dto := Message{
		ID:          msg.ID,
		Direction:   string(msg.Direction),
		Peer:        msg.PeerAddress,
		Content:     msg.Content,
		Timestamp:   formatTime(msg.Timestamp),
		Status:      string(msg.Status),
		Route:       msg.Route,
		ErrorKind:   msg.ErrorKind,
		ErrorDetail: msg.ErrorDetail,
		ResendOf:    msg.ResendOf,
	}
	if msg.TTL != nil {
		dto.TTLMillis = msg.TTL.Milliseconds()
	}
	if msg.ExpiresAt != nil {
		dto.ExpiresAt = formatTime(*msg.ExpiresAt)
	}
	if msg.SentAt != nil {
		dto.SentAt = formatTime(*msg.SentAt)
	}
	return dto
}

// FromMessages converts a slice of store records into API DTOs.
func FromMessages(msgs []store.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, FromMessage(msg))
	}
	return out
}

// FromContact converts an address book entry.
func FromContact(c store.Contact) Contact {
	return Contact{Address: c.Address, Name: c.DisplayName, AddedAt: formatTime(c.AddedAt)}
}

// FromContacts converts the address book.
func FromContacts(contacts []store.Contact) []Contact {
	out := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, FromContact(c))
	}
	return out
}

// FromResult converts a relay send result.
func FromResult(res relay.Result) SendResult {
	return SendResult{
		MessageID: res.MessageID,
		Success:   res.Success,
		Route:     res.Route,
		ErrorKind: string(res.Kind),
		Error:     res.Error,
	}
}

// FromTorStatus converts a supervisor snapshot.
func FromTorStatus(status tor.Status, enabled bool) TorStatus {
	return TorStatus{
		Enabled:           enabled,
		Running:           status.Running,
		ProxyPort:         status.ProxyPort,
		ControlPort:       status.ControlPort,
		ExecutablePath:    status.ExecutablePath,
		PID:               status.PID,
		BootstrapPercent:  status.BootstrapPercent,
		ExternallyManaged: status.ExternallyManaged,
	}
}

// FromCircuits converts built circuits.
func FromCircuits(circuits []onion.Circuit) []Circuit {
	out := make([]Circuit, 0, len(circuits))
	for _, c := range circuits {
		nodes := make([]CircuitNode, 0, len(c.Nodes))
		for _, n := range c.Nodes {
			nodes = append(nodes, CircuitNode{Fingerprint: n.Fingerprint, Nickname: n.Nickname})
		}
		out = append(out, Circuit{ID: c.ID, Status: c.Status, Purpose: c.Purpose, Nodes: nodes})
	}
	return out
}

// FromEvent converts a relay notification.
func FromEvent(ev relay.Event) Event {
	dto := Event{Type: string(ev.Type), MessageID: ev.MessageID, Expired: ev.Expired}
	if ev.Message != nil {
		msg := FromMessage(*ev.Message)
		dto.Message = &msg
	}
	return dto
}

// ParseTime reads a timestamp produced by this package. Invalid or empty
// values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
