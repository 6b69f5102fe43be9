package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LegacyInterruptedKind is the error kind given to outgoing messages that a
// previous process left in flight.
const LegacyInterruptedKind = "interrupted"

// ImportSummary reports what ImportLegacy changed.
type ImportSummary struct {
	Contacts int `json:"contacts"`
	Messages int `json:"messages"`
	Skipped  int `json:"skipped"`
}

type legacyContact struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	AddedAt int64  `json:"addedAt"`
}

type legacyMessage struct {
	ID         json.RawMessage `json:"id"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	Content    string          `json:"content"`
	Timestamp  int64           `json:"timestamp"`
	IsIncoming bool            `json:"isIncoming"`
	TTL        *int64          `json:"ttl"`
	Status     string          `json:"status"`
	Error      string          `json:"error"`
}

// ImportLegacy reads contacts.json and messages.json from dir, the flat JSON
// documents written by earlier releases, and inserts anything not already
// present. Running it twice is harmless.
func (s *Store) ImportLegacy(ctx context.Context, dir string) (ImportSummary, error) {
	var summary ImportSummary

	contacts, err := readLegacyContacts(filepath.Join(dir, "contacts.json"))
	if err != nil {
		return summary, err
	}
	messages, err := readLegacyMessages(filepath.Join(dir, "messages.json"))
	if err != nil {
		return summary, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range contacts {
		address := strings.TrimSpace(c.ID)
		if address == "" {
			summary.Skipped++
			continue
		}
		addedAt := c.AddedAt
		if addedAt <= 0 {
			addedAt = toMillis(time.Now())
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO contacts (address, display_name, added_at) VALUES (?, ?, ?) ON CONFLICT(address) DO NOTHING`,
			address, c.Name, addedAt)
		if err != nil {
			return summary, fmt.Errorf("import contact %s: %w", address, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			summary.Contacts++
		} else {
			summary.Skipped++
		}
	}

	for _, lm := range messages {
		msg, ok := lm.toMessage()
		if !ok {
			summary.Skipped++
			continue
		}
		var ttl, expires any
		if msg.TTL != nil {
			ttl = msg.TTL.Milliseconds()
			expires = toMillis(*msg.ExpiresAt)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
			msg.ID, msg.Direction, msg.PeerAddress, msg.Content, toMillis(msg.Timestamp),
			ttl, expires, msg.Status, nil,
			nullableString(msg.ErrorKind), nullableString(msg.ErrorDetail), nil, nil,
		)
		if err != nil {
			return summary, fmt.Errorf("import message %s: %w", msg.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			summary.Messages++
		} else {
			summary.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("commit import: %w", err)
	}
	return summary, nil
}

func (lm legacyMessage) toMessage() (Message, bool) {
	// Old ids were either strings or numbers.
	id := strings.Trim(strings.TrimSpace(string(lm.ID)), `"`)
	if id == "" || id == "null" {
		return Message{}, false
	}
	msg := Message{
		ID:        id,
		Content:   lm.Content,
		Timestamp: fromMillis(lm.Timestamp),
	}
	if lm.Timestamp <= 0 {
		msg.Timestamp = time.Now().UTC()
	}
	if lm.IsIncoming {
		msg.Direction = DirectionIncoming
		msg.PeerAddress = lm.From
		msg.Status = StatusDelivered
	} else {
		msg.Direction = DirectionOutgoing
		msg.PeerAddress = lm.To
		switch lm.Status {
		case "failed":
			msg.Status = StatusFailed
			msg.ErrorKind = "generic"
			msg.ErrorDetail = lm.Error
		case "sending", "pending":
			msg.Status = StatusFailed
			msg.ErrorKind = LegacyInterruptedKind
			msg.ErrorDetail = "delivery was interrupted before completion"
		default:
			msg.Status = StatusSent
		}
	}
	if msg.PeerAddress == "" {
		return Message{}, false
	}
	if lm.TTL != nil && *lm.TTL > 0 {
		msg.SetTTL(time.Duration(*lm.TTL) * time.Millisecond)
	}
	return msg, true
}

func readLegacyContacts(path string) ([]legacyContact, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	// Stored as the entries of a map: [[address, {id, name, addedAt}], ...].
	var entries [][2]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	contacts := make([]legacyContact, 0, len(entries))
	for _, entry := range entries {
		var key string
		var c legacyContact
		if err := json.Unmarshal(entry[0], &key); err != nil {
			return nil, fmt.Errorf("parse %s: contact key: %w", path, err)
		}
		if err := json.Unmarshal(entry[1], &c); err != nil {
			return nil, fmt.Errorf("parse %s: contact %s: %w", path, key, err)
		}
		if c.ID == "" {
			c.ID = key
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}

func readLegacyMessages(path string) ([]legacyMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var messages []legacyMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return messages, nil
}
