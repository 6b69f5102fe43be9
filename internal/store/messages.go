package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const messageColumns = "id, direction, peer_address, content, created_at, ttl_ms, expires_at, status, route, error_kind, error_detail, resend_of, sent_at"

// InsertMessage persists msg. IDs are unique; reusing one is an error.
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	if msg == nil || msg.ID == "" {
		return errors.New("insert message: id is required")
	}
	var ttl, expires, sentAt sql.NullInt64
	if msg.SentAt != nil {
		sentAt = sql.NullInt64{Int64: toMillis(*msg.SentAt), Valid: true}
	}
	if msg.TTL != nil {
		ttl = sql.NullInt64{Int64: msg.TTL.Milliseconds(), Valid: true}
	}
	if msg.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: toMillis(*msg.ExpiresAt), Valid: true}
	}
	_, err := s.exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.Direction,
		msg.PeerAddress,
		msg.Content,
		toMillis(msg.Timestamp),
		ttl,
		expires,
		msg.Status,
		nullableString(msg.Route),
		nullableString(msg.ErrorKind),
		nullableString(msg.ErrorDetail),
		nullableString(msg.ResendOf),
		sentAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage returns the message with id or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns history in insertion order. A non-empty peer limits
// the result to messages exchanged with that address.
func (s *Store) ListMessages(ctx context.Context, peer string) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages`
	var args []any
	if peer != "" {
		query += ` WHERE peer_address = ?`
		args = append(args, peer)
	}
	query += ` ORDER BY seq`
	return s.queryMessages(ctx, query, args...)
}

// UpdateOutcome moves a pending message to its final state. It returns
// ErrNotFound when the message is gone (for example deleted by its TTL while
// delivery was in flight) and an error when the message is not pending.
func (s *Store) UpdateOutcome(ctx context.Context, id string, outcome Outcome) error {
	res, err := s.exec(ctx,
		`UPDATE messages SET status = ?, route = ?, error_kind = ?, error_detail = ?
         WHERE id = ? AND status = ?`,
		outcome.Status,
		nullableString(outcome.Route),
		nullableString(outcome.ErrorKind),
		nullableString(outcome.ErrorDetail),
		id,
		StatusPending,
	)
	if err != nil {
		return fmt.Errorf("update message outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	current, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("message %s is %s, not pending", id, current.Status)
}

// DeleteMessage removes a message and reports whether it existed.
func (s *Store) DeleteMessage(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ExpiringMessages returns every message that carries an expiry, soonest first.
func (s *Store) ExpiringMessages(ctx context.Context) ([]Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE expires_at IS NOT NULL ORDER BY expires_at`)
}

// PurgeExpired deletes messages whose expiry is at or before now and returns
// their ids.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := toMillis(now)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM messages WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY seq`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expired messages: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.exec(ctx, `DELETE FROM messages WHERE expires_at IS NOT NULL AND expires_at <= ?`, cutoff); err != nil {
		return nil, fmt.Errorf("purge expired messages: %w", err)
	}
	return ids, nil
}

// FailInterrupted marks messages left pending by a previous process as failed
// and returns how many were changed.
func (s *Store) FailInterrupted(ctx context.Context, kind, detail string) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE messages SET status = ?, error_kind = ?, error_detail = ? WHERE status = ?`,
		StatusFailed, kind, detail, StatusPending,
	)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted messages: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns message counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func scanMessage(scanner interface{ Scan(dest ...any) error }) (*Message, error) {
	var (
		msg         Message
		createdAt   int64
		ttl         sql.NullInt64
		expires     sql.NullInt64
		route       sql.NullString
		errorKind   sql.NullString
		errorDetail sql.NullString
		resendOf    sql.NullString
		sentAt      sql.NullInt64
	)
	if err := scanner.Scan(
		&msg.ID,
		&msg.Direction,
		&msg.PeerAddress,
		&msg.Content,
		&createdAt,
		&ttl,
		&expires,
		&msg.Status,
		&route,
		&errorKind,
		&errorDetail,
		&resendOf,
		&sentAt,
	); err != nil {
		return nil, err
	}
	msg.Timestamp = fromMillis(createdAt)
	if ttl.Valid {
		d := time.Duration(ttl.Int64) * time.Millisecond
		msg.TTL = &d
	}
	if expires.Valid {
		t := fromMillis(expires.Int64)
		msg.ExpiresAt = &t
	}
	msg.Route = route.String
	msg.ErrorKind = errorKind.String
	msg.ErrorDetail = errorDetail.String
	msg.ResendOf = resendOf.String
	if sentAt.Valid {
		t := fromMillis(sentAt.Int64)
		msg.SentAt = &t
	}
	return &msg, nil
}
