package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddContact inserts a contact or, when the address already exists, updates
// its display name. AddedAt is preserved across re-adds.
func (s *Store) AddContact(ctx context.Context, address, name string) (*Contact, error) {
	now := toMillis(time.Now())
	_, err := s.exec(ctx,
		`INSERT INTO contacts (address, display_name, added_at) VALUES (?, ?, ?)
         ON CONFLICT(address) DO UPDATE SET display_name = excluded.display_name`,
		address, name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert contact: %w", err)
	}
	return s.GetContact(ctx, address)
}

// EditContact changes only the display name of an existing contact.
func (s *Store) EditContact(ctx context.Context, address, name string) (*Contact, error) {
	res, err := s.exec(ctx, `UPDATE contacts SET display_name = ? WHERE address = ?`, name, address)
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("contact %s: %w", address, ErrNotFound)
	}
	return s.GetContact(ctx, address)
}

// DeleteContact removes a contact. Message history for the address is kept.
func (s *Store) DeleteContact(ctx context.Context, address string) error {
	res, err := s.exec(ctx, `DELETE FROM contacts WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("contact %s: %w", address, ErrNotFound)
	}
	return nil
}

// GetContact returns the contact for address or ErrNotFound.
func (s *Store) GetContact(ctx context.Context, address string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT address, display_name, added_at FROM contacts WHERE address = ?`, address)
	contact, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return contact, nil
}

// ListContacts returns all contacts in the order they were first added.
func (s *Store) ListContacts(ctx context.Context) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, display_name, added_at FROM contacts ORDER BY added_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	contacts := []Contact{}
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *contact)
	}
	return contacts, rows.Err()
}

func scanContact(scanner interface{ Scan(dest ...any) error }) (*Contact, error) {
	var (
		contact Contact
		addedAt int64
	)
	if err := scanner.Scan(&contact.Address, &contact.DisplayName, &addedAt); err != nil {
		return nil, err
	}
	contact.AddedAt = fromMillis(addedAt)
	return &contact, nil
}
