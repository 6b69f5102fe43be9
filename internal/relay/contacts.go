package relay

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"

	"murmur/internal/logging"
	"murmur/internal/store"
)

// AddContact saves address under name. Re-adding an address renames it.
// An empty name falls back to the address itself.
func (r *Relay) AddContact(ctx context.Context, address, name string) (*store.Contact, error) {
	canonical := CanonicalAddress(address)
	if canonical == "" {
		return nil, errors.New("contact address is required")
	}
	contact, err := r.store.AddContact(ctx, canonical, displayName(name, canonical))
	if err != nil {
		return nil, err
	}
	r.logger.Info("contact saved",
		logging.String(logging.FieldEventType, "contact_saved"),
		logging.String(logging.FieldPeer, canonical),
	)
	return contact, nil
}

// EditContact renames an existing contact.
func (r *Relay) EditContact(ctx context.Context, address, name string) (*store.Contact, error) {
	canonical := CanonicalAddress(address)
	if canonical == "" {
		return nil, errors.New("contact address is required")
	}
	return r.store.EditContact(ctx, canonical, displayName(name, canonical))
}

// DeleteContact removes a contact. Its message history is kept.
func (r *Relay) DeleteContact(ctx context.Context, address string) error {
	canonical := CanonicalAddress(address)
	if canonical == "" {
		return errors.New("contact address is required")
	}
	if err := r.store.DeleteContact(ctx, canonical); err != nil {
		return err
	}
	r.logger.Info("contact deleted",
		logging.String(logging.FieldEventType, "contact_deleted"),
		logging.String(logging.FieldPeer, canonical),
	)
	return nil
}

// Contacts lists saved contacts.
func (r *Relay) Contacts(ctx context.Context) ([]store.Contact, error) {
	return r.store.ListContacts(ctx)
}

func displayName(name, fallback string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return fallback
	}
	return name
}
