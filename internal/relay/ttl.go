package relay

import (
	"context"
	"fmt"

	"murmur/internal/logging"
	"murmur/internal/store"
)

// armTTL schedules deletion at msg.ExpiresAt. TTL counts from creation, so
// a timer re-armed after a restart only waits for the remainder.
func (r *Relay) armTTL(msg *store.Message) {
	if msg == nil || msg.ExpiresAt == nil {
		return
	}
	wait := msg.ExpiresAt.Sub(r.clock.Now())
	if wait < 0 {
		wait = 0
	}
	id := msg.ID

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.timers[id]; ok {
		existing.Stop()
	}
	r.timers[id] = r.clock.AfterFunc(wait, func() { r.expire(id) })
}

func (r *Relay) cancelTTL(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.timers[id]; ok {
		timer.Stop()
		delete(r.timers, id)
	}
}

func (r *Relay) expire(id string) {
	r.mu.Lock()
	delete(r.timers, id)
	r.mu.Unlock()

	if _, err := r.deleteMessage(context.Background(), id, true); err != nil {
		logging.WarnWithContext(r.logger, "failed to delete expired message", "ttl_delete_failed",
			logging.String(logging.FieldMessageID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the message stays in history until the next start"),
		)
	}
}

// rearmTTLs deletes messages that expired while the relay was down and
// schedules the rest.
func (r *Relay) rearmTTLs(ctx context.Context) error {
	purged, err := r.store.PurgeExpired(ctx, r.clock.Now())
	if err != nil {
		return fmt.Errorf("purge expired messages: %w", err)
	}
	for _, id := range purged {
		r.metrics.MessageExpired()
		r.events.publish(Event{Type: EventMessageDeleted, MessageID: id, Expired: true})
	}

	pending, err := r.store.ExpiringMessages(ctx)
	if err != nil {
		return fmt.Errorf("load expiring messages: %w", err)
	}
	for i := range pending {
		r.armTTL(&pending[i])
	}
	if len(purged) > 0 || len(pending) > 0 {
		r.logger.Info("ttl timers restored",
			logging.String(logging.FieldEventType, "ttl_restored"),
			logging.Int("purged", len(purged)),
			logging.Int("armed", len(pending)),
		)
	}
	return nil
}
