package daemon

import (
	"context"
	"errors"
	"time"

	"murmur/internal/logging"
	"murmur/internal/notifications"
	"murmur/internal/relay"
	"murmur/internal/store"
)

// ErrNotificationsDisabled reports a notification test without a topic.
var ErrNotificationsDisabled = errors.New("notifications are disabled (set notifications.ntfy_topic)")

const notifyTimeout = 15 * time.Second

// WithNotifier routes daemon events to svc.
func WithNotifier(svc notifications.Service) Option {
	return func(d *Daemon) {
		if svc != nil {
			d.notifier = svc
		}
	}
}

// TestNotification publishes a test notice and waits for the result.
func (d *Daemon) TestNotification(ctx context.Context) error {
	if !notifications.Enabled(d.notifier) {
		return ErrNotificationsDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	return d.notifier.Publish(ctx, notifications.EventTest, nil)
}

func (d *Daemon) handleRelayEvent(ctx context.Context, ev relay.Event) {
	if ev.Message == nil {
		return
	}
	msg := ev.Message
	switch {
	case ev.Type == relay.EventMessageReceived && msg.Direction == store.DirectionIncoming:
		d.publish(ctx, notifications.EventMessageReceived, notifications.Payload{
			"sender":  d.displayName(ctx, msg.PeerAddress),
			"content": msg.Content,
		})
	case ev.Type == relay.EventMessageUpdated && msg.Status == store.StatusFailed:
		d.publish(ctx, notifications.EventDeliveryFailed, notifications.Payload{
			"peer":  d.displayName(ctx, msg.PeerAddress),
			"error": msg.ErrorDetail,
		})
	}
}

func (d *Daemon) displayName(ctx context.Context, address string) string {
	contact, err := d.store.GetContact(ctx, address)
	if err != nil || contact.DisplayName == "" {
		return address
	}
	return contact.DisplayName
}

// publish sends in the background so relay callbacks never wait on ntfy.
func (d *Daemon) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if !notifications.Enabled(d.notifier) {
		return
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := d.notifier.Publish(sendCtx, event, payload); err != nil {
			logging.WarnWithContext(d.logger, "notification not delivered", "notification_failed",
				logging.String("notification", string(event)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "push notice skipped; the message itself is unaffected"),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			)
		}
	}()
}
