// Package notifications pushes daemon events to an ntfy topic.
//
// NewService returns a no-op when no topic is configured, so callers publish
// unconditionally. Message content is only included in the push body when
// notifications.include_content is set; otherwise the notice names the sender
// and nothing else.
package notifications
