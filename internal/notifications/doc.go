// Package notifications delivers job lifecycle events via ntfy.
//
// NewService returns a no-op notifier when no topic is configured. Events are
// formatted into short titled messages; per-event toggles in config.toml
// decide which ones are actually sent. Workflow code depends only on the
// Service interface.
package notifications
