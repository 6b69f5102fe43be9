// Package logging assembles structured slog loggers and formatting helpers used
// across murmur services.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so relay and supervisor code can tag log
// lines with message IDs, peers, and correlation IDs. The package also provides
// a no-op logger for tests and wiring code that cannot fail.
package logging
