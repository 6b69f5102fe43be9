// Package logs provides file tailing helpers and the daemon event stream
// client shared by the CLI and daemon diagnostics.
//
// Tail streams log files with bounded memory usage, supports negative offsets
// for "tail last N lines" operations, filters JSON lines by field for
// `murmur logs --message`, and powers follow mode. EventClient consumes the
// daemon's server-sent event stream for `murmur watch`. Callers supply
// context deadlines so background polling shuts down cleanly when the CLI
// exits.
package logs
