// Package api defines wire-format types and converters shared by the IPC and
// HTTP API layers. It translates store records, relay results and Tor status
// into transport-friendly DTOs so the CLI and local front ends can render them
// without importing internal packages.
//
// # Key Types
//
// Message: one history entry with delivery status and optional expiry.
//
// Contact: address book entry.
//
// SendResult: outcome of a send or resend, including the error kind.
//
// DaemonStatus: runtime information for the daemon, relay and Tor.
//
// StatusLine: a labelled severity line rendered by `murmur status`.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds and
// TTLs are reported in milliseconds, matching the peer wire format.
package api
