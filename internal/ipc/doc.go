// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Message,
// contact and Tor payloads reuse the api package types so the socket and the
// HTTP API describe records the same way.
package ipc
