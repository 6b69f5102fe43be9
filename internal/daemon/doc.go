// Package daemon coordinates the long-running murmur process.
//
// It wires the message relay, the Tor supervisor and the onion identity
// provider into a single lifecycle with flock-based locking to prevent
// multiple instances. The receiver binds synchronously during Start; Tor
// bootstrap and onion service publication run in the background so local
// delivery works while the network comes up.
//
// The daemon also serves the optional localhost HTTP API (status, messages,
// contacts, Tor control and a server-sent event stream) behind a bearer
// token. Delivery logic lives in the relay package; keep this package to
// startup, shutdown and high level coordination.
package daemon
