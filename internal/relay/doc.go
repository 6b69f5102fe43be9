// Package relay implements murmur's store-and-forward message relay.
//
// A Relay binds a loopback HTTP receiver (POST /message) that the onion
// service forwards to, persists every message before any network I/O, and
// delivers outgoing messages by the cheapest route available: a direct call
// when sending to itself, an opt-in probe of sibling receivers on the same
// host, a direct POST to loopback peers, or an HTTP POST through Tor's SOCKS
// proxy with bounded retries. Messages may carry a TTL after which they are
// deleted from the store and every subscriber is told.
//
// Delivery failures are reported as a Result rather than an error so one bad
// peer never aborts unrelated work.
package relay
