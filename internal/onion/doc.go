// Package onion provisions murmur's public onion address through the Tor
// control port.
//
// The Provider publishes the relay's local receiver as a detached hidden
// service, persists the opaque private key Tor hands back so the address
// survives restarts, and exposes a read-only view of the circuits Tor has
// built. Key material is never interpreted here.
package onion
