// Package tor supervises the local Tor daemon that carries murmur's
// anonymous traffic.
//
// The Supervisor locates the executable, writes a torrc into a private data
// directory, spawns the process in its own process group, and tracks the
// "Bootstrapped N%" lines Tor prints until the network is usable. When the
// SOCKS port is already bound it first checks whether a healthy daemon is
// answering there and adopts it instead of starting another one; orphans that
// do not answer are swept before retrying.
package tor
