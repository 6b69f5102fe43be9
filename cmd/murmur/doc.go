// Package main hosts the murmur CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the daemon: lifecycle control, sending and listing messages, the
// address book, Tor management, log tailing and the live event feed. Config
// resolution and socket discovery live in commandContext so subcommands only
// deal with presentation.
package main
