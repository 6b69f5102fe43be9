// Package store persists contacts and message history in an embedded SQLite
// database.
//
// Every mutation is a single statement against the database, so history
// growth costs one row per message instead of a full document rewrite. The
// store serializes writers through SQLite and retries briefly when the
// database is busy, which lets the daemon and short-lived CLI commands share
// one file.
package store
