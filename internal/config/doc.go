// Package config loads, normalizes, and validates murmur configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, and honours the MURMUR_API_TOKEN environment fallback. The
// Config type centralizes every knob the daemon, the Tor supervisor, and the
// message relay need so they can be wired in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
