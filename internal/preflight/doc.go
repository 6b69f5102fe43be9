// Package preflight provides readiness checks for the filesystem paths,
// ports and external binaries murmur depends on.
//
// These checks run in two contexts:
//   - The daemon reports CheckSystemDeps in its status payload.
//   - The CLI "murmur status" command runs RunAll when no daemon is
//     reachable, so operators can see why a start might fail.
//
// Tor checks are gated by the tor.enabled toggle.
package preflight
