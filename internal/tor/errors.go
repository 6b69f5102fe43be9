package tor

import "errors"

var (
	// ErrNotInstalled reports that no Tor executable could be found.
	ErrNotInstalled = errors.New("tor executable not found")
	// ErrBootstrapTimeout reports that Tor never reached 100% bootstrap.
	ErrBootstrapTimeout = errors.New("tor bootstrap timed out")
	// ErrPortConflict reports that the SOCKS port stayed bound by something
	// that is not a working Tor daemon.
	ErrPortConflict = errors.New("tor socks port in use by another process")
	// ErrProcessExited reports that the daemon exited before it was ready.
	ErrProcessExited = errors.New("tor exited before bootstrap completed")
)
