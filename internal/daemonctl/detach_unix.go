//go:build !windows

package daemonctl

import "syscall"

// detachAttr starts the daemon in its own session so it outlives the CLI.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
