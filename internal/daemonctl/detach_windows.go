//go:build windows

package daemonctl

import "syscall"

func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{HideWindow: true}
}
