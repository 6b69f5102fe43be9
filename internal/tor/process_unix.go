//go:build !windows

package tor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(proc *os.Process) error {
	return signalGroup(proc, unix.SIGTERM)
}

func killProcess(proc *os.Process) error {
	return signalGroup(proc, unix.SIGKILL)
}

// signalGroup signals the whole process group when proc leads one, so
// helpers spawned by the daemon go down with it.
func signalGroup(proc *os.Process, sig unix.Signal) error {
	target := proc.Pid
	if pgid, err := unix.Getpgid(proc.Pid); err == nil && pgid == proc.Pid {
		target = -pgid
	}
	err := unix.Kill(target, sig)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
