//go:build windows

package tor

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func terminateProcess(proc *os.Process) error {
	return proc.Kill()
}

func killProcess(proc *os.Process) error {
	return proc.Kill()
}
