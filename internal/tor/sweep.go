package tor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

// Sweeper force-kills every process with the given executable name. The
// supervisor uses it to clear orphaned daemons holding its ports.
type Sweeper interface {
	Sweep(ctx context.Context, name string) error
}

// SweeperFunc adapts a function to the Sweeper interface.
type SweeperFunc func(ctx context.Context, name string) error

// Sweep calls f.
func (f SweeperFunc) Sweep(ctx context.Context, name string) error {
	return f(ctx, name)
}

type processSweeper struct{}

func (processSweeper) Sweep(ctx context.Context, name string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "taskkill", "/F", "/T", "/IM", name) //nolint:gosec
	} else {
		cmd = exec.CommandContext(ctx, "pkill", "-9", "-x", name) //nolint:gosec
	}
	if err := cmd.Run(); err != nil {
		// pkill exits 1 and taskkill 128 when nothing matched.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && (exitErr.ExitCode() == 1 || exitErr.ExitCode() == 128) {
			return nil
		}
		return fmt.Errorf("sweep %s processes: %w", name, err)
	}
	return nil
}
