package preflight

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"

	"murmur/internal/config"
	"murmur/internal/deps"
	"murmur/internal/tor"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Tor checks are skipped when the supervisor is disabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckReceiverPorts(cfg.Relay),
	}
	if cfg.Tor.Enabled {
		results = append(results, CheckTorPorts(cfg.Tor))
	}
	return results
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckReceiverPorts passes when at least one port of the receiver range can
// be bound on loopback.
func CheckReceiverPorts(cfg config.Relay) Result {
	const name = "Receiver ports"
	ports := cfg.CandidatePorts()
	if len(ports) == 0 {
		return Result{Name: name, Detail: "no ports configured"}
	}
	busy := 0
	for _, port := range ports {
		if !canListen(port) {
			busy++
		}
	}
	span := fmt.Sprintf("%d-%d", ports[0], ports[len(ports)-1])
	if busy == len(ports) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: all %d ports in use)", span, busy)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d of %d free)", span, len(ports)-busy, len(ports))}
}

// CheckTorPorts reports whether the SOCKS and control ports are free. A busy
// port is not fatal: the supervisor adopts a healthy daemon or sweeps an
// orphaned one.
func CheckTorPorts(cfg config.Tor) Result {
	const name = "Tor ports"
	var busy []string
	if !canListen(cfg.SocksPort) {
		busy = append(busy, "socks "+strconv.Itoa(cfg.SocksPort))
	}
	if !canListen(cfg.ControlPort) {
		busy = append(busy, "control "+strconv.Itoa(cfg.ControlPort))
	}
	if len(busy) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("in use: %v (an existing tor will be adopted or cleared)", busy)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("socks %d, control %d free", cfg.SocksPort, cfg.ControlPort)}
}

// CheckSystemDeps evaluates the external binaries murmur uses. Both the
// daemon and the CLI status command use this to avoid duplicating the
// requirements list.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	sweep := "pkill"
	if runtime.GOOS == "windows" {
		sweep = "taskkill"
	}
	return deps.Check(
		deps.Requirement{
			Name:        "Tor",
			Command:     cfg.Tor.Binary,
			Description: "Required for onion routing and remote delivery",
			Optional:    !cfg.Tor.Enabled,
			Resolve:     tor.LocateExecutable,
		},
		deps.Requirement{
			Name:        "Process sweep",
			Command:     sweep,
			Description: "Clears orphaned tor processes holding the proxy ports",
			Optional:    true,
		},
	)
}

func canListen(port int) bool {
	if port <= 0 {
		return false
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
