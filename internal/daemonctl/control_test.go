package daemonctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"murmur/internal/api"
	"murmur/internal/ipc"
	"murmur/internal/store"
	"murmur/internal/testsupport"
)

func TestBuildDependencySummary(t *testing.T) {
	tests := []struct {
		name     string
		deps     []ipc.DependencyStatus
		severity string
		detail   string
	}{
		{name: "none", severity: "info", detail: "No dependency checks configured"},
		{
			name:     "all available",
			deps:     []ipc.DependencyStatus{{Name: "Tor", Available: true}},
			severity: "ok",
			detail:   "1/1 available",
		},
		{
			name: "optional missing",
			deps: []ipc.DependencyStatus{
				{Name: "Tor", Available: true},
				{Name: "Process sweep", Optional: true},
			},
			severity: "warn",
			detail:   "1/2 available (missing: 0 required, 1 optional)",
		},
		{
			name:     "required missing",
			deps:     []ipc.DependencyStatus{{Name: "Tor"}, {Name: "Process sweep", Optional: true}},
			severity: "error",
			detail:   "0/2 available (missing: 1 required, 1 optional)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildDependencySummary(tt.deps)
			if got.Severity != tt.severity || got.Detail != tt.detail {
				t.Fatalf("summary = %+v, want %s %q", got, tt.severity, tt.detail)
			}
		})
	}
}

func TestBuildSystemChecksReflectsRuntime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Tor.Enabled = true
	cfg.API.Token = ""

	running := BuildSystemChecks(cfg, api.DaemonStatus{
		Running:      true,
		PID:          42,
		ReceiverPort: cfg.Relay.Port,
		Address:      "abc.onion",
		Tor:          api.TorStatus{Enabled: true, Running: true, ProxyPort: 9050, BootstrapPercent: 100},
	})
	want := map[string]string{
		"Murmur":   "ok",
		"Receiver": "ok",
		"Tor":      "ok",
		"Address":  "ok",
		"HTTP API": "warn",
	}
	assertSeverities(t, running, want)

	stopped := BuildSystemChecks(cfg, api.DaemonStatus{})
	assertSeverities(t, stopped, map[string]string{
		"Murmur":  "warn",
		"Tor":     "info",
		"Address": "info",
	})

	bootstrapping := BuildSystemChecks(cfg, api.DaemonStatus{
		Running: true,
		Tor:     api.TorStatus{Running: true, BootstrapPercent: 45},
	})
	assertSeverities(t, bootstrapping, map[string]string{"Tor": "warn", "Address": "warn"})
	for _, line := range bootstrapping {
		if line.Label == "Tor" && !strings.Contains(line.Detail, "45%") {
			t.Fatalf("expected bootstrap percent in detail, got %q", line.Detail)
		}
	}
}

func assertSeverities(t *testing.T, lines []api.StatusLine, want map[string]string) {
	t.Helper()
	got := make(map[string]string, len(lines))
	for _, line := range lines {
		got[line.Label] = line.Severity
	}
	for label, severity := range want {
		if got[label] != severity {
			t.Fatalf("%s severity = %q, want %q (lines %+v)", label, got[label], severity, lines)
		}
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	for i, status := range []store.Status{store.StatusSent, store.StatusSent, store.StatusFailed} {
		msg := &store.Message{
			ID:          "m" + strconv.Itoa(i),
			Direction:   store.DirectionOutgoing,
			PeerAddress: "peer.onion",
			Content:     "hi",
			Timestamp:   time.Now(),
			Status:      status,
		}
		if err := st.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	snapshot, err := BuildStatusSnapshot(ctx, cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snapshot.Running {
		t.Fatal("expected offline snapshot")
	}
	if snapshot.MessageCounts["sent"] != 2 || snapshot.MessageCounts["failed"] != 1 {
		t.Fatalf("unexpected counts %+v", snapshot.MessageCounts)
	}
	if snapshot.DatabasePath != cfg.Paths.DatabasePath {
		t.Fatalf("database path = %q", snapshot.DatabasePath)
	}
	if len(snapshot.SystemChecks) == 0 || snapshot.DependencySummary.Severity == "" {
		t.Fatalf("expected derived status lines, got %+v", snapshot.DaemonStatus)
	}
	for _, dep := range snapshot.Dependencies {
		if dep.Severity == "" {
			t.Fatalf("dependency %q missing severity", dep.Name)
		}
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := StopAndTerminate(cfg, 100*time.Millisecond); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	alive, pid, err := ProcessInfo(cfg.Paths.SocketPath)
	if err != nil || alive || pid != 0 {
		t.Fatalf("ProcessInfo = %v %d %v", alive, pid, err)
	}
	if err := WaitForShutdown(cfg.Paths.SocketPath, time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.pid")
	if pid, err := ReadPID(missing); err != nil || pid != 0 {
		t.Fatalf("missing pid file = %d %v", pid, err)
	}

	valid := filepath.Join(dir, "valid.pid")
	if err := os.WriteFile(valid, []byte("1234\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if pid, err := ReadPID(valid); err != nil || pid != 1234 {
		t.Fatalf("valid pid file = %d %v", pid, err)
	}

	corrupt := filepath.Join(dir, "corrupt.pid")
	if err := os.WriteFile(corrupt, []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPID(corrupt); err == nil {
		t.Fatal("expected error for corrupt pid file")
	}
}

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "murmur.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
	if _, err := ForceKillProcess(filepath.Join(dir, "none.pid"), "", 0); err == nil {
		t.Fatal("expected error when pid is unknown")
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := Launch("  ", LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable path")
	}
}
