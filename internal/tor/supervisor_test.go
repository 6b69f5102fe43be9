package tor

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"murmur/internal/config"
	"murmur/internal/testsupport"
)

type recordingSweeper struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingSweeper) Sweep(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return nil
}

func (r *recordingSweeper) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tor scripts require a POSIX shell")
	}
}

const bootstrappingTor = `echo "Oct 18 10:00:00.000 [notice] Tor 0.4.8 opening log file."
echo "Oct 18 10:00:01.000 [notice] Bootstrapped 5% (conn): Connecting to a relay"
echo "Oct 18 10:00:02.000 [notice] Bootstrapped 50% (loading_descriptors): Loading relay descriptors" >&2
echo "Oct 18 10:00:03.000 [notice] Bootstrapped 100% (done): Done"
exec sleep 30`

func TestStartBootstrapsAndStop(t *testing.T) {
	skipOnWindows(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFakeTor(bootstrappingTor))
	sweeper := &recordingSweeper{}
	sup := New(cfg.Tor, WithSweeper(sweeper))

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := sup.Status()
	if !status.Running || status.PID == 0 {
		t.Fatalf("expected running status with pid, got %+v", status)
	}
	if status.BootstrapPercent != 100 {
		t.Fatalf("expected bootstrap 100, got %d", status.BootstrapPercent)
	}
	if status.ExternallyManaged {
		t.Fatal("spawned daemon must not be marked externally managed")
	}
	if !sup.Running() {
		t.Fatal("Running() should report true after bootstrap")
	}

	torrc, err := os.ReadFile(filepath.Join(cfg.Tor.DataDir, "torrc"))
	if err != nil {
		t.Fatalf("read torrc: %v", err)
	}
	for _, want := range []string{"SocksPort 127.0.0.1:", "ControlPort 127.0.0.1:", "CookieAuthentication 1", "Log notice stdout"} {
		if !strings.Contains(string(torrc), want) {
			t.Fatalf("torrc missing %q:\n%s", want, torrc)
		}
	}
	info, err := os.Stat(cfg.Tor.DataDir)
	if err != nil {
		t.Fatalf("stat data dir: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Fatalf("expected data dir mode 0700, got %o", perm)
	}

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("second Start should be a no-op: %v", err)
	}

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	status = sup.Status()
	if status.Running || status.PID != 0 {
		t.Fatalf("expected reset status after stop, got %+v", status)
	}
	if calls := sweeper.calls(); len(calls) != 1 || calls[0] != "tor" {
		t.Fatalf("graceful stop should sweep orphans once, got %v", calls)
	}
}

func TestStopWithoutProcessSweepsOrphans(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sweeper := &recordingSweeper{}
	sup := New(cfg.Tor, WithSweeper(sweeper))

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	calls := sweeper.calls()
	if len(calls) != 1 || calls[0] != binaryName() {
		t.Fatalf("expected one sweep for %s, got %v", binaryName(), calls)
	}
}

func TestConcurrentStartWaitsForBootstrap(t *testing.T) {
	skipOnWindows(t)
	spawns := filepath.Join(t.TempDir(), "spawns")
	cfg := testsupport.NewConfig(t, testsupport.WithFakeTor(`echo spawned >> `+spawns+`
echo "Bootstrapped 5% (conn): Connecting to a relay"
sleep 0.3
echo "Bootstrapped 100% (done): Done"
exec sleep 30`))
	sup := New(cfg.Tor, WithSweeper(&recordingSweeper{}))
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	first := make(chan error, 1)
	go func() { first <- sup.Start(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for sup.Status().PID == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first Start never spawned tor")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !sup.Running() {
		t.Fatal("second Start returned before bootstrap completed")
	}
	if err := <-first; err != nil {
		t.Fatalf("first Start: %v", err)
	}
	data, err := os.ReadFile(spawns)
	if err != nil {
		t.Fatalf("read spawn log: %v", err)
	}
	if n := strings.Count(string(data), "spawned"); n != 1 {
		t.Fatalf("tor spawned %d times, want 1", n)
	}
}

func TestStartReportsEarlyExit(t *testing.T) {
	skipOnWindows(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFakeTor(`echo "[err] Could not bind to 127.0.0.1" >&2
exit 1`))
	sup := New(cfg.Tor, WithSweeper(&recordingSweeper{}))

	err := sup.Start(context.Background())
	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
	if sup.Running() {
		t.Fatal("supervisor should not report running after exit")
	}
}

func TestStartBootstrapTimeoutKillsProcess(t *testing.T) {
	skipOnWindows(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFakeTor(`echo "Bootstrapped 10% (conn_done)"
exec sleep 30`))
	cfg.Tor.BootstrapAttempts = 5
	sup := New(cfg.Tor, WithSweeper(&recordingSweeper{}))

	err := sup.Start(context.Background())
	if !errors.Is(err, ErrBootstrapTimeout) {
		t.Fatalf("expected ErrBootstrapTimeout, got %v", err)
	}
	status := sup.Status()
	if status.Running || status.PID != 0 {
		t.Fatalf("expected process reaped after timeout, got %+v", status)
	}
}

func TestStartCancelledContext(t *testing.T) {
	skipOnWindows(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFakeTor(`exec sleep 30`))
	sup := New(cfg.Tor, WithSweeper(&recordingSweeper{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sup.Start(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if sup.Status().PID != 0 {
		t.Fatal("cancelled start should not leave a process behind")
	}
}

func TestStartAdoptsHealthyDaemon(t *testing.T) {
	skipOnWindows(t)
	marker := filepath.Join(t.TempDir(), "spawned")
	cfg := testsupport.NewConfig(t, testsupport.WithFakeTor("touch "+marker+"\nexec sleep 30"))
	serveSocks(t, cfg.Tor.SocksAddress())
	sweeper := &recordingSweeper{}
	sup := New(cfg.Tor, WithSweeper(sweeper))

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := sup.Status()
	if !status.Running || !status.ExternallyManaged {
		t.Fatalf("expected adopted daemon, got %+v", status)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("adopting a healthy daemon must not spawn a new process")
	}

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(sweeper.calls()) != 0 {
		t.Fatal("stopping an adopted daemon must not sweep processes")
	}
	if !probeSocks(context.Background(), cfg.Tor.SocksAddress(), time.Second) {
		t.Fatal("external daemon should still answer after Stop")
	}
}

func TestStartPortConflict(t *testing.T) {
	skipOnWindows(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFakeTor(bootstrappingTor))
	ln, err := net.Listen("tcp", cfg.Tor.SocksAddress())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	sweeper := &recordingSweeper{}
	sup := New(cfg.Tor, WithSweeper(sweeper))
	err = sup.Start(context.Background())
	if !errors.Is(err, ErrPortConflict) {
		t.Fatalf("expected ErrPortConflict, got %v", err)
	}
	calls := sweeper.calls()
	if len(calls) != 1 || calls[0] != "tor" {
		t.Fatalf("expected one sweep for tor, got %v", calls)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	skipOnWindows(t)
	cfg := testsupport.NewConfig(t, testsupport.WithFakeTor(`trap '' TERM
echo "Bootstrapped 100% (done): Done"
while true; do sleep 1; done`))
	cfg.Tor.StopGraceSeconds = 1
	sweeper := &recordingSweeper{}
	sup := New(cfg.Tor, WithSweeper(sweeper))

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sup.Running() {
		t.Fatal("expected daemon stopped after kill")
	}
	if calls := sweeper.calls(); len(calls) != 1 {
		t.Fatalf("expected sweep after force kill, got %v", calls)
	}
}

func TestLocateExecutableNotInstalled(t *testing.T) {
	origLook, origCommon, origExe := lookPath, commonPaths, executable
	t.Cleanup(func() { lookPath, commonPaths, executable = origLook, origCommon, origExe })
	lookPath = func(string) (string, error) { return "", errors.New("not in PATH") }
	commonPaths = func() []string { return []string{filepath.Join(t.TempDir(), "missing", "tor")} }
	executable = func() (string, error) { return filepath.Join(t.TempDir(), "murmur"), nil }

	if _, err := LocateExecutable(""); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
	if _, err := LocateExecutable(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled for missing configured path, got %v", err)
	}

	sup := New(config.Tor{DataDir: t.TempDir(), SocksPort: 1, ControlPort: 2})
	if err := sup.Start(context.Background()); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("expected Start to surface ErrNotInstalled, got %v", err)
	}
}

func TestLocateExecutablePrefersBundledCopy(t *testing.T) {
	skipOnWindows(t)
	origExe, origCommon := executable, commonPaths
	t.Cleanup(func() { executable, commonPaths = origExe, origCommon })

	dir := t.TempDir()
	bundled := testsupport.WriteExecutable(t, filepath.Join(dir, "tor", "tor"), "exit 0")
	executable = func() (string, error) { return filepath.Join(dir, "murmur"), nil }
	commonPaths = func() []string { return nil }

	got, err := LocateExecutable("")
	if err != nil {
		t.Fatalf("LocateExecutable: %v", err)
	}
	if got != bundled {
		t.Fatalf("expected bundled %s, got %s", bundled, got)
	}
}

func TestParseBootstrap(t *testing.T) {
	cases := []struct {
		line    string
		percent int
		ok      bool
	}{
		{"Oct 18 10:00:00.000 [notice] Bootstrapped 0% (starting): Starting", 0, true},
		{"[notice] Bootstrapped 45% (requesting_descriptors)", 45, true},
		{"Bootstrapped 100% (done): Done", 100, true},
		{"[notice] Opening Socks listener on 127.0.0.1:9050", 0, false},
		{"Bootstrapped 250%", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseBootstrap(tc.line)
		if ok != tc.ok || got != tc.percent {
			t.Errorf("parseBootstrap(%q) = %d,%v want %d,%v", tc.line, got, ok, tc.percent, tc.ok)
		}
	}
}

func TestProbeControlAcceptsProtocolInfo(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte("250-PROTOCOLINFO 1\r\n250 OK\r\n"))
	}()
	if !probeControl(context.Background(), ln.Addr().String(), time.Second) {
		t.Fatal("expected control probe to succeed")
	}
}

// serveSocks answers SOCKS5 method negotiation with "no auth".
func serveSocks(t *testing.T, addr string) {
	t.Helper()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen socks: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 3)
				if _, err := c.Read(buf); err != nil {
					return
				}
				_, _ = c.Write([]byte{0x05, 0x00})
			}(conn)
		}
	}()
}
