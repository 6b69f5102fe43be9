package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"murmur/internal/api"
	"murmur/internal/ipc"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Murmur", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Murmur:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Murmur", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestStatusKindFromSeverity(t *testing.T) {
	cases := map[string]statusKind{
		"ok":      statusOK,
		" WARN ":  statusWarn,
		"warning": statusWarn,
		"error":   statusError,
		"info":    statusInfo,
		"":        statusInfo,
	}
	for severity, want := range cases {
		if got := statusKindFromSeverity(severity); got != want {
			t.Fatalf("statusKindFromSeverity(%q) = %v, want %v", severity, got, want)
		}
	}
}

func TestDependencyLines(t *testing.T) {
	deps := []ipc.DependencyStatus{
		{Name: "Tor", Available: false, Severity: "error"},
		{Name: "Process sweep", Available: true, Command: "pkill"},
		{Name: "Extra", Available: false, Optional: true, Severity: "warn", Detail: "not installed"},
	}
	summary := api.DependencySummary{Severity: "error", Detail: "1/3 available"}
	lines := dependencyLines(deps, summary, false)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "[ERROR]") || !strings.Contains(lines[0], "Summary") {
		t.Fatalf("expected summary line first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[ERROR] not available") {
		t.Fatalf("expected error detail in second line, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "[OK] Ready (command: pkill)") {
		t.Fatalf("expected ready detail in third line, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "[WARN] not installed") {
		t.Fatalf("expected warn detail in fourth line, got %q", lines[3])
	}
	if !strings.Contains(lines[4], "Tor, Extra") {
		t.Fatalf("expected missing dependencies summary, got %q", lines[4])
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}

func TestPrintEvent(t *testing.T) {
	var buf strings.Builder
	msg := api.Message{Peer: remotePeer, Content: "psst", Timestamp: "2026-01-01T12:00:00.000Z"}
	printEvent(&buf, api.Event{Type: "message_received", MessageID: "abcdef123456", Message: &msg}, map[string]string{remotePeer: "Carol"}, false)
	printEvent(&buf, api.Event{Type: "message_deleted", MessageID: "abcdef123456", Expired: true}, nil, false)
	out := buf.String()
	requireContains(t, out, "Carol: psst")
	requireContains(t, out, "message abcdef12 expired")
}

func TestBuildCircuitRows(t *testing.T) {
	rows := buildCircuitRows([]api.Circuit{{
		ID:     "4",
		Status: "BUILT",
		Nodes:  []api.CircuitNode{{Fingerprint: "AAAABBBBCCCC", Nickname: "guard"}, {Fingerprint: "DDDDEEEEFFFF"}},
	}})
	if len(rows) != 1 || rows[0][3] != "guard > DDDDEEEE" {
		t.Fatalf("unexpected rows %v", rows)
	}
}
