package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"murmur/internal/logging"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	day := 24 * time.Hour
	current := filepath.Join(dir, "murmur-current.log")
	newestOld := filepath.Join(dir, "murmur-b.log")
	oldest := filepath.Join(dir, "murmur-a.log")
	fresh := filepath.Join(dir, "murmur-fresh.log")
	other := filepath.Join(dir, "notes.txt")
	writeAged(t, current, 40*day)
	writeAged(t, newestOld, 10*day)
	writeAged(t, oldest, 20*day)
	writeAged(t, fresh, time.Hour)
	writeAged(t, other, 40*day)

	logging.CleanupOldLogs(logging.NewNop(), 7, logging.RetentionTarget{
		Dir:        dir,
		Pattern:    "murmur-*.log",
		Exclude:    []string{current},
		KeepNewest: 2,
	})

	for path, wantExists := range map[string]bool{
		current:   true,
		fresh:     true,
		newestOld: true,
		oldest:    false,
		other:     true,
	} {
		_, err := os.Stat(path)
		if exists := err == nil; exists != wantExists {
			t.Fatalf("%s exists=%v, want %v", filepath.Base(path), exists, wantExists)
		}
	}
}

func TestCleanupOldLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmur-old.log")
	writeAged(t, path, 400*24*time.Hour)
	logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir, Pattern: "murmur-*.log"})
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file removed with retention disabled: %v", err)
	}
}
