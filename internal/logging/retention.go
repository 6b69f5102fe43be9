package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// RetentionTarget selects files to prune: regular files in Dir whose names
// match Pattern. Exclude lists paths that are never removed, and the
// KeepNewest most recent matches survive regardless of age.
type RetentionTarget struct {
	Dir        string
	Pattern    string
	Exclude    []string
	KeepNewest int
}

type retentionCandidate struct {
	path    string
	modTime time.Time
}

// CleanupOldLogs removes files matched by targets that are older than
// retentionDays. A retentionDays value of 0 disables pruning.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) {
	if retentionDays <= 0 {
		return
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, target := range targets {
		for _, path := range target.expired(cutoff) {
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check file permissions and paths.log_dir ownership"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			logger.Info("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
}

// expired lists prunable files, newest first, after the keep floor.
func (t RetentionTarget) expired(cutoff time.Time) []string {
	dir := strings.TrimSpace(t.Dir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	excluded := make(map[string]bool, len(t.Exclude))
	for _, path := range t.Exclude {
		if abs := absPath(path); abs != "" {
			excluded[abs] = true
		}
	}
	pattern := strings.TrimSpace(t.Pattern)

	var candidates []retentionCandidate
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if pattern != "" {
			if ok, err := filepath.Match(pattern, entry.Name()); err != nil || !ok {
				continue
			}
		}
		path := absPath(filepath.Join(dir, entry.Name()))
		if excluded[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, retentionCandidate{path: path, modTime: info.ModTime()})
	}
	slices.SortFunc(candidates, func(a, b retentionCandidate) int {
		return b.modTime.Compare(a.modTime)
	})

	var out []string
	for i, c := range candidates {
		if i < t.KeepNewest || !c.modTime.Before(cutoff) {
			continue
		}
		out = append(out, c.path)
	}
	return out
}

func absPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
