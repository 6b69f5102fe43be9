package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	tailPollInterval = 250 * time.Millisecond
	maxLineBytes     = 1 << 20
)

// TailOptions controls a Tail call. A negative Offset returns the last Limit
// lines; Keep, when set, drops lines it returns false for.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Keep   func(line string) bool
}

// TailResult holds the lines read and the offset to resume from. The offset
// never moves past an unterminated final line.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from path. In follow mode with no new lines it polls for
// up to opts.Wait before returning. An offset beyond the end of the file
// means the log was truncated or replaced, and reading restarts at zero.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	t := tailer{path: path, keep: opts.Keep}
	if t.keep == nil {
		t.keep = func(string) bool { return true }
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	var result TailResult
	if opts.Offset < 0 {
		result, err = t.last(opts.Limit)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			offset = 0
		}
		result, err = t.from(offset)
	}
	if err != nil || !opts.Follow || opts.Wait <= 0 || len(result.Lines) > 0 {
		return result, err
	}
	return t.wait(ctx, result.Offset, opts.Wait)
}

type tailer struct {
	path string
	keep func(string) bool
}

// scan calls fn for every complete line after offset and returns the offset
// just past the last one.
func (t tailer) scan(offset int64, fn func(string)) (int64, error) {
	file, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			return offset, nil
		}
		if err != nil {
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		if len(line) > maxLineBytes {
			continue
		}
		line = strings.TrimRight(line, "\r\n")
		if t.keep(line) {
			fn(line)
		}
	}
}

func (t tailer) last(limit int) (TailResult, error) {
	if limit <= 0 {
		offset, err := t.scan(0, func(string) {})
		return TailResult{Offset: offset}, err
	}
	ring := make([]string, 0, limit)
	start := 0
	offset, err := t.scan(0, func(line string) {
		if len(ring) < limit {
			ring = append(ring, line)
			return
		}
		ring[start] = line
		start = (start + 1) % limit
	})
	if err != nil {
		return TailResult{}, err
	}
	lines := append(ring[start:len(ring):len(ring)], ring[:start]...)
	return TailResult{Lines: lines, Offset: offset}, nil
}

func (t tailer) from(offset int64) (TailResult, error) {
	var lines []string
	next, err := t.scan(offset, func(line string) { lines = append(lines, line) })
	if err != nil {
		return TailResult{Offset: offset}, err
	}
	return TailResult{Lines: lines, Offset: next}, nil
}

func (t tailer) wait(ctx context.Context, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(tailPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-ticker.C:
		}
		result, err := t.from(offset)
		if err != nil || len(result.Lines) > 0 || time.Now().After(deadline) {
			return result, err
		}
		offset = result.Offset
	}
}
