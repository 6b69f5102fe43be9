package tor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"murmur/internal/config"
)

var (
	lookPath    = exec.LookPath
	executable  = os.Executable
	commonPaths = platformPaths
)

// LocateExecutable resolves the Tor binary. An explicitly configured path is
// authoritative; otherwise the copy bundled next to the murmur executable,
// well-known install locations and finally PATH are tried in that order.
func LocateExecutable(configured string) (string, error) {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		path, err := config.ExpandPath(trimmed)
		if err != nil {
			return "", err
		}
		if isExecutableFile(path) {
			return path, nil
		}
		return "", fmt.Errorf("%w: configured binary %q", ErrNotInstalled, path)
	}

	name := binaryName()
	if self, err := executable(); err == nil {
		bundled := filepath.Join(filepath.Dir(self), "tor", name)
		if isExecutableFile(bundled) {
			return bundled, nil
		}
	}
	for _, candidate := range commonPaths() {
		if isExecutableFile(candidate) {
			return candidate, nil
		}
	}
	if path, err := lookPath(name); err == nil {
		return path, nil
	}
	return "", ErrNotInstalled
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "tor.exe"
	}
	return "tor"
}

func platformPaths() []string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return []string{
			"/opt/homebrew/bin/tor",
			"/usr/local/bin/tor",
			"/Applications/Tor Browser.app/Contents/MacOS/Tor/tor",
			filepath.Join(home, "Applications", "Tor Browser.app", "Contents", "MacOS", "Tor", "tor"),
		}
	case "windows":
		programFiles := envOr("ProgramFiles", `C:\Program Files`)
		programFilesX86 := envOr("ProgramFiles(x86)", `C:\Program Files (x86)`)
		browser := filepath.Join("Tor Browser", "Browser", "TorBrowser", "Tor", "tor.exe")
		return []string{
			filepath.Join(home, "Desktop", browser),
			filepath.Join(home, "Downloads", "tor-browser", "Browser", "TorBrowser", "Tor", "tor.exe"),
			filepath.Join(os.Getenv("LOCALAPPDATA"), browser),
			filepath.Join(programFiles, browser),
			filepath.Join(programFilesX86, browser),
			filepath.Join(os.Getenv("APPDATA"), browser),
			filepath.Join(programFiles, "Tor", "tor.exe"),
			filepath.Join(programFilesX86, "Tor", "tor.exe"),
			filepath.Join(os.Getenv("APPDATA"), "Tor", "tor.exe"),
		}
	default:
		return []string{
			"/usr/bin/tor",
			"/usr/sbin/tor",
			"/usr/local/bin/tor",
			"/snap/bin/tor",
			filepath.Join(home, "tor-browser", "Browser", "TorBrowser", "Tor", "tor"),
		}
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func isExecutableFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
