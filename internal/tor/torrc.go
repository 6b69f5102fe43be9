package tor

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"murmur/internal/config"
)

const (
	torrcName  = "torrc"
	cookieName = "control_auth_cookie"
)

var bootstrapPattern = regexp.MustCompile(`Bootstrapped (\d+)%`)

// parseBootstrap extracts the percentage from a Tor bootstrap log line.
func parseBootstrap(line string) (int, bool) {
	match := bootstrapPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	percent, err := strconv.Atoi(match[1])
	if err != nil || percent < 0 || percent > 100 {
		return 0, false
	}
	return percent, true
}

func renderTorrc(cfg config.Tor) string {
	dataDir := filepath.ToSlash(cfg.DataDir)
	lines := []string{
		fmt.Sprintf("SocksPort 127.0.0.1:%d ExtendedErrors", cfg.SocksPort),
		fmt.Sprintf("ControlPort 127.0.0.1:%d", cfg.ControlPort),
		fmt.Sprintf("DataDirectory %q", dataDir),
		"CookieAuthentication 1",
		fmt.Sprintf("CookieAuthFile %q", dataDir+"/"+cookieName),
		"Log notice stdout",
		"",
	}
	return strings.Join(lines, "\n")
}

func writeTorrc(cfg config.Tor) (string, error) {
	path := filepath.Join(cfg.DataDir, torrcName)
	if err := os.WriteFile(path, []byte(renderTorrc(cfg)), 0o600); err != nil {
		return "", fmt.Errorf("write torrc: %w", err)
	}
	return path, nil
}

// CookiePath returns where Tor writes the control-port authentication cookie.
func CookiePath(cfg config.Tor) string {
	return filepath.Join(cfg.DataDir, cookieName)
}
