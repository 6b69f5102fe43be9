package relay

import (
	"net"
	"strings"
)

// CleanAddress strips the scheme, a trailing /message path, trailing slashes
// and the .onion suffix, leaving the bare service id or host:port.
func CleanAddress(addr string) string {
	cleaned := strings.TrimSpace(addr)
	lower := strings.ToLower(cleaned)
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(lower, scheme) {
			cleaned = cleaned[len(scheme):]
			break
		}
	}
	cleaned = strings.TrimRight(cleaned, "/")
	cleaned = strings.TrimSuffix(cleaned, "/message")
	cleaned = strings.TrimRight(cleaned, "/")
	return strings.TrimSuffix(cleaned, ".onion")
}

// CanonicalAddress is the form addresses are stored and compared in: onion
// addresses lowercased with their .onion suffix, host:port pairs verbatim.
func CanonicalAddress(addr string) string {
	cleaned := CleanAddress(addr)
	if cleaned == "" {
		return ""
	}
	if isHostPort(cleaned) {
		return cleaned
	}
	return strings.ToLower(cleaned) + ".onion"
}

// messageURL is the receiver URL for a peer address.
func messageURL(addr string) string {
	cleaned := CleanAddress(addr)
	if isHostPort(cleaned) {
		return "http://" + cleaned + "/message"
	}
	return "http://" + strings.ToLower(cleaned) + ".onion/message"
}

func isHostPort(addr string) bool {
	_, _, err := net.SplitHostPort(addr)
	return err == nil
}

// isLoopback reports whether addr is a host:port on this machine.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(CleanAddress(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
