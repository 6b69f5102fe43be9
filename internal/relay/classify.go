package relay

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

const propagationHint = "Hidden services can take 30-60 seconds to propagate through the Tor network; try again in a minute."

// SOCKS reply text produced by x/net/proxy for Tor's extended error codes
// (SocksPort ExtendedErrors).
var (
	socksNotFound = []string{"unknown code: 240", "unknown code: 241", "unknown code: 246", "host unreachable"}
	socksRefused  = []string{"connection refused", "unknown code: 242", "unknown code: 243"}
	socksTimeout  = []string{"TTL expired", "unknown code: 247"}
)

// Classify maps a delivery error to its kind and a human-readable detail.
// Kinds that may clear up once the peer's descriptor has propagated carry a
// hint saying so.
func Classify(err error) (ErrorKind, string) {
	if err == nil {
		return "", ""
	}
	msg := err.Error()
	switch {
	case errors.Is(err, ErrProxyUnavailable):
		return KindProxyUnavailable, "Tor proxy unavailable. Make sure Tor is running and fully bootstrapped."
	case isPeerRejection(err):
		var statusErr *PeerStatusError
		errors.As(err, &statusErr)
		detail := "The recipient rejected the message (" + statusErr.Status + ")"
		if statusErr.Body != "" {
			detail += ": " + statusErr.Body
		}
		return KindGeneric, detail
	case errors.Is(err, syscall.ECONNREFUSED) || containsAny(msg, socksRefused):
		return KindConnectionRefused, "Connection refused: the recipient may be offline. " + propagationHint
	case isTimeout(err) || containsAny(msg, socksTimeout):
		return KindTimedOut, "Connection timed out. " + propagationHint
	case isNotFound(err) || containsAny(msg, socksNotFound):
		return KindAddressNotFound, "Address not found: the onion address may be invalid or no longer published."
	default:
		return KindGeneric, strings.TrimSuffix(msg, ".") + ". " + propagationHint
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func containsAny(msg string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
