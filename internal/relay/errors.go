package relay

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProxyUnavailable reports that the Tor SOCKS proxy could not be used.
	ErrProxyUnavailable = errors.New("tor proxy unavailable")
	// ErrDeliveryTimeout reports that the peer did not answer in time.
	ErrDeliveryTimeout = errors.New("delivery timed out")
	// ErrAddressNotFound reports that the peer address could not be resolved.
	ErrAddressNotFound = errors.New("peer address not found")
	// ErrConnectionRefused reports that the peer refused the connection.
	ErrConnectionRefused = errors.New("peer refused connection")
	// ErrMalformedPayload reports an invalid inbound message body.
	ErrMalformedPayload = errors.New("malformed payload")
)

// ErrorKind is the user-facing category of a failed delivery.
type ErrorKind string

const (
	KindConnectionRefused ErrorKind = "connection_refused"
	KindTimedOut          ErrorKind = "timed_out"
	KindAddressNotFound   ErrorKind = "address_not_found"
	KindProxyUnavailable  ErrorKind = "proxy_unavailable"
	KindGeneric           ErrorKind = "generic"
	// KindInterrupted marks sends cut short by a previous shutdown or crash.
	KindInterrupted ErrorKind = "interrupted"
)

// Sentinel returns the package error matching the kind, or nil for kinds
// without one.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindConnectionRefused:
		return ErrConnectionRefused
	case KindTimedOut:
		return ErrDeliveryTimeout
	case KindAddressNotFound:
		return ErrAddressNotFound
	case KindProxyUnavailable:
		return ErrProxyUnavailable
	default:
		return nil
	}
}

// PeerStatusError is a non-2xx reply from a receiver.
type PeerStatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *PeerStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("peer responded %s", e.Status)
	}
	return fmt.Sprintf("peer responded %s: %s", e.Status, e.Body)
}

// Permanent reports whether sending the same body again cannot succeed.
func (e *PeerStatusError) Permanent() bool {
	switch e.Code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

func isPeerRejection(err error) bool {
	var statusErr *PeerStatusError
	return errors.As(err, &statusErr) && statusErr.Permanent()
}
