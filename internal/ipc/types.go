package ipc

import "murmur/internal/api"

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon and ends the process.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool   `json:"stopped"`
	Message string `json:"message,omitempty"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// DependencyStatus describes availability of an external dependency.
type DependencyStatus = api.DependencyStatus

// Message mirrors the HTTP API message DTO for IPC callers.
type Message = api.Message

// Contact mirrors the HTTP API contact DTO.
type Contact = api.Contact

// Circuit mirrors the HTTP API circuit DTO.
type Circuit = api.Circuit

// TorStatus mirrors the HTTP API Tor status DTO.
type TorStatus = api.TorStatus

// StatusResponse represents combined daemon, relay and Tor status.
type StatusResponse struct {
	api.DaemonStatus
}

// SendRequest asks the daemon to deliver a message.
type SendRequest struct {
	Peer      string `json:"peer"`
	Content   string `json:"content"`
	TTLMillis int64  `json:"ttl_ms"`
}

// ResendRequest asks the daemon to deliver an earlier message again.
type ResendRequest struct {
	ID string `json:"id"`
}

// SendResponse carries the delivery outcome.
type SendResponse struct {
	Result api.SendResult `json:"result"`
}

// MessagesRequest lists the history, optionally for one peer.
type MessagesRequest struct {
	Peer string `json:"peer"`
}

// MessagesResponse contains history entries, oldest first.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// DeleteMessageRequest removes one message.
type DeleteMessageRequest struct {
	ID string `json:"id"`
}

// DeleteMessageResponse reports whether a message was removed.
type DeleteMessageResponse struct {
	Deleted bool `json:"deleted"`
}

// ContactsRequest lists the address book.
type ContactsRequest struct{}

// ContactsResponse contains the address book.
type ContactsResponse struct {
	Contacts []Contact `json:"contacts"`
}

// ContactRequest adds, renames or deletes a contact. Name is ignored for
// deletes.
type ContactRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// ContactResponse returns the stored contact.
type ContactResponse struct {
	Contact Contact `json:"contact"`
}

// TorRequest starts, stops or inspects the supervised Tor daemon.
type TorRequest struct{}

// TorResponse carries the Tor snapshot after the operation.
type TorResponse struct {
	Tor TorStatus `json:"tor"`
}

// CircuitsRequest lists built circuits.
type CircuitsRequest struct{}

// CircuitsResponse contains built circuits.
type CircuitsResponse struct {
	Circuits []Circuit `json:"circuits"`
}

// ResetIdentityRequest discards the onion key.
type ResetIdentityRequest struct{}

// ResetIdentityResponse carries the new address, empty until Tor publishes it.
type ResetIdentityResponse struct {
	Address string `json:"address"`
}

// TestNotificationRequest asks the daemon to push a test notice.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the notice was accepted.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

// LogTailRequest fetches log lines from the daemon. A negative Offset returns
// the last Limit lines. MessageID and Peer filter JSON log lines by field.
type LogTailRequest struct {
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
	MessageID  string `json:"message_id,omitempty"`
	Peer       string `json:"peer,omitempty"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
