package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Message describes a history entry in a transport-friendly format.
type Message struct {
	ID          string `json:"id"`
	Direction   string `json:"direction"`
	Peer        string `json:"peer"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	SentAt      string `json:"sentAt,omitempty"`
	TTLMillis   int64  `json:"ttlMs,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
	Status      string `json:"status"`
	Route       string `json:"route,omitempty"`
	ErrorKind   string `json:"errorKind,omitempty"`
	ErrorDetail string `json:"errorDetail,omitempty"`
	ResendOf    string `json:"resendOf,omitempty"`
}

// Contact describes an address book entry.
type Contact struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	AddedAt string `json:"addedAt,omitempty"`
}

// SendResult reports the outcome of a send attempt.
type SendResult struct {
	MessageID string `json:"messageId,omitempty"`
	Success   bool   `json:"success"`
	Route     string `json:"route,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SendRequest is the HTTP body for POST /api/messages.
type SendRequest struct {
	Peer      string `json:"peer"`
	Content   string `json:"content"`
	TTLMillis int64  `json:"ttlMs,omitempty"`
}

// ContactRequest is the HTTP body for contact creation and edits.
type ContactRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// TorStatus summarizes the supervised Tor daemon.
type TorStatus struct {
	Enabled           bool   `json:"enabled"`
	Running           bool   `json:"running"`
	ProxyPort         int    `json:"proxyPort"`
	ControlPort       int    `json:"controlPort"`
	ExecutablePath    string `json:"executablePath,omitempty"`
	PID               int    `json:"pid,omitempty"`
	BootstrapPercent  int    `json:"bootstrapPercent"`
	ExternallyManaged bool   `json:"externallyManaged,omitempty"`
}

// CircuitNode is one hop of a Tor circuit.
type CircuitNode struct {
	Fingerprint string `json:"fingerprint"`
	Nickname    string `json:"nickname,omitempty"`
}

// Circuit is a built Tor circuit.
type Circuit struct {
	ID      string        `json:"id"`
	Status  string        `json:"status"`
	Purpose string        `json:"purpose,omitempty"`
	Nodes   []CircuitNode `json:"nodes"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// DependencySummary aggregates dependency readiness for status output.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	StartedAt     string             `json:"startedAt,omitempty"`
	Address       string             `json:"address,omitempty"`
	ReceiverPort  int                `json:"receiverPort,omitempty"`
	APIAddress    string             `json:"apiAddress,omitempty"`
	DatabasePath  string             `json:"databasePath"`
	LockFilePath  string             `json:"lockFilePath"`
	MessageCounts map[string]int     `json:"messageCounts"`
	Tor           TorStatus          `json:"tor"`
	Dependencies  []DependencyStatus `json:"dependencies"`

	// Filled in by the CLI when rendering status.
	SystemChecks      []StatusLine      `json:"systemChecks,omitempty"`
	DependencySummary DependencySummary `json:"dependencySummary,omitzero"`
}

// StatusLine is one labelled row of the status report. Severity is one of
// ok, warn, error or info.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Event is a relay notification streamed to API clients.
type Event struct {
	Type      string   `json:"type"`
	MessageID string   `json:"messageId"`
	Expired   bool     `json:"expired,omitempty"`
	Message   *Message `json:"message,omitempty"`
}

// MessageListResponse wraps a collection of messages.
type MessageListResponse struct {
	Messages []Message `json:"messages"`
}

// ContactListResponse wraps a collection of contacts.
type ContactListResponse struct {
	Contacts []Contact `json:"contacts"`
}

// CircuitListResponse wraps the built circuits.
type CircuitListResponse struct {
	Circuits []Circuit `json:"circuits"`
}
