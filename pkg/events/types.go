// Package events defines the invocation events emitted by operation clients
// and the publishers that deliver them.
package events

// Invocation outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeHTTPError = "http_error"
	OutcomeError     = "error"
)

// InvocationEvent is emitted after an operation invocation reaches the
// network, whether it succeeded or not.
type InvocationEvent struct {
	RequestID  string `json:"requestId"`
	Catalog    string `json:"catalog"`
	Operation  string `json:"operation"`
	URL        string `json:"url"`
	Outcome    string `json:"outcome"`
	Status     int    `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
	Files      int    `json:"files"`
	Strict     bool   `json:"strict"`
	DurationMs int64  `json:"durationMs"`
	Timestamp  string `json:"timestamp"`
}
