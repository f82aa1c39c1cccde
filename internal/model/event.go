package model

// EventType classifies a progress event delivered to subscribers.
type EventType string

const (
	EventConnected EventType = "connected"
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"

	// EventHeartbeat is a liveness aid for long-lived transports; it carries
	// no pipeline state and is not part of the ordered progress contract.
	EventHeartbeat EventType = "heartbeat"
)

// ProgressEvent is a single ordered status update for one document.
// Immutable once emitted. Within one job's event sequence Percentage is
// non-decreasing and the sequence ends in exactly one complete or error.
type ProgressEvent struct {
	DocumentID  string            `json:"document_id"`
	Type        EventType         `json:"type"`
	Step        string            `json:"step,omitempty"`
	Percentage  int               `json:"percentage,omitempty"`
	Result      *ExtractionResult `json:"result,omitempty"`
	ErrorDetail *ErrorDetail      `json:"error_detail,omitempty"`
}

// Terminal reports whether the event closes the document's stream.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// ErrorDetail carries diagnostic context on a terminal error event.
type ErrorDetail struct {
	Message     string `json:"message"`
	Step        string `json:"step,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}
