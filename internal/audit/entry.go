package audit

import "time"

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Event classifies an audit entry.
type Event string

const (
	EventValidation     Event = "VALIDATION"
	EventResponseScan   Event = "RESPONSE_SCAN"
	EventContextVerify  Event = "CONTEXT_VERIFY"
	EventArtifactVerify Event = "ARTIFACT_VERIFY"
	EventModeSwitch     Event = "MODE_SWITCH"
	EventHandoff        Event = "HANDOFF"
	EventHandoffVerify  Event = "HANDOFF_VERIFY"
	EventBypass         Event = "BYPASS"
	EventBypassUsed     Event = "BYPASS_USED"
	EventFailure        Event = "FAILURE"
	EventComplete       Event = "COMPLETE"
)

// Entry is one validation or controller event. Entries are append-only.
// All fields are plain values (no map[string]any) so json.Marshal field
// order is deterministic and chain hashes are reproducible.
type Entry struct {
	Timestamp  string `json:"timestamp"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Event      Event  `json:"event"`
	Lane       string `json:"lane"`
	Operation  string `json:"operation"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason"`
	PrevHash   string `json:"prev_hash,omitempty"`
}

// Now returns the current UTC time formatted for audit entries.
func Now() string {
	return time.Now().UTC().Format(TimestampFormat)
}
