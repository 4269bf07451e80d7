package controller

import (
	"errors"
	"fmt"
	"time"
)

// State is a workflow position.
type State int

const (
	Idle State = iota
	CodexRunning
	HandoffReady
	ClaudeRunning
	Complete
	Failed
)

var stateNames = [...]string{"idle", "codex_running", "handoff_ready", "claude_running", "complete", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FailureKind classifies a failed workflow.
type FailureKind string

const (
	PermissionDenied     FailureKind = "PermissionDenied"
	SignatureInvalid     FailureKind = "SignatureInvalid"
	GenerationFailure    FailureKind = "GenerationFailure"
	ConfigurationInvalid FailureKind = "ConfigurationInvalid"
	SerializationError   FailureKind = "SerializationError"
	InvalidState         FailureKind = "InvalidState"
)

// WorkflowError is returned for every failed transition. Elapsed is set
// for generation failures.
type WorkflowError struct {
	Kind    FailureKind
	Stage   State
	Reason  string
	Elapsed time.Duration
	Err     error
}

func (e *WorkflowError) Error() string {
	msg := fmt.Sprintf("%s during %s: %s", e.Kind, e.Stage, e.Reason)
	if e.Elapsed > 0 {
		msg += fmt.Sprintf(" (after %s)", e.Elapsed.Round(time.Millisecond))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// IsKind reports whether err is a WorkflowError of kind k.
func IsKind(err error, k FailureKind) bool {
	var we *WorkflowError
	return errors.As(err, &we) && we.Kind == k
}
