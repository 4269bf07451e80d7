package redact

import (
	"os"
	"strings"
)

// Mode determines whether redaction is applied.
type Mode string

const (
	ModeOn  Mode = "on"
	ModeOff Mode = "off"
)

// ResolveMode maps an override value to a Mode. "never" (or "off") turns
// redaction off; anything else, including "", leaves it on.
func ResolveMode(override string) Mode {
	switch strings.ToLower(strings.TrimSpace(override)) {
	case "never", "off", "false":
		return ModeOff
	default:
		return ModeOn
	}
}

// ModeFromEnv resolves DUALANE_REDACT.
func ModeFromEnv() Mode {
	return ResolveMode(os.Getenv("DUALANE_REDACT"))
}
