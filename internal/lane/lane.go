// Package lane defines the two execution lanes, their permission tables
// and the pattern matcher that decides whether an operation is allowed.
package lane

import "fmt"

// Lane is one of the two fixed trust domains.
type Lane string

const (
	// ReadOnly proposes patches and may never mutate anything.
	ReadOnly Lane = "codex"
	// WriteEnabled applies vetted patches.
	WriteEnabled Lane = "claude"
)

// All lists every lane in a stable order.
var All = []Lane{ReadOnly, WriteEnabled}

// Parse converts a lane name into a Lane. Unknown names are rejected.
func Parse(name string) (Lane, error) {
	switch Lane(name) {
	case ReadOnly, WriteEnabled:
		return Lane(name), nil
	}
	return "", fmt.Errorf("unknown lane %q (expected %q or %q)", name, ReadOnly, WriteEnabled)
}

// Valid reports whether l is one of the two known lanes.
func (l Lane) Valid() bool {
	return l == ReadOnly || l == WriteEnabled
}

// String returns the lane name.
func (l Lane) String() string { return string(l) }

// ReadOnlyLane reports whether the lane is the restricted one.
func (l Lane) ReadOnlyLane() bool { return l == ReadOnly }

// Peer returns the lane on the other side of a handoff.
func (l Lane) Peer() Lane {
	switch l {
	case ReadOnly:
		return WriteEnabled
	case WriteEnabled:
		return ReadOnly
	}
	return ""
}
