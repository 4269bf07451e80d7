// Package secctx builds and verifies signed security contexts, validates
// operations and responses against lane permission tables, and owns the
// append-only validation log.
package secctx

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/lane"
)

// SecurityContext binds one lane invocation to its task. Immutable once
// signed.
type SecurityContext struct {
	Lane                lane.Lane         `json:"lane"`
	Timestamp           string            `json:"timestamp"`
	RequestID           string            `json:"request_id"`
	PermissionSnapshot  lane.Snapshot     `json:"permission_snapshot"`
	TaskDescription     string            `json:"task_description"`
	EnvironmentSnapshot map[string]string `json:"environment_snapshot"`
	Signature           string            `json:"signature"`
}

// signedFields is the canonical payload covered by a context signature.
// Field order is fixed by the struct.
type signedFields struct {
	Lane            lane.Lane `json:"lane"`
	Timestamp       string    `json:"timestamp"`
	RequestID       string    `json:"request_id"`
	TaskDescription string    `json:"task_description"`
}

func (c SecurityContext) payload() ([]byte, error) {
	return json.Marshal(signedFields{
		Lane:            c.Lane,
		Timestamp:       c.Timestamp,
		RequestID:       c.RequestID,
		TaskDescription: c.TaskDescription,
	})
}

// CreateContext builds and signs a context for one lane invocation.
// Errors are fatal for the invocation (RNG, key derivation, encoding).
func (m *Manager) CreateContext(l lane.Lane, task string) (SecurityContext, error) {
	if !l.Valid() {
		return SecurityContext{}, fmt.Errorf("secctx: unknown lane %q", l)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return SecurityContext{}, fmt.Errorf("secctx: generate request id: %w", err)
	}

	env := maps.Clone(m.env)
	if env == nil {
		env = map[string]string{}
	}
	env["lane"] = string(l)

	ctx := SecurityContext{
		Lane:                l,
		Timestamp:           m.timestamp(),
		RequestID:           id.String(),
		PermissionSnapshot:  m.tables.Set(l).Snapshot(),
		TaskDescription:     task,
		EnvironmentSnapshot: env,
	}

	payload, err := ctx.payload()
	if err != nil {
		return SecurityContext{}, fmt.Errorf("secctx: encode context: %w", err)
	}
	ctx.Signature, err = m.signer.Sign(payload, l)
	if err != nil {
		return SecurityContext{}, fmt.Errorf("secctx: sign context: %w", err)
	}
	return ctx, nil
}

// VerifyContext recomputes the signature with the key of the lane the
// context claims, and checks that the embedded permission snapshot is the
// manager's own table for that lane. A context that claims another lane's
// identity or permissions fails.
func (m *Manager) VerifyContext(c SecurityContext) bool {
	ok, reason := m.verifyContext(c)
	m.record(audit.Entry{
		Event:     audit.EventContextVerify,
		Lane:      string(c.Lane),
		Operation: c.RequestID,
		Success:   ok,
		Reason:    reason,
	})
	return ok
}

func (m *Manager) verifyContext(c SecurityContext) (bool, string) {
	if !c.Lane.Valid() {
		return false, "unknown lane"
	}
	payload, err := c.payload()
	if err != nil {
		return false, "encode context: " + err.Error()
	}
	if !m.signer.Verify(payload, c.Lane, c.Signature) {
		return false, "signature mismatch"
	}
	if !c.PermissionSnapshot.Equal(m.tables.Set(c.Lane).Snapshot()) {
		return false, "permission snapshot does not match lane table"
	}
	return true, "signature valid"
}
