package secctx

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/lane"
)

// BypassDuration is how long a bypass grant stays usable.
const BypassDuration = 10 * time.Minute

// BypassGrant is a single-use, lane-bound override of one denial.
type BypassGrant struct {
	ID        string     `json:"id"`
	Lane      lane.Lane  `json:"lane"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

func (g *BypassGrant) active(now time.Time) bool {
	return g.UsedAt == nil && now.Before(g.ExpiresAt)
}

// Bypass issues a grant that can override one denial on the lane. The
// reason must be at least MinBypassReason characters after trimming.
// Every call appends exactly one BYPASS entry carrying the reason verbatim.
func (m *Manager) Bypass(l lane.Lane, reason string) (*BypassGrant, error) {
	fail := func(err error) (*BypassGrant, error) {
		m.record(audit.Entry{
			Event:     audit.EventBypass,
			Lane:      string(l),
			Operation: "bypass",
			Success:   false,
			Reason:    reason,
		})
		return nil, err
	}

	if !l.Valid() {
		return fail(fmt.Errorf("secctx: unknown lane %q", l))
	}
	if utf8.RuneCountInString(strings.TrimSpace(reason)) < MinBypassReason {
		return fail(ErrReasonTooShort)
	}

	id, err := grantID()
	if err != nil {
		return fail(err)
	}

	now := m.now().UTC()
	grant := &BypassGrant{
		ID:        id,
		Lane:      l,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(BypassDuration),
	}

	m.mu.Lock()
	m.grants[id] = grant
	m.mu.Unlock()

	m.record(audit.Entry{
		Event:     audit.EventBypass,
		Lane:      string(l),
		Operation: id,
		Success:   true,
		Reason:    reason,
	})
	m.logger.Warn("bypass grant issued", "lane", l, "grant", id, "reason", reason)

	copied := *grant
	return &copied, nil
}

// ValidateWithBypass validates normally and, only if denied, consumes the
// grant to allow the operation once. The grant must have been issued by
// this manager for the same lane, be unused and unexpired.
func (m *Manager) ValidateWithBypass(operation string, l lane.Lane, grant *BypassGrant) (Validation, error) {
	v := m.ValidateOperation(operation, l)
	if v.Allowed || grant == nil {
		return v, nil
	}

	now := m.now().UTC()

	m.mu.Lock()
	stored, ok := m.grants[grant.ID]
	valid := ok && stored.Lane == l && stored.active(now)
	if valid {
		stored.UsedAt = &now
	}
	m.mu.Unlock()

	if !valid {
		m.record(audit.Entry{
			Event:     audit.EventBypassUsed,
			Lane:      string(l),
			Operation: operation,
			Success:   false,
			Reason:    "grant " + grant.ID + " rejected",
		})
		return v, ErrGrantInvalid
	}

	m.record(audit.Entry{
		Event:     audit.EventBypassUsed,
		Lane:      string(l),
		Operation: operation,
		Success:   true,
		Reason:    "grant " + stored.ID + ": " + stored.Reason,
	})
	return Validation{Allowed: true, Reason: "bypass grant " + stored.ID}, nil
}

func grantID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("secctx: generate grant id: %w", err)
	}
	return "bp-" + hex.EncodeToString(b), nil
}
