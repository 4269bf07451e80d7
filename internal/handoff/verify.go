package handoff

import (
	"fmt"
	"path/filepath"

	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/secctx"
)

// Verification step names, in the order they run.
const (
	CheckDirection = "direction"
	CheckStatus    = "status"
	CheckContext   = "context"
	CheckBinding   = "binding"
	CheckPatch     = "patch"
	CheckSignature = "signature"
	CheckBundle    = "bundle"
	CheckHandoff   = "handoff"
)

// Check is one verification step.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
}

// Report is the outcome of Verify. Patch holds the verified patch bytes
// when every check passed.
type Report struct {
	HandoffID string  `json:"handoff_id"`
	Checks    []Check `json:"checks"`
	Patch     []byte  `json:"-"`
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	_, failed := r.Failure()
	return !failed && len(r.Checks) > 0
}

// Failure returns the first failed check.
func (r Report) Failure() (Check, bool) {
	for _, c := range r.Checks {
		if !c.OK {
			return c, true
		}
	}
	return Check{}, false
}

// Verify checks, in order, the transfer direction, the status, the
// security context signature, that the artifact signature names the patch
// file, the artifact signature over the patch bytes currently on disk, the
// combined bundle hash, and finally the codex seal over the handoff record
// itself. It stops at the first failure.
func Verify(m *secctx.Manager, h *Handoff) Report {
	r := Report{HandoffID: h.ID}
	a := h.Artifacts

	step := func(name string, ok bool, detail string, err error) bool {
		r.Checks = append(r.Checks, Check{Name: name, OK: ok, Detail: detail, Err: err})
		return ok
	}

	if !step(CheckDirection, h.FromLane == lane.ReadOnly && h.ToLane == lane.WriteEnabled,
		fmt.Sprintf("%s -> %s", h.FromLane, h.ToLane), nil) {
		return r
	}
	if !step(CheckStatus, h.Status == StatusReady, h.Status, nil) {
		return r
	}
	if !step(CheckContext, a.Context.Lane == lane.ReadOnly && m.VerifyContext(a.Context),
		"request "+a.Context.RequestID, nil) {
		return r
	}
	if !step(CheckBinding, a.Signature.Lane == lane.ReadOnly && a.Signature.FileName == filepath.Base(a.PatchFile),
		a.Signature.FileName, nil) {
		return r
	}

	patch, err := a.ReadPatch()
	if !step(CheckPatch, err == nil, filepath.Base(a.PatchFile), err) {
		return r
	}
	if !step(CheckSignature, m.VerifyArtifact(a.Signature, patch), a.Signature.ContentHash, nil) {
		return r
	}
	err = a.Verify()
	if !step(CheckBundle, err == nil, a.CombinedHash, err) {
		return r
	}
	payload, err := h.payload()
	if !step(CheckHandoff, err == nil && m.VerifyRecord(lane.ReadOnly, h.ID, payload, h.Signature),
		"handoff "+h.ID, err) {
		return r
	}

	r.Patch = patch
	return r
}
