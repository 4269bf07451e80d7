// Package controller sequences the two lanes of a workflow: the read-only
// lane proposes and signs a patch, the write-enabled lane verifies and
// applies it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/dualane/internal/artifact"
	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/handoff"
	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/laneconfig"
	"github.com/ppiankov/dualane/internal/laneexec"
	"github.com/ppiankov/dualane/internal/secctx"
	"github.com/ppiankov/dualane/internal/telemetry"
)

// DefaultTools is the tool set requested for a lane when none is given.
var DefaultTools = []string{
	"Read", "Grep", "Glob", "LS",
	"Write", "Edit", "MultiEdit",
	"Bash(git diff)", "Bash(git status)", "Bash(git log)",
	"Bash(git apply)", "Bash(git commit)",
}

// HandoffIndex records persisted handoffs outside the handoff directory.
type HandoffIndex interface {
	RecordHandoff(h *handoff.Handoff, path string) error
}

// Config wires a Controller. Manager, Client, Artifacts and Handoffs are
// required.
type Config struct {
	Manager   *secctx.Manager
	Client    *laneexec.Client
	Artifacts *artifact.Generator
	Handoffs  *handoff.Store
	// ConfigDir holds <lane>.env files.
	ConfigDir string
	// AuditDir receives audit-<workflow-id>.json.
	AuditDir string
	// Trail, when set, is the live audit trail toggled by the lane file's
	// AUDIT_TRAIL_ENABLED. It is never turned off for the read-only lane.
	Trail *audit.Switch
	Index HandoffIndex
	Tools []string
	// Timeout bounds each generator call. Zero means the caller context only.
	Timeout time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Result is the outcome of a completed claude lane, or of Run.
type Result struct {
	WorkflowID   string           `json:"workflow_id"`
	State        State            `json:"state"`
	Handoff      *handoff.Handoff `json:"handoff,omitempty"`
	HandoffFile  string           `json:"handoff_file,omitempty"`
	AppliedFiles []string         `json:"applied_files,omitempty"`
	Response     string           `json:"response,omitempty"`
	AuditFile    string           `json:"audit_file"`
}

// Controller runs one workflow. It is not reusable after Complete or
// Failed.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	active      lane.Lane
	handoffFile string
}

// New validates cfg and returns an Idle controller.
func New(cfg Config) (*Controller, error) {
	var missing []string
	if cfg.Manager == nil {
		missing = append(missing, "Manager")
	}
	if cfg.Client == nil {
		missing = append(missing, "Client")
	}
	if cfg.Artifacts == nil {
		missing = append(missing, "Artifacts")
	}
	if cfg.Handoffs == nil {
		missing = append(missing, "Handoffs")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("controller: missing %s", strings.Join(missing, ", "))
	}
	if cfg.Tools == nil {
		cfg.Tools = DefaultTools
	}
	c := &Controller{cfg: cfg, logger: cfg.Logger, now: cfg.Now}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveLane returns the lane of the last SwitchLane, or "".
func (c *Controller) ActiveLane() lane.Lane {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// WorkflowID returns the id entries are tagged with.
func (c *Controller) WorkflowID() string { return c.cfg.Manager.WorkflowID() }

// AuditLog returns a copy of every entry recorded so far.
func (c *Controller) AuditLog() []audit.Entry { return c.cfg.Manager.Log() }

// AuditPath returns the snapshot path, or "" when AuditDir is unset.
func (c *Controller) AuditPath() string {
	if c.cfg.AuditDir == "" {
		return ""
	}
	return filepath.Join(c.cfg.AuditDir, "audit-"+c.WorkflowID()+".json")
}

// SwitchLane loads (or provisions) the lane file and makes l active.
func (c *Controller) SwitchLane(l lane.Lane) (laneconfig.Config, error) {
	from := c.ActiveLane()
	cfg, created, err := laneconfig.Load(c.cfg.ConfigDir, l)
	if err != nil {
		return cfg, err
	}
	if created {
		c.logger.Info("provisioned lane config", "lane", l, "path", cfg.Path)
	}
	if c.cfg.Trail != nil {
		c.cfg.Trail.Set(cfg.AuditTrailEnabled || l == lane.ReadOnly)
	}

	c.mu.Lock()
	c.active = l
	c.mu.Unlock()

	c.cfg.Manager.Record(audit.Entry{
		Event:     audit.EventModeSwitch,
		Lane:      string(l),
		Operation: fmt.Sprintf("switch %s -> %s", laneName(from), l),
		Success:   true,
		Reason:    "config " + cfg.Path,
	})
	return cfg, nil
}

func laneName(l lane.Lane) string {
	if l == "" {
		return "none"
	}
	return string(l)
}

// ExecuteAsCodex runs the read-only lane for task and persists a ready
// handoff. The audit snapshot is written before returning.
func (c *Controller) ExecuteAsCodex(ctx context.Context, task, target string) (h *handoff.Handoff, err error) {
	ctx, span := telemetry.Tracer("github.com/ppiankov/dualane/controller").Start(ctx, "controller.codex")
	defer span.End()
	span.SetAttributes(attribute.String("dualane.workflow_id", c.WorkflowID()))

	defer func() { err = c.finish(err, span) }()

	if err := c.transition([]State{Idle}, CodexRunning); err != nil {
		return nil, err
	}
	return c.runCodex(ctx, task, target)
}

func (c *Controller) runCodex(ctx context.Context, task, target string) (*handoff.Handoff, error) {
	m := c.cfg.Manager

	if _, err := c.SwitchLane(lane.ReadOnly); err != nil {
		return nil, c.fail(ConfigurationInvalid, "load codex config", 0, err)
	}
	if v := m.ValidateOperation("Read", lane.ReadOnly); !v.Allowed {
		return nil, c.fail(PermissionDenied, "Read pre-check denied: "+v.Reason, 0, nil)
	}

	sc, err := m.CreateContext(lane.ReadOnly, task)
	if err != nil {
		return nil, c.fail(SerializationError, "create codex context", 0, err)
	}

	tools := c.permittedTools(lane.ReadOnly)
	start := c.now()
	res, err := generateWith(ctx, c.cfg.Timeout, func(gctx context.Context) (laneexec.CodexResult, error) {
		return c.cfg.Client.ExecuteCodex(gctx, task, target, tools)
	})
	if err != nil {
		return nil, c.fail(GenerationFailure, generationReason("codex generation", err), c.now().Sub(start), err)
	}

	if !m.ValidateResponse(res.Response, lane.ReadOnly) {
		return nil, c.fail(PermissionDenied, "codex response claims a write operation", 0, nil)
	}

	bundle, err := c.cfg.Artifacts.Generate(res.Patch, task)
	if err != nil {
		return nil, c.fail(SerializationError, "generate artifacts", 0, err)
	}

	h, err := handoff.New(lane.ReadOnly, handoff.Artifacts{
		Files:     bundle.Files,
		Signature: bundle.Signature,
		Context:   sc,
	}, c.now())
	if err != nil {
		return nil, c.fail(SerializationError, "create handoff", 0, err)
	}
	if err := handoff.Sign(m, h); err != nil {
		return nil, c.fail(SerializationError, "sign handoff", 0, err)
	}
	path, err := c.cfg.Handoffs.Save(h)
	if err != nil {
		return nil, c.fail(SerializationError, "persist handoff", 0, err)
	}
	if c.cfg.Index != nil {
		if err := c.cfg.Index.RecordHandoff(h, path); err != nil {
			c.logger.Error("handoff index failed", "handoff", h.ID, "error", err)
		}
	}

	m.Record(audit.Entry{
		Event:     audit.EventHandoff,
		Lane:      string(lane.ReadOnly),
		Operation: h.ID,
		Success:   true,
		Reason:    fmt.Sprintf("%s -> %s, %s", h.FromLane, h.ToLane, filepath.Base(path)),
	})

	c.mu.Lock()
	c.state = HandoffReady
	c.handoffFile = path
	c.mu.Unlock()
	c.logger.Info("handoff ready", "handoff", h.ID, "patch", bundle.PatchFile, "files", len(bundle.SBOM.Components))
	return h, nil
}

// ExecuteAsClaude verifies h and only then runs the write-enabled lane.
// An Idle controller accepts a handoff loaded from disk.
func (c *Controller) ExecuteAsClaude(ctx context.Context, h *handoff.Handoff) (res *Result, err error) {
	ctx, span := telemetry.Tracer("github.com/ppiankov/dualane/controller").Start(ctx, "controller.claude")
	defer span.End()
	span.SetAttributes(attribute.String("dualane.workflow_id", c.WorkflowID()))

	defer func() { err = c.finish(err, span) }()

	if err := c.transition([]State{Idle, HandoffReady}, ClaudeRunning); err != nil {
		return nil, err
	}
	return c.runClaude(ctx, h)
}

func (c *Controller) runClaude(ctx context.Context, h *handoff.Handoff) (*Result, error) {
	if h == nil {
		return nil, c.fail(InvalidState, "no handoff", 0, nil)
	}

	patch, sbom, err := c.verifyHandoff(h)
	if err != nil {
		return nil, err
	}

	laneCfg, err := c.SwitchLane(lane.WriteEnabled)
	if err != nil {
		return nil, c.fail(ConfigurationInvalid, "load claude config", 0, err)
	}
	task := h.Artifacts.Context.TaskDescription
	if _, err := c.cfg.Manager.CreateContext(lane.WriteEnabled, task); err != nil {
		return nil, c.fail(SerializationError, "create claude context", 0, err)
	}

	expected := make([]string, 0, len(sbom.Components))
	for _, comp := range sbom.Components {
		expected = append(expected, comp.Name)
	}

	tools := c.permittedTools(lane.WriteEnabled)
	start := c.now()
	out, err := generateWith(ctx, c.cfg.Timeout, func(gctx context.Context) (laneexec.ClaudeResult, error) {
		return c.cfg.Client.ExecuteClaude(gctx, task, string(patch), laneCfg.AllowedBranchPrefix, expected, tools)
	})
	if err != nil {
		return nil, c.fail(GenerationFailure, generationReason("claude generation", err), c.now().Sub(start), err)
	}

	c.cfg.Manager.Record(audit.Entry{
		Event:     audit.EventComplete,
		Lane:      string(lane.WriteEnabled),
		Operation: h.ID,
		Success:   true,
		Reason:    "applied: " + strings.Join(out.AppliedFiles, ", "),
	})

	c.mu.Lock()
	c.state = Complete
	handoffFile := c.handoffFile
	c.mu.Unlock()
	if handoffFile == "" {
		handoffFile = c.cfg.Handoffs.Path(h.ID)
	}

	return &Result{
		WorkflowID:   c.WorkflowID(),
		State:        Complete,
		Handoff:      h,
		HandoffFile:  handoffFile,
		AppliedFiles: out.AppliedFiles,
		Response:     out.Response,
		AuditFile:    c.AuditPath(),
	}, nil
}

// verifyHandoff runs handoff.Verify and decodes the SBOM. A status
// mismatch is InvalidState; every other failed check is SignatureInvalid.
func (c *Controller) verifyHandoff(h *handoff.Handoff) ([]byte, artifact.SBOM, error) {
	report := handoff.Verify(c.cfg.Manager, h)
	if check, failed := report.Failure(); failed {
		kind := SignatureInvalid
		if check.Name == handoff.CheckStatus {
			kind = InvalidState
		}
		return nil, artifact.SBOM{}, c.fail(kind,
			fmt.Sprintf("handoff %s check failed (%s)", check.Name, check.Detail), 0, check.Err)
	}

	sbom, err := h.Artifacts.ReadSBOM()
	if err != nil {
		return nil, artifact.SBOM{}, c.fail(SerializationError, "decode sbom", 0, err)
	}
	return report.Patch, sbom, nil
}

// Run executes both lanes in order.
func (c *Controller) Run(ctx context.Context, task, target string) (*Result, error) {
	h, err := c.ExecuteAsCodex(ctx, task, target)
	if err != nil {
		return nil, err
	}
	return c.ExecuteAsClaude(ctx, h)
}

// permittedTools filters the requested tools for l and re-validates each
// kept tool. A tool either check rejects is never passed on.
func (c *Controller) permittedTools(l lane.Lane) []string {
	m := c.cfg.Manager
	filtered := m.FilterTools(c.cfg.Tools, l)
	kept := make([]string, 0, len(filtered))
	for _, tool := range filtered {
		if m.ValidateOperation(tool, l).Allowed {
			kept = append(kept, tool)
			continue
		}
		c.logger.Warn("filtered tool rejected on validation", "lane", l, "tool", tool)
	}
	return kept
}

// generateWith runs fn under timeout when one is set.
func generateWith[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fn(ctx)
}

func generationReason(stage string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return stage + " timed out"
	}
	if errors.Is(err, context.Canceled) {
		return stage + " cancelled"
	}
	return stage
}

func (c *Controller) transition(from []State, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range from {
		if c.state == s {
			c.state = to
			return nil
		}
	}
	return &WorkflowError{
		Kind:   InvalidState,
		Stage:  c.state,
		Reason: fmt.Sprintf("cannot enter %s from %s", to, c.state),
	}
}

// fail moves to Failed and records the failure.
func (c *Controller) fail(kind FailureKind, reason string, elapsed time.Duration, cause error) error {
	c.mu.Lock()
	stage := c.state
	c.state = Failed
	active := c.active
	c.mu.Unlock()

	we := &WorkflowError{Kind: kind, Stage: stage, Reason: reason, Elapsed: elapsed, Err: cause}
	c.cfg.Manager.Record(audit.Entry{
		Event:     audit.EventFailure,
		Lane:      string(active),
		Operation: string(kind),
		Success:   false,
		Reason:    we.Error(),
	})
	c.logger.Error("workflow failed", "workflow", c.WorkflowID(), "kind", kind, "stage", stage, "reason", reason, "error", cause)
	return we
}

// finish persists the audit snapshot on every return path. A snapshot
// failure is reported only when the workflow itself succeeded.
func (c *Controller) finish(err error, span trace.Span) error {
	if path := c.AuditPath(); path != "" {
		if serr := audit.WriteSnapshot(path, c.AuditLog()); serr != nil {
			c.logger.Error("audit snapshot failed", "path", path, "error", serr)
			if err == nil {
				err = &WorkflowError{Kind: SerializationError, Stage: c.State(), Reason: "persist audit snapshot", Err: serr}
			}
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
