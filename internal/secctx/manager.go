package secctx

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/signing"
	"github.com/ppiankov/dualane/internal/telemetry"
)

// Config holds Manager dependencies. Zero values select defaults.
type Config struct {
	Tables *lane.Tables
	Signer *signing.Signer
	// Sink receives every entry in addition to the manager's own log.
	Sink audit.Sink
	// Environment is copied into every context's environment snapshot.
	Environment map[string]string
	WorkflowID  string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Manager owns the lane tables and the validation log for one workflow.
type Manager struct {
	tables     *lane.Tables
	signer     *signing.Signer
	sink       audit.Sink
	env        map[string]string
	workflowID string
	now        func() time.Time
	logger     *slog.Logger

	mu     sync.Mutex
	log    []audit.Entry
	grants map[string]*BypassGrant
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		tables:     cfg.Tables,
		signer:     cfg.Signer,
		sink:       cfg.Sink,
		env:        maps.Clone(cfg.Environment),
		workflowID: cfg.WorkflowID,
		now:        cfg.Now,
		logger:     cfg.Logger,
		grants:     make(map[string]*BypassGrant),
	}
	if m.tables == nil {
		m.tables = lane.DefaultTables()
	}
	if m.signer == nil {
		m.signer = signing.NewSigner(nil)
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	decisionMetricsOnce.Do(initDecisionMetrics)
	return m
}

// Tables returns the permission tables the manager enforces.
func (m *Manager) Tables() *lane.Tables { return m.tables }

// WorkflowID returns the workflow the manager's entries are tagged with.
func (m *Manager) WorkflowID() string { return m.workflowID }

// Validation is the outcome of ValidateOperation. A denial is a normal
// result, not an error.
type Validation struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Pattern string `json:"pattern,omitempty"`
}

// ValidateOperation checks an operation against the lane's table and
// appends one entry to the log. It never special-cases a lane; only
// ValidateWithBypass can override a denial.
func (m *Manager) ValidateOperation(operation string, l lane.Lane) Validation {
	d := m.tables.Set(l).Evaluate(operation)
	if !l.Valid() {
		d = lane.Decision{Reason: "unknown lane"}
	}
	v := Validation{Allowed: d.Allowed, Reason: d.Reason, Pattern: d.Pattern}

	m.record(audit.Entry{
		Event:     audit.EventValidation,
		Lane:      string(l),
		Operation: operation,
		Success:   v.Allowed,
		Reason:    v.Reason,
	})
	recordDecision(l, v.Allowed)

	if !v.Allowed {
		m.logger.Info("operation denied", "lane", l, "operation", operation, "reason", v.Reason)
	}
	return v
}

// FilterTools returns the requested tools unchanged for the write-enabled
// lane, and only the permitted ones for the read-only lane. Unknown lanes
// get nothing.
func (m *Manager) FilterTools(requested []string, l lane.Lane) []string {
	switch l {
	case lane.WriteEnabled:
		return append([]string(nil), requested...)
	case lane.ReadOnly:
		set := m.tables.Set(l)
		kept := make([]string, 0, len(requested))
		for _, tool := range requested {
			if set.IsAllowed(tool) {
				kept = append(kept, tool)
			}
		}
		return kept
	}
	return []string{}
}

// writeIndicators are substrings that suggest a generator claims to have
// mutated something. Matched case-insensitively.
var writeIndicators = []string{
	"file.write",
	"file.edit",
	"git commit",
	"git push",
	"removed",
	"deleted",
	"modified file",
}

// ValidateResponse scans a read-only lane response for write indicators.
// It is a heuristic safety net; FilterTools and ValidateOperation are the
// authoritative controls. Other lanes always pass.
func (m *Manager) ValidateResponse(response string, l lane.Lane) bool {
	if l != lane.ReadOnly {
		return true
	}
	lower := strings.ToLower(response)
	for _, indicator := range writeIndicators {
		if strings.Contains(lower, indicator) {
			m.record(audit.Entry{
				Event:     audit.EventResponseScan,
				Lane:      string(l),
				Operation: "response",
				Success:   false,
				Reason:    "write indicator " + indicator + " found in read-only response",
			})
			m.logger.Warn("read-only response claims a write", "indicator", indicator)
			return false
		}
	}
	return true
}

// Record appends a controller-level event to the log.
func (m *Manager) Record(entry audit.Entry) {
	m.record(entry)
}

// Log returns a copy of the validation log.
func (m *Manager) Log() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Entry, len(m.log))
	copy(out, m.log)
	return out
}

func (m *Manager) record(entry audit.Entry) {
	if entry.Timestamp == "" {
		entry.Timestamp = m.timestamp()
	}
	if entry.WorkflowID == "" {
		entry.WorkflowID = m.workflowID
	}

	m.mu.Lock()
	m.log = append(m.log, entry)
	m.mu.Unlock()

	if m.sink != nil {
		if err := m.sink.Append(entry); err != nil {
			m.logger.Error("audit sink append failed", "event", entry.Event, "error", err)
		}
	}
}

func (m *Manager) timestamp() string {
	return m.now().UTC().Format(audit.TimestampFormat)
}

var decisionMetrics struct {
	decisions metric.Int64Counter
}

var decisionMetricsOnce sync.Once

func initDecisionMetrics() {
	meter := telemetry.Meter("github.com/ppiankov/dualane/secctx")
	decisionMetrics.decisions, _ = meter.Int64Counter("dualane.validation.decisions",
		metric.WithDescription("Operation validations by lane and outcome"),
		metric.WithUnit("{decision}"),
	)
}

func recordDecision(l lane.Lane, allowed bool) {
	if decisionMetrics.decisions == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	decisionMetrics.decisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("dualane.lane", string(l)),
		attribute.String("dualane.outcome", outcome),
	))
}
