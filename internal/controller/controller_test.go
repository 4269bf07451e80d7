package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/dualane/internal/artifact"
	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/handoff"
	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/laneconfig"
	"github.com/ppiankov/dualane/internal/laneexec"
	"github.com/ppiankov/dualane/internal/secctx"
	"github.com/ppiankov/dualane/internal/signing"
)

const fixedDiff = `--- a/src/a.js
+++ b/src/a.js
@@ -1,3 +1,4 @@
 function f(x) {
+  if (x == null) return;
   return x.y;
 }
`

type fixture struct {
	ctrl     *Controller
	manager  *secctx.Manager
	handoffs *handoff.Store
	root     string
}

func stubGenerator() *laneexec.StaticGenerator {
	return &laneexec.StaticGenerator{Responses: map[lane.Lane]string{
		lane.ReadOnly:     "Proposed change:\n\n```diff\n" + fixedDiff + "```\n",
		lane.WriteEnabled: "APPLIED: src/a.js\n",
	}}
}

func newFixture(t *testing.T, gen laneexec.Generator, mutate func(*Config)) *fixture {
	t.Helper()
	root := t.TempDir()
	m := secctx.NewManager(secctx.Config{
		Signer:     signing.NewSigner(signing.EnvKeyProvider{Environment: "test"}),
		WorkflowID: "wf-" + strings.ReplaceAll(t.Name(), "/", "-"),
	})
	store, err := handoff.NewStore(filepath.Join(root, "handoffs"))
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Manager:   m,
		Client:    laneexec.NewClient(gen, nil),
		Artifacts: artifact.NewGenerator(filepath.Join(root, "artifacts"), m),
		Handoffs:  store,
		ConfigDir: filepath.Join(root, "config"),
		AuditDir:  filepath.Join(root, "audit"),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{ctrl: ctrl, manager: m, handoffs: store, root: root}
}

func requestLanes(gen *laneexec.StaticGenerator) []lane.Lane {
	var out []lane.Lane
	for _, r := range gen.Requests() {
		out = append(out, r.Lane)
	}
	return out
}

func TestExecuteAsCodexProducesSignedHandoff(t *testing.T) {
	gen := stubGenerator()
	f := newFixture(t, gen, nil)

	h, err := f.ctrl.ExecuteAsCodex(context.Background(), "Add null check", "src/a.js")
	if err != nil {
		t.Fatalf("ExecuteAsCodex: %v", err)
	}
	if f.ctrl.State() != HandoffReady {
		t.Fatalf("expected HandoffReady, got %s", f.ctrl.State())
	}

	for _, p := range []string{h.Artifacts.PatchFile, h.Artifacts.SBOMFile, h.Artifacts.AttestationFile} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("artifact %s missing: %v", p, err)
		}
	}
	patch, _ := os.ReadFile(h.Artifacts.PatchFile)
	sum := sha256.Sum256(patch)
	if string(patch) != fixedDiff || h.Artifacts.Signature.ContentHash != hex.EncodeToString(sum[:]) {
		t.Fatal("content hash must equal sha256 of the exact patch bytes")
	}

	stored, err := f.handoffs.Load(h.ID)
	if err != nil {
		t.Fatalf("handoff not persisted: %v", err)
	}
	if stored.FromLane != lane.ReadOnly || stored.ToLane != lane.WriteEnabled || stored.Status != handoff.StatusReady {
		t.Fatalf("unexpected persisted handoff %+v", stored)
	}

	if got := requestLanes(gen); !slices.Equal(got, []lane.Lane{lane.ReadOnly}) {
		t.Fatalf("unexpected generator calls %v", got)
	}
	for _, tool := range gen.Requests()[0].Tools {
		if !lane.DefaultSet(lane.ReadOnly).IsAllowed(tool) {
			t.Fatalf("denied tool %q reached the generator", tool)
		}
	}

	var sawHandoff, sawSwitch bool
	for _, e := range f.ctrl.AuditLog() {
		sawHandoff = sawHandoff || (e.Event == audit.EventHandoff && e.Operation == h.ID)
		sawSwitch = sawSwitch || e.Event == audit.EventModeSwitch
	}
	if !sawHandoff || !sawSwitch {
		t.Fatal("expected MODE_SWITCH and HANDOFF audit entries")
	}

	snap, err := audit.ReadSnapshot(f.ctrl.AuditPath())
	if err != nil {
		t.Fatalf("audit snapshot: %v", err)
	}
	if len(snap) != len(f.ctrl.AuditLog()) {
		t.Fatalf("snapshot has %d entries, log has %d", len(snap), len(f.ctrl.AuditLog()))
	}

	if _, err := os.Stat(laneconfig.FilePath(filepath.Join(f.root, "config"), lane.ReadOnly)); err != nil {
		t.Fatal("expected codex config to be provisioned")
	}
}

func TestRunCompletes(t *testing.T) {
	gen := stubGenerator()
	f := newFixture(t, gen, nil)

	res, err := f.ctrl.Run(context.Background(), "Add null check", "src/a.js")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != Complete || f.ctrl.State() != Complete {
		t.Fatalf("expected Complete, got %s", res.State)
	}
	if !slices.Equal(res.AppliedFiles, []string{"src/a.js"}) {
		t.Fatalf("unexpected applied files %v", res.AppliedFiles)
	}
	if got := requestLanes(gen); !slices.Equal(got, []lane.Lane{lane.ReadOnly, lane.WriteEnabled}) {
		t.Fatalf("unexpected generator call order %v", got)
	}
	claudeReq := gen.Requests()[1]
	if !strings.Contains(claudeReq.UserPrompt, fixedDiff) {
		t.Fatal("claude lane must receive the verified patch")
	}

	log := f.ctrl.AuditLog()
	if log[len(log)-1].Event != audit.EventComplete {
		t.Fatalf("expected final COMPLETE entry, got %s", log[len(log)-1].Event)
	}
}

func TestExecuteAsClaudeRejectsTamperedPatch(t *testing.T) {
	gen := stubGenerator()
	f := newFixture(t, gen, nil)

	h, err := f.ctrl.ExecuteAsCodex(context.Background(), "Add null check", "src/a.js")
	if err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(h.Artifacts.PatchFile)
	edited := strings.Replace(string(data), "return;", "return 1;", 1)
	if err := os.WriteFile(h.Artifacts.PatchFile, []byte(edited), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = f.ctrl.ExecuteAsClaude(context.Background(), h)
	if !IsKind(err, SignatureInvalid) {
		t.Fatalf("expected SignatureInvalid, got %v", err)
	}
	if f.ctrl.State() != Failed {
		t.Fatalf("expected Failed, got %s", f.ctrl.State())
	}
	if slices.Contains(requestLanes(gen), lane.WriteEnabled) {
		t.Fatal("write-enabled generator must not run for a tampered artifact")
	}

	snap, err := audit.ReadSnapshot(f.ctrl.AuditPath())
	if err != nil {
		t.Fatal(err)
	}
	if last := snap[len(snap)-1]; last.Event != audit.EventFailure || last.Success {
		t.Fatalf("expected FAILURE as last snapshot entry, got %+v", last)
	}
}

func TestExecuteAsClaudeRetryStillFails(t *testing.T) {
	gen := stubGenerator()
	f := newFixture(t, gen, nil)
	h, _ := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js")
	os.WriteFile(h.Artifacts.PatchFile, []byte("--- a/x\n+++ b/x\n"), 0644)

	for i := 0; i < 2; i++ {
		fresh := newFixture(t, gen, func(c *Config) { c.Manager = f.manager; c.Handoffs = f.handoffs })
		if _, err := fresh.ctrl.ExecuteAsClaude(context.Background(), h); !IsKind(err, SignatureInvalid) {
			t.Fatalf("attempt %d: expected SignatureInvalid, got %v", i, err)
		}
	}
}

func TestExecuteAsClaudeRejectsForgedHandoffs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *handoff.Handoff)
		kind   FailureKind
	}{
		{"reversed direction", func(h *handoff.Handoff) {
			h.FromLane, h.ToLane = lane.WriteEnabled, lane.ReadOnly
		}, SignatureInvalid},
		{"context relabelled", func(h *handoff.Handoff) {
			h.Artifacts.Context.Lane = lane.WriteEnabled
		}, SignatureInvalid},
		{"task rewritten", func(h *handoff.Handoff) {
			h.Artifacts.Context.TaskDescription = "Delete everything"
		}, SignatureInvalid},
		{"signature points at another file", func(h *handoff.Handoff) {
			h.Artifacts.Signature.FileName = "other.patch"
		}, SignatureInvalid},
		{"hmac stripped", func(h *handoff.Handoff) {
			h.Artifacts.Signature.HMAC = ""
		}, SignatureInvalid},
		{"combined hash rewritten", func(h *handoff.Handoff) {
			h.Artifacts.CombinedHash = strings.Repeat("0", 64)
		}, SignatureInvalid},
		{"status changed", func(h *handoff.Handoff) {
			h.Status = "consumed"
		}, InvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := stubGenerator()
			f := newFixture(t, gen, nil)
			h, err := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js")
			if err != nil {
				t.Fatal(err)
			}
			forged := *h
			tt.mutate(&forged)

			if _, err := f.ctrl.ExecuteAsClaude(context.Background(), &forged); !IsKind(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			if slices.Contains(requestLanes(gen), lane.WriteEnabled) {
				t.Fatal("write-enabled generator must not run")
			}
		})
	}
}

func TestExecuteAsClaudeRejectsTamperedSBOM(t *testing.T) {
	gen := stubGenerator()
	f := newFixture(t, gen, nil)
	h, _ := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js")

	data, _ := os.ReadFile(h.Artifacts.SBOMFile)
	os.WriteFile(h.Artifacts.SBOMFile, append(data, ' '), 0644)

	_, err := f.ctrl.ExecuteAsClaude(context.Background(), h)
	if !IsKind(err, SignatureInvalid) || !errors.Is(err, artifact.ErrCombinedHashMismatch) {
		t.Fatalf("expected combined hash failure, got %v", err)
	}
}

func TestExecuteAsClaudeRejectsRewrittenBundleAndHash(t *testing.T) {
	gen := stubGenerator()
	f := newFixture(t, gen, nil)
	h, err := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js")
	if err != nil {
		t.Fatal(err)
	}
	a := &h.Artifacts

	sbom, err := a.ReadSBOM()
	if err != nil {
		t.Fatal(err)
	}
	sbom.Components = append(sbom.Components, artifact.Component{Name: "etc/evil", Type: "file", Version: "1"})
	sbomBytes, _ := json.MarshalIndent(sbom, "", "  ")
	if err := os.WriteFile(a.SBOMFile, sbomBytes, 0644); err != nil {
		t.Fatal(err)
	}
	patch, _ := os.ReadFile(a.PatchFile)
	att, _ := os.ReadFile(a.AttestationFile)
	a.CombinedHash = artifact.CombinedHash(patch, sbomBytes, att)

	record, _ := json.MarshalIndent(h, "", "  ")
	if err := os.WriteFile(f.handoffs.Path(h.ID), record, 0644); err != nil {
		t.Fatal(err)
	}
	loaded, err := f.handoffs.Load(h.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := loaded.Artifacts.Verify(); err != nil {
		t.Fatalf("rewritten bundle should match its rewritten hash: %v", err)
	}

	_, err = f.ctrl.ExecuteAsClaude(context.Background(), loaded)
	if !IsKind(err, SignatureInvalid) {
		t.Fatalf("expected SignatureInvalid, got %v", err)
	}
	var sealRejected bool
	for _, e := range f.ctrl.AuditLog() {
		sealRejected = sealRejected || (e.Event == audit.EventHandoffVerify && e.Operation == h.ID && !e.Success)
	}
	if !sealRejected {
		t.Fatal("expected a failed HANDOFF_VERIFY audit entry")
	}
	if slices.Contains(requestLanes(gen), lane.WriteEnabled) {
		t.Fatal("write-enabled generator must not run")
	}
	if f.ctrl.State() != Failed {
		t.Fatalf("expected Failed, got %s", f.ctrl.State())
	}
}

func TestExecuteAsClaudeFromIdleWithPersistedHandoff(t *testing.T) {
	gen := stubGenerator()
	f := newFixture(t, gen, nil)
	h, _ := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js")

	loaded, err := f.handoffs.Load(h.ID)
	if err != nil {
		t.Fatal(err)
	}
	second := newFixture(t, gen, func(c *Config) { c.Manager = f.manager; c.Handoffs = f.handoffs })
	res, err := second.ctrl.ExecuteAsClaude(context.Background(), loaded)
	if err != nil {
		t.Fatalf("ExecuteAsClaude: %v", err)
	}
	if res.HandoffFile != f.handoffs.Path(h.ID) {
		t.Fatalf("unexpected handoff file %s", res.HandoffFile)
	}
}

func TestCodexGeneratorTimeout(t *testing.T) {
	gen := laneexec.GeneratorFunc(func(ctx context.Context, req laneexec.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, gen, func(c *Config) { c.Timeout = 20 * time.Millisecond })

	_, err := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js")
	var we *WorkflowError
	if !errors.As(err, &we) || we.Kind != GenerationFailure {
		t.Fatalf("expected GenerationFailure, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline, got %v", err)
	}
	if we.Elapsed < 20*time.Millisecond {
		t.Fatalf("expected elapsed >= timeout, got %s", we.Elapsed)
	}
	if !strings.Contains(we.Reason, "timed out") {
		t.Fatalf("unexpected reason %q", we.Reason)
	}
	if _, err := os.Stat(f.ctrl.AuditPath()); err != nil {
		t.Fatal("audit snapshot must be written on failure")
	}
	if list, _ := f.handoffs.List(); len(list) != 0 {
		t.Fatal("no handoff may exist after a failed codex lane")
	}
}

func TestCodexResponseClaimingWriteFails(t *testing.T) {
	gen := &laneexec.StaticGenerator{Responses: map[lane.Lane]string{
		lane.ReadOnly: "I have deleted the old file and committed.\n```diff\n" + fixedDiff + "```",
	}}
	f := newFixture(t, gen, nil)

	_, err := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js")
	if !IsKind(err, PermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	if list, _ := f.handoffs.List(); len(list) != 0 {
		t.Fatal("no handoff may exist after a rejected response")
	}
}

func TestCodexNoPatchIsGenerationFailure(t *testing.T) {
	gen := &laneexec.StaticGenerator{Responses: map[lane.Lane]string{lane.ReadOnly: "not sure"}}
	f := newFixture(t, gen, nil)
	_, err := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js")
	if !IsKind(err, GenerationFailure) || !errors.Is(err, laneexec.ErrNoPatch) {
		t.Fatalf("expected GenerationFailure wrapping ErrNoPatch, got %v", err)
	}
}

func TestUnsafeCodexConfigFails(t *testing.T) {
	gen := stubGenerator()
	f := newFixture(t, gen, nil)
	dir := filepath.Join(f.root, "config")
	os.MkdirAll(dir, 0755)
	os.WriteFile(laneconfig.FilePath(dir, lane.ReadOnly), []byte("ENABLE_WRITE_OPERATIONS=true\n"), 0644)

	_, err := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js")
	if !IsKind(err, ConfigurationInvalid) || !errors.Is(err, laneconfig.ErrUnsafe) {
		t.Fatalf("expected ConfigurationInvalid wrapping ErrUnsafe, got %v", err)
	}
	if len(gen.Requests()) != 0 {
		t.Fatal("generator must not run with an unsafe config")
	}
}

func TestInvalidTransitions(t *testing.T) {
	gen := stubGenerator()
	f := newFixture(t, gen, nil)
	if _, err := f.ctrl.Run(context.Background(), "task", "a.js"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js"); !IsKind(err, InvalidState) {
		t.Fatalf("expected InvalidState after Complete, got %v", err)
	}
	if f.ctrl.State() != Complete {
		t.Fatal("rejected transition must not change state")
	}
}

func TestFailedIsAbsorbing(t *testing.T) {
	gen := &laneexec.StaticGenerator{Err: errors.New("upstream down")}
	f := newFixture(t, gen, nil)
	if _, err := f.ctrl.ExecuteAsCodex(context.Background(), "task", "a.js"); !IsKind(err, GenerationFailure) {
		t.Fatalf("expected GenerationFailure, got %v", err)
	}
	if _, err := f.ctrl.ExecuteAsClaude(context.Background(), &handoff.Handoff{}); !IsKind(err, InvalidState) {
		t.Fatalf("expected InvalidState from Failed, got %v", err)
	}
}

func TestTrailDisabledOnlyForWriteLane(t *testing.T) {
	gen := stubGenerator()
	trail := audit.NewMemory()
	sw := audit.NewSwitch(trail)
	f := newFixture(t, gen, func(c *Config) { c.Trail = sw })

	dir := filepath.Join(f.root, "config")
	os.MkdirAll(dir, 0755)
	os.WriteFile(laneconfig.FilePath(dir, lane.ReadOnly), []byte("AUDIT_TRAIL_ENABLED=false\n"), 0644)

	if _, err := f.ctrl.SwitchLane(lane.ReadOnly); err != nil {
		t.Fatal(err)
	}
	if !sw.On() {
		t.Fatal("trail must stay on for the read-only lane")
	}

	os.WriteFile(laneconfig.FilePath(dir, lane.WriteEnabled), []byte("AUDIT_TRAIL_ENABLED=false\n"), 0644)
	if _, err := f.ctrl.SwitchLane(lane.WriteEnabled); err != nil {
		t.Fatal(err)
	}
	if sw.On() {
		t.Fatal("trail must follow AUDIT_TRAIL_ENABLED on the write-enabled lane")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil || !strings.Contains(err.Error(), "Manager") {
		t.Fatalf("expected missing dependency error, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	if HandoffReady.String() != "handoff_ready" || State(42).String() != "state(42)" {
		t.Fatal("unexpected state names")
	}
}

func TestPermittedToolsCodex(t *testing.T) {
	f := newFixture(t, stubGenerator(), nil)
	got := f.ctrl.permittedTools(lane.ReadOnly)
	want := []string{"Read", "Grep", "Glob", "LS", "Bash(git diff)", "Bash(git status)", "Bash(git log)"}
	if !slices.Equal(got, want) {
		t.Fatalf("permittedTools(ReadOnly) = %v, want %v", got, want)
	}
	if got := f.ctrl.permittedTools(lane.WriteEnabled); !slices.Equal(got, DefaultTools) {
		t.Fatalf("permittedTools(WriteEnabled) = %v", got)
	}
}
