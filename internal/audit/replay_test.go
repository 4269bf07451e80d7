package audit

import (
	"path/filepath"
	"strings"
	"testing"
)

func writeReplayLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	entries := []Entry{
		{WorkflowID: "wf-1", Event: EventValidation, Lane: "codex", Operation: "Read", Success: true},
		{WorkflowID: "wf-1", Event: EventValidation, Lane: "codex", Operation: "Write", Success: false, Reason: "denied by pattern Write"},
		{WorkflowID: "wf-1", Event: EventHandoff, Lane: "codex", Operation: "handoff-1", Success: true},
		{WorkflowID: "wf-2", Event: EventBypass, Lane: "codex", Operation: "bypass", Success: true},
	}
	for _, e := range entries {
		if err := l.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestReplayFiltersByWorkflow(t *testing.T) {
	path := writeReplayLog(t)
	result, err := Replay(path, ReplayFilter{WorkflowID: "wf-1"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary.Total != 3 {
		t.Fatalf("expected 3 entries, got %d", result.Summary.Total)
	}
	if result.Summary.FailureCount != 1 || result.Summary.HandoffCount != 1 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
}

func TestReplayFiltersByEvent(t *testing.T) {
	path := writeReplayLog(t)
	result, err := Replay(path, ReplayFilter{Event: EventBypass})
	if err != nil {
		t.Fatal(err)
	}
	if result.Summary.Total != 1 || result.Summary.BypassCount != 1 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
}

func TestFormatTimeline(t *testing.T) {
	path := writeReplayLog(t)
	result, _ := Replay(path, ReplayFilter{})
	out := FormatTimeline(result)
	for _, want := range []string{"HANDOFF", "FAIL", "Total: 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("timeline missing %q:\n%s", want, out)
		}
	}

	empty := FormatTimeline(&ReplayResult{})
	if !strings.Contains(empty, "No entries") {
		t.Errorf("unexpected empty output %q", empty)
	}
}
