package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(success bool) Entry {
	return Entry{
		Timestamp:  Now(),
		WorkflowID: "wf-test",
		Event:      EventValidation,
		Lane:       "codex",
		Operation:  "Read",
		Success:    success,
		Reason:     "test reason",
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Append(testEntry(true)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		l.Append(testEntry(false))
	}
	l.Close()

	// Flip a denial into a success on line 2.
	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"success":false`, `"success":true`, 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		l.Append(testEntry(true))
	}
	l.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	os.WriteFile(path, []byte(lines[0]+"\n"+lines[2]+"\n"), 0644)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with deleted entry to be invalid")
	}
	if result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsForgedGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forged.jsonl")
	fake := testEntry(true)
	fake.PrevHash = "sha256:fake"
	line, _ := json.Marshal(fake)
	os.WriteFile(path, append(line, '\n'), 0644)

	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected genesis failure on line 1, got %+v", result)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	l.Append(testEntry(true))
	l.Append(testEntry(true))
	l.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l2.Append(testEntry(false))
	l2.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 3 {
		t.Fatalf("expected 3-line valid chain after reopen, got %+v", result)
	}
}

func TestConcurrentAppendsKeepChainValid(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(testEntry(true))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 20 {
		t.Fatalf("expected 20-line valid chain, got %+v", result)
	}
}

func TestAppendFillsTimestamp(t *testing.T) {
	l, path := newTestLog(t)
	e := testEntry(true)
	e.Timestamp = ""
	l.Append(e)
	l.Close()

	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Entries[0].Timestamp == "" {
		t.Fatal("expected timestamp to be filled")
	}
}

func TestMemorySinkCopiesEntries(t *testing.T) {
	m := NewMemory()
	m.Append(testEntry(true))
	got := m.Entries()
	got[0].Reason = "mutated"
	if m.Entries()[0].Reason == "mutated" {
		t.Fatal("Entries must return a copy")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", m.Len())
	}
}

type failingSink struct{}

func (failingSink) Append(Entry) error { return os.ErrClosed }

func TestMultiAttemptsEverySink(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	err := Multi{a, failingSink{}, nil, b}.Append(testEntry(true))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Fatal("expected both memory sinks to receive the entry")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-wf.json")
	in := []Entry{testEntry(true), testEntry(false)}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatal(err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[1].Success {
		t.Fatalf("unexpected snapshot contents: %+v", out)
	}
}

func TestSnapshotEmptyIsArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit-empty.json")
	if err := WriteSnapshot(path, nil); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected [], got %q", data)
	}
}

func TestReadSnapshotRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSwitchGatesForwarding(t *testing.T) {
	mem := NewMemory()
	sw := NewSwitch(mem)

	sw.Append(Entry{Event: EventValidation})
	sw.Set(false)
	sw.Append(Entry{Event: EventValidation})
	if sw.On() {
		t.Fatal("expected switch off")
	}
	sw.Set(true)
	sw.Append(Entry{Event: EventComplete})

	if mem.Len() != 2 {
		t.Fatalf("expected 2 forwarded entries, got %d", mem.Len())
	}
}
