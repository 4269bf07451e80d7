package lane

import (
	"strings"
	"testing"
)

func TestDenyPrecedence(t *testing.T) {
	set, err := Compile([]string{"Bash(git:*)", "Write"}, []string{"Bash(git push:*)", "Write"}, false)
	if err != nil {
		t.Fatal(err)
	}

	for _, op := range []string{"Bash(git push origin main)", "Write", "Write(a.txt)"} {
		d := set.Evaluate(op)
		if d.Allowed {
			t.Errorf("%q matches both lists, expected deny", op)
		}
		if !strings.HasPrefix(d.Reason, "denied by pattern") {
			t.Errorf("%q: expected deny-pattern reason, got %q", op, d.Reason)
		}
	}
	if !set.IsAllowed("Bash(git status)") {
		t.Error("expected allow for git status")
	}
}

func TestReadOnlyClosure(t *testing.T) {
	ro := DefaultSet(ReadOnly)

	tests := []struct {
		op   string
		want bool
	}{
		{"Write", false},
		{"Bash(rm -rf /)", false},
		{"Bash(git diff HEAD)", true},
		{`Bash(git commit -m "x")`, false},
		{"Read", true},
		{"Grep", true},
		{"Bash(ls -la)", true},
		{"Edit(src/a.js)", false},
		{"WebFetch", false},
		{"Bash(make build)", false},
		{"Bash(git push --force)", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsAllowed(tt.op, ro); got != tt.want {
			t.Errorf("IsAllowed(%q, ReadOnly) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestReadOnlyRejectsCompoundCommands(t *testing.T) {
	ro := DefaultSet(ReadOnly)

	for _, op := range []string{
		"Bash(ls && rm -rf /)",
		"Bash(ls; touch x)",
		"Bash(git diff > out.patch)",
		"Bash(cat a | sh)",
		"Bash(ls $(rm x))",
		"Bash(ls `rm x`)",
		"Bash(ls\ntouch x)",
		"Bash(ls:x; touch y)",
	} {
		if ro.IsAllowed(op) {
			t.Errorf("expected compound command %q to be denied", op)
		}
	}
}

func TestCompoundSegmentHitsDenyList(t *testing.T) {
	ro := DefaultSet(ReadOnly)

	d := ro.Evaluate("Bash(ls && rm -rf /)")
	if d.Allowed {
		t.Fatal("expected deny")
	}
	if d.Pattern != "Bash(rm:*)" {
		t.Fatalf("expected segment to hit Bash(rm:*), got %q (%s)", d.Pattern, d.Reason)
	}
}

func TestReadOnlyRejectsMalformedOperation(t *testing.T) {
	ro := DefaultSet(ReadOnly)
	if ro.IsAllowed("Read(unterminated") {
		t.Error("malformed operation must be denied in restricted lane")
	}
}

func TestWriteEnabledOpenness(t *testing.T) {
	rw := DefaultSet(WriteEnabled)

	for _, op := range []string{
		"Write",
		"Edit(src/a.js)",
		"Bash(rm -rf build)",
		`Bash(git commit -m "apply patch")`,
		"Bash(git push origin claude/x)",
		"AnythingElse",
	} {
		if !IsAllowed(op, rw) {
			t.Errorf("expected %q to be allowed on write-enabled lane", op)
		}
	}
}

func TestWriteEnabledHonorsExtraDeny(t *testing.T) {
	rw, err := Compile(nil, []string{"Bash(git push --force:*)"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if rw.IsAllowed("Bash(git push --force origin main)") {
		t.Error("explicit deny must apply to unrestricted lane")
	}
	if !rw.IsAllowed("Bash(git push origin main)") {
		t.Error("expected plain push to be allowed")
	}
}

func TestCompileRejectsMalformed(t *testing.T) {
	if _, err := Compile([]string{"Bash(ls"}, nil, false); err == nil {
		t.Error("expected malformed allow pattern to be rejected")
	}
	if _, err := Compile(nil, []string{"Write)"}, false); err == nil {
		t.Error("expected malformed deny pattern to be rejected")
	}
	if _, err := Compile([]string{"Read"}, nil, true); err == nil {
		t.Error("expected unrestricted set with allow list to be rejected")
	}
}

func TestUnknownLaneDeniesEverything(t *testing.T) {
	set := DefaultSet(Lane("intruder"))
	if set.IsAllowed("Read") {
		t.Error("unknown lane must deny")
	}
}

func TestSnapshotEqual(t *testing.T) {
	a := DefaultSet(ReadOnly).Snapshot()
	b := DefaultSet(ReadOnly).Snapshot()
	if !a.Equal(b) {
		t.Fatal("expected identical snapshots")
	}
	if a.Equal(DefaultSet(WriteEnabled).Snapshot()) {
		t.Fatal("lane snapshots must differ")
	}
	if len(a.Allowed) != len(ReadOnlyAllowed) || len(a.Denied) != len(ReadOnlyDenied) {
		t.Fatalf("snapshot sizes: allowed=%d denied=%d", len(a.Allowed), len(a.Denied))
	}
}

func TestParseLane(t *testing.T) {
	for _, name := range []string{"codex", "claude"} {
		if _, err := Parse(name); err != nil {
			t.Errorf("Parse(%q): %v", name, err)
		}
	}
	if _, err := Parse("root"); err == nil {
		t.Error("expected unknown lane to be rejected")
	}
	if ReadOnly.Peer() != WriteEnabled || WriteEnabled.Peer() != ReadOnly {
		t.Error("peer lanes mismatch")
	}
}
