package lane

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTables(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lanes.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadTablesMissingFileUsesDefaults(t *testing.T) {
	tables, err := LoadTables(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tables.Set(ReadOnly).Snapshot().Equal(DefaultSet(ReadOnly).Snapshot()) {
		t.Error("expected default codex table")
	}
	if !tables.Set(WriteEnabled).Unrestricted {
		t.Error("expected unrestricted claude table")
	}
}

func TestLoadTablesAddsPatterns(t *testing.T) {
	path := writeTables(t, `
codex:
  allow:
    - "Bash(go test:*)"
  deny:
    - "Bash(curl:*)"
claude:
  deny:
    - "Bash(git push --force:*)"
`)
	tables, err := LoadTables(path)
	if err != nil {
		t.Fatal(err)
	}

	codex := tables.Set(ReadOnly)
	if !codex.IsAllowed("Bash(go test ./...)") {
		t.Error("expected added allow pattern")
	}
	if codex.IsAllowed("Bash(curl http://x)") {
		t.Error("expected added deny pattern")
	}
	if codex.IsAllowed("Write") {
		t.Error("built-in deny must survive merge")
	}
	if tables.Set(WriteEnabled).IsAllowed("Bash(git push --force origin)") {
		t.Error("expected claude deny addition")
	}
}

func TestLoadTablesRejectsMalformedPattern(t *testing.T) {
	path := writeTables(t, `
codex:
  allow:
    - "Bash(ls"
`)
	if _, err := LoadTables(path); err == nil {
		t.Fatal("expected malformed pattern to fail load")
	}
}

func TestLoadTablesRejectsInvalidYAML(t *testing.T) {
	path := writeTables(t, "codex: [unterminated")
	if _, err := LoadTables(path); err == nil {
		t.Fatal("expected invalid YAML to fail load")
	}
}

func TestLoadTablesRejectsClaudeAllow(t *testing.T) {
	path := writeTables(t, `
claude:
  allow: ["Read"]
`)
	if _, err := LoadTables(path); err == nil {
		t.Fatal("expected claude allow list to be rejected")
	}
}

func TestNewTablesRejectsUnrestrictedCodex(t *testing.T) {
	if _, err := NewTables(PermissionSet{Unrestricted: true}, PermissionSet{Unrestricted: true}); err == nil {
		t.Fatal("expected unrestricted codex to be rejected")
	}
}
