package lane

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Additions holds the extra patterns a tables file may add to one lane.
type Additions struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// TablesFile is the on-disk shape of lanes.yaml.
type TablesFile struct {
	Codex  Additions `yaml:"codex"`
	Claude Additions `yaml:"claude"`
}

// Tables maps each lane to its permission set.
type Tables struct {
	sets map[Lane]PermissionSet
}

// DefaultTables returns the built-in tables.
func DefaultTables() *Tables {
	return &Tables{sets: map[Lane]PermissionSet{
		ReadOnly:     DefaultSet(ReadOnly),
		WriteEnabled: DefaultSet(WriteEnabled),
	}}
}

// NewTables builds tables from explicit sets. Both lanes must be present
// and the codex lane must stay restricted.
func NewTables(codex, claude PermissionSet) (*Tables, error) {
	if codex.Unrestricted {
		return nil, fmt.Errorf("lane %s cannot be unrestricted", ReadOnly)
	}
	return &Tables{sets: map[Lane]PermissionSet{
		ReadOnly:     codex,
		WriteEnabled: claude,
	}}, nil
}

// Set returns the permission set for a lane. Unknown lanes get an empty
// restricted set.
func (t *Tables) Set(l Lane) PermissionSet {
	if set, ok := t.sets[l]; ok {
		return set
	}
	return PermissionSet{}
}

// DefaultTablesPath returns ~/.dualane/lanes.yaml, or "" if the home
// directory cannot be resolved.
func DefaultTablesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dualane", "lanes.yaml")
}

// LoadTables reads lane table additions from a YAML file and merges them
// over the built-in tables. Empty path uses DefaultTablesPath. A missing
// file yields the defaults; invalid YAML or a malformed pattern is an error.
func LoadTables(path string) (*Tables, error) {
	if path == "" {
		path = DefaultTablesPath()
		if path == "" {
			return DefaultTables(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTables(), nil
		}
		return nil, fmt.Errorf("failed to read lane tables: %w", err)
	}

	var f TablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse lane tables: %w", err)
	}
	return f.Merge()
}

// Merge applies the additions on top of the built-in tables.
func (f TablesFile) Merge() (*Tables, error) {
	if len(f.Claude.Allow) > 0 {
		return nil, fmt.Errorf("lane %s is unrestricted and takes no allow patterns", WriteEnabled)
	}

	codex, err := Compile(
		append(append([]string{}, ReadOnlyAllowed...), f.Codex.Allow...),
		append(append([]string{}, ReadOnlyDenied...), f.Codex.Deny...),
		false,
	)
	if err != nil {
		return nil, fmt.Errorf("lane %s: %w", ReadOnly, err)
	}

	claude, err := Compile(nil, f.Claude.Deny, true)
	if err != nil {
		return nil, fmt.Errorf("lane %s: %w", WriteEnabled, err)
	}

	return NewTables(codex, claude)
}
