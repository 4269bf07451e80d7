package artifact

import (
	"bufio"
	"strings"
)

// SBOMFormat identifies the SBOM document layout.
const SBOMFormat = "dualane-sbom/v1"

// Component is one file touched by a patch.
type Component struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Version string `json:"version"`
}

// SBOM lists the files a patch touches.
type SBOM struct {
	Format      string      `json:"format"`
	Task        string      `json:"task"`
	GeneratedAt string      `json:"generated_at"`
	Components  []Component `json:"components"`
}

// TouchedFiles extracts the unique paths named by "--- a/<path>" markers,
// in order of first appearance. A file created by the patch ("--- /dev/null")
// is named by the following "+++ b/<path>" marker. Text that is not a
// unified diff yields an empty list.
func TouchedFiles(patch string) []string {
	seen := make(map[string]bool)
	paths := []string{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	created := false
	scanner := bufio.NewScanner(strings.NewReader(patch))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "--- "):
			name := markerPath(line[4:])
			created = name == "/dev/null"
			if p, ok := strings.CutPrefix(name, "a/"); ok {
				add(p)
			}
		case strings.HasPrefix(line, "+++ "):
			if created {
				if p, ok := strings.CutPrefix(markerPath(line[4:]), "b/"); ok {
					add(p)
				}
			}
			created = false
		}
	}
	return paths
}

// markerPath drops the optional tab-separated timestamp diff -u appends.
func markerPath(s string) string {
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func buildSBOM(patch, task, generatedAt string) SBOM {
	files := TouchedFiles(patch)
	components := make([]Component, 0, len(files))
	for _, f := range files {
		components = append(components, Component{Name: f, Type: "file", Version: "modified"})
	}
	return SBOM{
		Format:      SBOMFormat,
		Task:        task,
		GeneratedAt: generatedAt,
		Components:  components,
	}
}
