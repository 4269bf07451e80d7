package audit

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/dualane/internal/fsutil"
)

// WriteSnapshot writes entries as a JSON array to path via a temp file
// and rename, so readers never observe a partial file. An empty entry
// list is written as [].
func WriteSnapshot(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("audit: marshal snapshot: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0600)
}

// ReadSnapshot parses a snapshot written by WriteSnapshot.
func ReadSnapshot(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read snapshot: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("audit: parse snapshot %s: %w", path, err)
	}
	return entries, nil
}
