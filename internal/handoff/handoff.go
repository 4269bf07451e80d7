// Package handoff persists the signed records that move a patch from the
// read-only lane to the write-enabled lane.
package handoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/dualane/internal/artifact"
	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/fsutil"
	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/secctx"
)

// StatusReady is the only status this package ever writes.
const StatusReady = "ready"

// FilePrefix and FileSuffix frame handoff file names.
const (
	FilePrefix = "handoff-"
	FileSuffix = ".json"
)

// ErrNotFound reports a handoff id with no file.
var ErrNotFound = errors.New("handoff: not found")

var validID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// validateID rejects ids that could escape the store directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

// Artifacts is everything the write-enabled lane needs to verify before
// applying a patch.
type Artifacts struct {
	artifact.Files
	Signature secctx.ArtifactSignature `json:"signature"`
	Context   secctx.SecurityContext   `json:"context"`
}

// Handoff is one lane-to-lane transition.
type Handoff struct {
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	FromLane  lane.Lane `json:"from_lane"`
	ToLane    lane.Lane `json:"to_lane"`
	Artifacts Artifacts `json:"artifacts"`
	Status    string    `json:"status"`
	Signature string    `json:"signature,omitempty"`
}

// payload serializes the handoff with the signature field absent.
func (h Handoff) payload() ([]byte, error) {
	h.Signature = ""
	return json.Marshal(h)
}

// Sign seals h with the sending lane's key. Any later edit to the record,
// including a recomputed combined hash, breaks the seal.
func Sign(m *secctx.Manager, h *Handoff) error {
	payload, err := h.payload()
	if err != nil {
		return fmt.Errorf("handoff: encode: %w", err)
	}
	sig, err := m.SignRecord(h.FromLane, payload)
	if err != nil {
		return fmt.Errorf("handoff: sign: %w", err)
	}
	h.Signature = sig
	return nil
}

// New builds a ready handoff from l to its peer lane.
func New(from lane.Lane, artifacts Artifacts, now time.Time) (*Handoff, error) {
	if from.Peer() == "" {
		return nil, fmt.Errorf("handoff: unknown lane %q", from)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("handoff: generate id: %w", err)
	}
	return &Handoff{
		ID:        id.String(),
		Timestamp: now.UTC().Format(audit.TimestampFormat),
		FromLane:  from,
		ToLane:    from.Peer(),
		Artifacts: artifacts,
		Status:    StatusReady,
	}, nil
}

// FileName returns handoff-<id>.json.
func FileName(id string) string {
	return FilePrefix + id + FileSuffix
}

// IDFromFileName extracts the id from a handoff file name.
func IDFromFileName(name string) (string, bool) {
	name = filepath.Base(name)
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileSuffix)
	if validateID(id) != nil {
		return "", false
	}
	return id, true
}

// Store manages handoff files in one directory. Files are write-once.
type Store struct {
	dir string
}

// NewStore creates a Store backed by dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("handoff: create directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path for id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, FileName(id))
}

// Save writes h atomically and returns its path. An existing handoff with
// the same id is never replaced.
func (s *Store) Save(h *Handoff) (string, error) {
	if err := validateID(h.ID); err != nil {
		return "", fmt.Errorf("handoff: invalid id: %w", err)
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return "", fmt.Errorf("handoff: encode: %w", err)
	}
	path := s.Path(h.ID)
	if err := fsutil.WriteFileExclusive(path, data, 0644); err != nil {
		return "", fmt.Errorf("handoff: write %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// Load reads a handoff by id.
func (s *Store) Load(id string) (*Handoff, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("handoff: invalid id: %w", err)
	}
	h, err := ReadFile(s.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return h, err
}

// ReadFile decodes a handoff file. Malformed JSON is an error; nothing
// is inferred from a partial read.
func ReadFile(path string) (*Handoff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("handoff: read: %w", err)
	}
	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("handoff: decode %s: %w", filepath.Base(path), err)
	}
	return &h, nil
}

// List returns every readable handoff, oldest first. Unreadable files are
// skipped.
func (s *Store) List() ([]Handoff, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Handoff
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := IDFromFileName(e.Name())
		if !ok {
			continue
		}
		h, err := ReadFile(s.Path(id))
		if err != nil {
			continue
		}
		out = append(out, *h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}
