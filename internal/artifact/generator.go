// Package artifact packages a read-only lane patch into a signed bundle:
// the patch itself, an SBOM of touched files, and a provenance
// attestation, tied together by one combined hash.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/fsutil"
	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/secctx"
	"github.com/ppiankov/dualane/internal/signing"
)

// ErrCombinedHashMismatch reports a bundle whose files changed after
// generation.
var ErrCombinedHashMismatch = errors.New("artifact: combined hash mismatch")

// Files locates a bundle on disk.
type Files struct {
	PatchFile       string `json:"patch_file"`
	SBOMFile        string `json:"sbom_file"`
	AttestationFile string `json:"attestation_file"`
	CombinedHash    string `json:"combined_hash"`
}

// Bundle is the result of Generate.
type Bundle struct {
	ID string `json:"id"`
	Files
	SBOM        SBOM                     `json:"sbom"`
	Attestation Attestation              `json:"attestation"`
	Signature   secctx.ArtifactSignature `json:"signature"`
}

// Generator writes bundles into one artifact directory.
type Generator struct {
	dir     string
	manager *secctx.Manager
	now     func() time.Time
}

// NewGenerator creates a Generator that signs with manager.
func NewGenerator(dir string, manager *secctx.Manager) *Generator {
	return &Generator{dir: dir, manager: manager, now: time.Now}
}

// Dir returns the artifact directory.
func (g *Generator) Dir() string { return g.dir }

// Generate writes <id>.patch, <id>.sbom.json and <id>.attestation.json,
// computes the combined hash over the bytes written, and signs the patch
// with the read-only lane key. The patch is written verbatim. Ids carry a
// random suffix and existing files are never replaced, so equal patches
// generated in the same second land in separate bundles.
func (g *Generator) Generate(patch, task string) (*Bundle, error) {
	now := g.now().UTC()
	stamp := now.Format(audit.TimestampFormat)
	patchBytes := []byte(patch)
	patchHash := signing.SHA256Hex(patchBytes)
	nonce, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("artifact: generate id: %w", err)
	}
	id := "task-" + now.Format("20060102T150405Z") + "-" + patchHash[:12] + "-" + nonce.String()[:8]

	files := Files{
		PatchFile:       filepath.Join(g.dir, id+".patch"),
		SBOMFile:        filepath.Join(g.dir, id+".sbom.json"),
		AttestationFile: filepath.Join(g.dir, id+".attestation.json"),
	}

	sbom := buildSBOM(patch, task, stamp)
	att := buildAttestation(filepath.Base(files.PatchFile), patchHash,
		secctx.SignerName(lane.ReadOnly), task, stamp)

	sbomBytes, err := json.MarshalIndent(sbom, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("artifact: encode sbom: %w", err)
	}
	attBytes, err := json.MarshalIndent(att, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("artifact: encode attestation: %w", err)
	}

	for _, f := range []struct {
		path string
		data []byte
	}{
		{files.PatchFile, patchBytes},
		{files.SBOMFile, sbomBytes},
		{files.AttestationFile, attBytes},
	} {
		if err := fsutil.WriteFileExclusive(f.path, f.data, 0644); err != nil {
			return nil, fmt.Errorf("artifact: write %s: %w", filepath.Base(f.path), err)
		}
	}
	files.CombinedHash = CombinedHash(patchBytes, sbomBytes, attBytes)

	sig, err := g.manager.SignArtifact(lane.ReadOnly, filepath.Base(files.PatchFile), patchBytes)
	if err != nil {
		return nil, fmt.Errorf("artifact: %w", err)
	}

	return &Bundle{
		ID:          id,
		Files:       files,
		SBOM:        sbom,
		Attestation: att,
		Signature:   sig,
	}, nil
}

// CombinedHash is SHA-256 over the concatenated patch, SBOM and
// attestation bytes, hex encoded.
func CombinedHash(patch, sbom, attestation []byte) string {
	h := sha256.New()
	h.Write(patch)
	h.Write(sbom)
	h.Write(attestation)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify re-reads the bundle files and recomputes the combined hash.
func (f Files) Verify() error {
	var parts [3][]byte
	for i, path := range []string{f.PatchFile, f.SBOMFile, f.AttestationFile} {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("artifact: read %s: %w", filepath.Base(path), err)
		}
		parts[i] = data
	}
	actual := CombinedHash(parts[0], parts[1], parts[2])
	if subtle.ConstantTimeCompare([]byte(actual), []byte(f.CombinedHash)) != 1 {
		return ErrCombinedHashMismatch
	}
	return nil
}

// ReadPatch returns the patch bytes exactly as stored.
func (f Files) ReadPatch() ([]byte, error) {
	data, err := os.ReadFile(f.PatchFile)
	if err != nil {
		return nil, fmt.Errorf("artifact: read patch: %w", err)
	}
	return data, nil
}

// ReadSBOM decodes the stored SBOM.
func (f Files) ReadSBOM() (SBOM, error) {
	var sbom SBOM
	data, err := os.ReadFile(f.SBOMFile)
	if err != nil {
		return sbom, fmt.Errorf("artifact: read sbom: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sbom); err != nil {
		return sbom, fmt.Errorf("artifact: decode sbom: %w", err)
	}
	return sbom, nil
}
