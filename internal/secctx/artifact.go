package secctx

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/lane"
	"github.com/ppiankov/dualane/internal/signing"
)

// ArtifactSignature binds an artifact's content hash to the lane that
// produced it.
type ArtifactSignature struct {
	Lane        lane.Lane `json:"lane"`
	FileName    string    `json:"file_name"`
	ContentHash string    `json:"content_hash"`
	Timestamp   string    `json:"timestamp"`
	Signer      string    `json:"signer"`
	HMAC        string    `json:"hmac,omitempty"`
}

// payload serializes the signature with the hmac field absent.
func (s ArtifactSignature) payload() ([]byte, error) {
	s.HMAC = ""
	return json.Marshal(s)
}

// SignerName is the signer recorded for a lane.
func SignerName(l lane.Lane) string {
	return "dual-lane/" + string(l)
}

// SignArtifact hashes content and signs the resulting metadata with the
// lane key.
func (m *Manager) SignArtifact(l lane.Lane, fileName string, content []byte) (ArtifactSignature, error) {
	if !l.Valid() {
		return ArtifactSignature{}, fmt.Errorf("secctx: unknown lane %q", l)
	}
	sig := ArtifactSignature{
		Lane:        l,
		FileName:    fileName,
		ContentHash: signing.SHA256Hex(content),
		Timestamp:   m.timestamp(),
		Signer:      SignerName(l),
	}
	payload, err := sig.payload()
	if err != nil {
		return ArtifactSignature{}, fmt.Errorf("secctx: encode artifact signature: %w", err)
	}
	sig.HMAC, err = m.signer.Sign(payload, l)
	if err != nil {
		return ArtifactSignature{}, fmt.Errorf("secctx: sign artifact: %w", err)
	}
	return sig, nil
}

// VerifyArtifact recomputes the content hash from content and the hmac
// from the signature's other fields. Any mismatch is an integrity failure.
func (m *Manager) VerifyArtifact(sig ArtifactSignature, content []byte) bool {
	ok, reason := m.verifyArtifact(sig, content)
	m.record(audit.Entry{
		Event:     audit.EventArtifactVerify,
		Lane:      string(sig.Lane),
		Operation: sig.FileName,
		Success:   ok,
		Reason:    reason,
	})
	if !ok {
		m.logger.Error("artifact verification failed", "file", sig.FileName, "reason", reason)
	}
	return ok
}

func (m *Manager) verifyArtifact(sig ArtifactSignature, content []byte) (bool, string) {
	if !sig.Lane.Valid() {
		return false, "unknown lane"
	}
	if sig.Signer != SignerName(sig.Lane) {
		return false, "signer does not match lane"
	}
	actual := signing.SHA256Hex(content)
	if subtle.ConstantTimeCompare([]byte(actual), []byte(sig.ContentHash)) != 1 {
		return false, "content hash mismatch"
	}
	payload, err := sig.payload()
	if err != nil {
		return false, "encode signature: " + err.Error()
	}
	if !m.signer.Verify(payload, sig.Lane, sig.HMAC) {
		return false, "hmac mismatch"
	}
	return true, "signature valid"
}

// SignRecord signs an already-serialized record with the lane key.
func (m *Manager) SignRecord(l lane.Lane, payload []byte) (string, error) {
	if !l.Valid() {
		return "", fmt.Errorf("secctx: unknown lane %q", l)
	}
	sig, err := m.signer.Sign(payload, l)
	if err != nil {
		return "", fmt.Errorf("secctx: sign record: %w", err)
	}
	return sig, nil
}

// VerifyRecord checks a SignRecord signature and audits the outcome under
// name.
func (m *Manager) VerifyRecord(l lane.Lane, name string, payload []byte, sig string) bool {
	ok := l.Valid() && sig != "" && m.signer.Verify(payload, l, sig)
	reason := "signature valid"
	if !ok {
		reason = "hmac mismatch"
		m.logger.Error("record verification failed", "record", name, "lane", l)
	}
	m.record(audit.Entry{
		Event:     audit.EventHandoffVerify,
		Lane:      string(l),
		Operation: name,
		Success:   ok,
		Reason:    reason,
	})
	return ok
}
