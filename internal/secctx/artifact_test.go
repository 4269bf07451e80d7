package secctx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ppiankov/dualane/internal/audit"
	"github.com/ppiankov/dualane/internal/lane"
)

const testPatch = `--- a/src/a.js
+++ b/src/a.js
@@ -1,3 +1,4 @@
 function f(x) {
+  if (x == null) return;
   return x.y;
 }
`

func TestSignArtifactContentHash(t *testing.T) {
	m, _ := newTestManager(t)
	sig, err := m.SignArtifact(lane.ReadOnly, "t.patch", []byte(testPatch))
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256([]byte(testPatch))
	if sig.ContentHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("content hash %s does not match sha256 of patch", sig.ContentHash)
	}
	if sig.Signer != "dual-lane/codex" || sig.HMAC == "" {
		t.Fatalf("unexpected signature %+v", sig)
	}
	if !m.VerifyArtifact(sig, []byte(testPatch)) {
		t.Fatal("expected untouched artifact to verify")
	}
}

func TestVerifyArtifactDetectsSingleByteTamper(t *testing.T) {
	m, _ := newTestManager(t)
	content := []byte(testPatch)
	sig, _ := m.SignArtifact(lane.ReadOnly, "t.patch", content)

	for _, i := range []int{0, len(content) / 2, len(content) - 1} {
		tampered := append([]byte{}, content...)
		tampered[i] ^= 0x20
		if m.VerifyArtifact(sig, tampered) {
			t.Fatalf("tamper at byte %d verified", i)
		}
	}
}

func TestVerifyArtifactDetectsMetadataTamper(t *testing.T) {
	m, _ := newTestManager(t)
	content := []byte(testPatch)
	sig, _ := m.SignArtifact(lane.ReadOnly, "t.patch", content)

	renamed := sig
	renamed.FileName = "other.patch"
	if m.VerifyArtifact(renamed, content) {
		t.Fatal("renamed artifact must fail")
	}

	relaned := sig
	relaned.Lane = lane.WriteEnabled
	relaned.Signer = SignerName(lane.WriteEnabled)
	if m.VerifyArtifact(relaned, content) {
		t.Fatal("artifact relabelled to another lane must fail")
	}

	rehashed := sig
	rehashed.ContentHash = strings.Repeat("0", 64)
	if m.VerifyArtifact(rehashed, content) {
		t.Fatal("rewritten content hash must fail")
	}
}

func TestArtifactSignaturePayloadOmitsHMAC(t *testing.T) {
	m, _ := newTestManager(t)
	sig, _ := m.SignArtifact(lane.ReadOnly, "t.patch", []byte("x"))

	payload, err := sig.payload()
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	json.Unmarshal(payload, &fields)
	if _, ok := fields["hmac"]; ok {
		t.Fatal("hmac must be absent from the signed payload")
	}
	if len(fields) != 5 {
		t.Fatalf("expected 5 signed fields, got %d", len(fields))
	}
}

func TestVerifyArtifactRoundTripsThroughJSON(t *testing.T) {
	m, _ := newTestManager(t)
	sig, _ := m.SignArtifact(lane.ReadOnly, "t.patch", []byte(testPatch))

	data, _ := json.Marshal(sig)
	var decoded ArtifactSignature
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !m.VerifyArtifact(decoded, []byte(testPatch)) {
		t.Fatal("signature must survive a JSON round trip")
	}
}

func TestRecordSignatureBindsLaneAndBytes(t *testing.T) {
	m, sink := newTestManager(t)
	payload := []byte(`{"id":"h1","status":"ready"}`)
	sig, err := m.SignRecord(lane.ReadOnly, payload)
	if err != nil {
		t.Fatal(err)
	}
	if !m.VerifyRecord(lane.ReadOnly, "h1", payload, sig) {
		t.Fatal("expected record to verify")
	}
	if m.VerifyRecord(lane.WriteEnabled, "h1", payload, sig) {
		t.Fatal("record signed by codex must not verify under the claude key")
	}
	if m.VerifyRecord(lane.ReadOnly, "h1", []byte(`{"id":"h1","status":"done"}`), sig) {
		t.Fatal("modified record must not verify")
	}
	if m.VerifyRecord(lane.ReadOnly, "h1", payload, "") {
		t.Fatal("empty signature must not verify")
	}
	if _, err := m.SignRecord(lane.Lane("root"), payload); err == nil {
		t.Fatal("expected unknown lane to be rejected")
	}

	var verifies, failures int
	for _, e := range sink.Entries() {
		if e.Event == audit.EventHandoffVerify {
			verifies++
			if !e.Success {
				failures++
			}
		}
	}
	if verifies != 4 || failures != 3 {
		t.Fatalf("expected 4 audited verifications with 3 failures, got %d/%d", verifies, failures)
	}
}
