// Package signing derives per-lane keys and computes HMAC-SHA256 signatures.
//
// EnvKeyProvider derives keys deterministically from the lane name and an
// environment tag. That is acceptable for a demonstration trust boundary
// only; production deployments plug a KMS-backed KeyProvider in instead.
// Either way there is exactly one key per lane, and no lane key can be
// derived from the other lane's key.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/ppiankov/dualane/internal/lane"
)

// DefaultEnvironment is used when DUALANE_ENV is unset.
const DefaultEnvironment = "development"

// ErrUnknownLane is returned when a key is requested for an unknown lane.
var ErrUnknownLane = errors.New("signing: unknown lane")

// KeyProvider returns the signing key for a lane.
type KeyProvider interface {
	DeriveKey(l lane.Lane) ([]byte, error)
}

// EnvKeyProvider derives SHA-256("dual-lane-" + lane + "-" + environment).
type EnvKeyProvider struct {
	Environment string
}

// EnvironmentFromEnv returns DUALANE_ENV, or DefaultEnvironment.
func EnvironmentFromEnv() string {
	if env := os.Getenv("DUALANE_ENV"); env != "" {
		return env
	}
	return DefaultEnvironment
}

// DeriveKey implements KeyProvider.
func (p EnvKeyProvider) DeriveKey(l lane.Lane) ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLane, l)
	}
	env := p.Environment
	if env == "" {
		env = DefaultEnvironment
	}
	sum := sha256.Sum256([]byte("dual-lane-" + string(l) + "-" + env))
	return sum[:], nil
}

// Signer computes and verifies lane-keyed HMACs.
type Signer struct {
	keys KeyProvider
}

// NewSigner returns a Signer backed by keys. A nil provider falls back to
// EnvKeyProvider with the environment from DUALANE_ENV.
func NewSigner(keys KeyProvider) *Signer {
	if keys == nil {
		keys = EnvKeyProvider{Environment: EnvironmentFromEnv()}
	}
	return &Signer{keys: keys}
}

// Sign returns the hex HMAC-SHA256 of payload under the lane key.
func (s *Signer) Sign(payload []byte, l lane.Lane) (string, error) {
	mac, err := s.mac(payload, l)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(mac), nil
}

// Verify recomputes the HMAC and compares it in constant time.
// Any failure, including a key derivation error or malformed hex, is false.
func (s *Signer) Verify(payload []byte, l lane.Lane, hmacHex string) bool {
	got, err := hex.DecodeString(hmacHex)
	if err != nil {
		return false
	}
	want, err := s.mac(payload, l)
	if err != nil {
		return false
	}
	return hmac.Equal(got, want)
}

func (s *Signer) mac(payload []byte, l lane.Lane) ([]byte, error) {
	key, err := s.keys.DeriveKey(l)
	if err != nil {
		return nil, fmt.Errorf("signing: derive key for %s: %w", l, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing: empty key for %s", l)
	}
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return h.Sum(nil), nil
}

// SHA256Hex returns the hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
