// Package auth gates administrative ledger operations behind Ed25519
// signatures from configured admin keys.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidKey   = errors.New("invalid admin key")
)

// #region types
// AdminProof is the caller's authorization for one administrative call.
type AdminProof struct {
	KeyID     string `json:"key_id"`
	Signature []byte `json:"signature"`
}

// Payload is what an admin signs. Version is the model version the update
// produces, one past the current one; it only grows, so a signature verifies
// for exactly one update even if the hash later returns to PreviousHash.
type Payload struct {
	Operation    string           `json:"operation"`
	PreviousHash ledger.ModelHash `json:"previous_hash"`
	NewHash      ledger.ModelHash `json:"new_hash"`
	Version      uint64           `json:"version"`
}

// Digest is the SHA-256 of the payload's canonical JSON.
func (p Payload) Digest() [32]byte {
	b, _ := json.Marshal(p)
	return sha256.Sum256(b)
}

// Verifier authorizes administrative payloads.
type Verifier interface {
	Verify(p Payload, proof AdminProof) error
}

// #endregion types

// #region ed25519
// Ed25519Verifier checks signatures against a fixed set of admin keys.
type Ed25519Verifier struct {
	keys map[string]ed25519.PublicKey
}

// NewEd25519Verifier takes key id → base64 public key.
func NewEd25519Verifier(keys map[string]string) (*Ed25519Verifier, error) {
	v := &Ed25519Verifier{keys: make(map[string]ed25519.PublicKey, len(keys))}
	for id, enc := range keys {
		pub, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: key %q", ErrInvalidKey, id)
		}
		v.keys[id] = ed25519.PublicKey(pub)
	}
	return v, nil
}

func (v *Ed25519Verifier) Verify(p Payload, proof AdminProof) error {
	pub, ok := v.keys[proof.KeyID]
	if !ok {
		return fmt.Errorf("%w: unknown key %q", ErrUnauthorized, proof.KeyID)
	}
	d := p.Digest()
	if !ed25519.Verify(pub, d[:], proof.Signature) {
		return fmt.Errorf("%w: bad signature for key %q", ErrUnauthorized, proof.KeyID)
	}
	return nil
}

// #endregion ed25519

// #region signing
// Sign produces an AdminProof for p.
func Sign(priv ed25519.PrivateKey, keyID string, p Payload) AdminProof {
	d := p.Digest()
	return AdminProof{KeyID: keyID, Signature: ed25519.Sign(priv, d[:])}
}

// GenerateKey returns a fresh key pair with the public half base64 encoded,
// in the form the config file expects.
func GenerateKey() (string, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), priv, nil
}

// #endregion signing

// DenyAll rejects every administrative call. It is the verifier used when no
// admin keys are configured.
type DenyAll struct{}

func (DenyAll) Verify(Payload, AdminProof) error {
	return fmt.Errorf("%w: no admin keys configured", ErrUnauthorized)
}
