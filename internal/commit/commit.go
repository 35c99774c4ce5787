package commit

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

// #region commitment
// Size is the byte width of a Commitment.
const Size = 32

// Commitment binds a survey without revealing it.
type Commitment [Size]byte

var (
	ErrCommitmentMismatch = errors.New("commitment mismatch")
	ErrUnknownBinder      = errors.New("unknown commitment binder")
	ErrInvalidCommitment  = errors.New("invalid commitment encoding")
)

// Hex returns the lowercase hex encoding.
func (c Commitment) Hex() string {
	return hex.EncodeToString(c[:])
}

func (c Commitment) String() string {
	return c.Hex()
}

// Equal compares in constant time.
func (c Commitment) Equal(o Commitment) bool {
	return subtle.ConstantTimeCompare(c[:], o[:]) == 1
}

// ParseCommitment decodes 64 hex characters, with or without a 0x prefix.
func ParseCommitment(s string) (Commitment, error) {
	var c Commitment
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != Size {
		return c, fmt.Errorf("%w: %q", ErrInvalidCommitment, s)
	}
	copy(c[:], b)
	return c, nil
}

func (c Commitment) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Hex())
}

func (c *Commitment) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}
	v, err := ParseCommitment(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// #endregion commitment

// #region binder
// Binder is the binding function from a survey to its commitment.
type Binder interface {
	Name() string
	Bind(vector.Survey) Commitment
}

// ByName resolves a configured binder.
func ByName(name string) (Binder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", MiMCName:
		return MiMC{}, nil
	case KeccakName:
		return Keccak{}, nil
	case SumName:
		return Sum{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBinder, name)
	}
}

// #endregion binder

// #region verify
// Verify recomputes the commitment of responses and compares it with c.
func Verify(b Binder, responses vector.Survey, c Commitment) error {
	got := b.Bind(responses)
	if !got.Equal(c) {
		return fmt.Errorf("%w: %s binder", ErrCommitmentMismatch, b.Name())
	}
	return nil
}

// #endregion verify
