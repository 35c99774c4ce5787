package commit

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

const (
	MiMCName   = "mimc"
	KeccakName = "keccak"
	SumName    = "sum"
)

// #region mimc
// MiMC hashes the responses as BN254 scalar field elements. It is the only
// binder the score circuit can re-derive.
type MiMC struct{}

func (MiMC) Name() string { return MiMCName }

func (MiMC) Bind(s vector.Survey) Commitment {
	h := mimc.NewMiMC()
	var e fr.Element
	for _, r := range s {
		e.SetInt64(r)
		b := e.Bytes()
		// one canonical 32-byte block per element; cannot fail
		_, _ = h.Write(b[:])
	}
	var c Commitment
	copy(c[:], h.Sum(nil))
	return c
}

// #endregion mimc

// #region keccak
var keccakTag = []byte("psychescore/survey/v1")

// Keccak hashes a domain tag followed by each response as a big-endian uint64.
type Keccak struct{}

func (Keccak) Name() string { return KeccakName }

func (Keccak) Bind(s vector.Survey) Commitment {
	h := sha3.NewLegacyKeccak256()
	h.Write(keccakTag)
	var buf [8]byte
	for _, r := range s {
		binary.BigEndian.PutUint64(buf[:], uint64(r))
		h.Write(buf[:])
	}
	var c Commitment
	copy(c[:], h.Sum(nil))
	return c
}

// #endregion keccak

// #region sum
// Sum is the legacy response-sum placeholder, encoded as a 256-bit big-endian
// integer. It is not collision resistant: any permutation of the responses
// binds to the same value.
type Sum struct{}

func (Sum) Name() string { return SumName }

func (Sum) Bind(s vector.Survey) Commitment {
	total := new(uint256.Int)
	for _, r := range s {
		total.AddUint64(total, uint64(r))
	}
	return Commitment(total.Bytes32())
}

// SumCommitment encodes a plain integer the way the Sum binder does.
func SumCommitment(v uint64) Commitment {
	return Commitment(uint256.NewInt(v).Bytes32())
}

// #endregion sum
