package ledger

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
)

var (
	ErrInvalidIdentity  = errors.New("invalid identity encoding")
	ErrInvalidModelHash = errors.New("invalid model hash encoding")
	ErrScoreOutOfRange  = errors.New("stored score must be in [0,100]")
	ErrMalformedEntry   = errors.New("malformed ledger entry")
)

// MaxStoredScore bounds every committed entry.
const MaxStoredScore = 100

// #region identity
// Identity is the opaque 32-byte key of a participant.
type Identity [32]byte

// IdentityFromAddress derives an identity as keccak256 of the wallet address.
// Hex addresses are lowercased first so checksummed and plain forms agree.
func IdentityFromAddress(addr string) Identity {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		addr = "0x" + strings.ToLower(addr[2:])
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(addr))
	var id Identity
	copy(id[:], h.Sum(nil))
	return id
}

func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if err := decode32(s, id[:]); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return id, nil
}

func (id Identity) Hex() string    { return hex.EncodeToString(id[:]) }
func (id Identity) String() string { return id.Hex() }

func (id Identity) MarshalJSON() ([]byte, error) { return json.Marshal(id.Hex()) }

func (id *Identity) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	v, err := ParseIdentity(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// #endregion identity

// #region model-hash
// ModelHash identifies the weight model currently accepted by the ledger.
type ModelHash [32]byte

func ParseModelHash(s string) (ModelHash, error) {
	var m ModelHash
	if err := decode32(s, m[:]); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidModelHash, err)
	}
	return m, nil
}

func (m ModelHash) Hex() string    { return hex.EncodeToString(m[:]) }
func (m ModelHash) String() string { return m.Hex() }

func (m ModelHash) MarshalJSON() ([]byte, error) { return json.Marshal(m.Hex()) }

func (m *ModelHash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModelHash, err)
	}
	v, err := ParseModelHash(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func decode32(s string, dst []byte) error {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("got %d bytes, want %d", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

// #endregion model-hash

// #region entry
// Status is the per-identity ledger state.
type Status uint8

const (
	Vacant Status = iota
	Occupied
)

func (s Status) String() string {
	if s == Occupied {
		return "OCCUPIED"
	}
	return "VACANT"
}

func (s Status) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Status) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v {
	case "VACANT":
		*s = Vacant
	case "OCCUPIED":
		*s = Occupied
	default:
		return fmt.Errorf("unknown ledger status %q", v)
	}
	return nil
}

// Entry is what the ledger retains for one identity: the score and the
// commitment that produced it, nothing else.
type Entry struct {
	Status     Status             `json:"status"`
	Score      *uint8             `json:"score,omitempty"`
	Commitment *commit.Commitment `json:"commitment,omitempty"`
}

// VacantEntry is the default for identities never written.
func VacantEntry() Entry { return Entry{Status: Vacant} }

// OccupiedEntry builds a written entry. The score is not range checked here.
func OccupiedEntry(score uint8, c commit.Commitment) Entry {
	s := score
	cc := c
	return Entry{Status: Occupied, Score: &s, Commitment: &cc}
}

func (e Entry) Occupied() bool { return e.Status == Occupied }

// Validate checks that status and fields agree: an OCCUPIED entry carries a
// score in range and a commitment, a VACANT one carries neither.
func (e Entry) Validate() error {
	switch e.Status {
	case Occupied:
		if e.Score == nil || e.Commitment == nil {
			return fmt.Errorf("%w: OCCUPIED entry without score or commitment", ErrMalformedEntry)
		}
		if err := checkScore(*e.Score); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
		}
	case Vacant:
		if e.Score != nil || e.Commitment != nil {
			return fmt.Errorf("%w: VACANT entry with score or commitment", ErrMalformedEntry)
		}
	default:
		return fmt.Errorf("%w: status %d", ErrMalformedEntry, e.Status)
	}
	return nil
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	type wire Entry
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	if err := Entry(w).Validate(); err != nil {
		return err
	}
	*e = Entry(w)
	return nil
}

// Clone returns an entry that shares no pointers with e.
func (e Entry) Clone() Entry {
	if !e.Occupied() {
		return VacantEntry()
	}
	return OccupiedEntry(*e.Score, *e.Commitment)
}

// Equal compares status, score and commitment.
func (e Entry) Equal(o Entry) bool {
	if e.Status != o.Status {
		return false
	}
	if !e.Occupied() {
		return true
	}
	return *e.Score == *o.Score && e.Commitment.Equal(*o.Commitment)
}

func checkScore(score uint8) error {
	if score > MaxStoredScore {
		return fmt.Errorf("%w: got %d", ErrScoreOutOfRange, score)
	}
	return nil
}

// #endregion entry

// #region state
// State is an explicit ledger value: entries plus the model hash singleton
// and the number of times it has been set.
type State struct {
	Entries      map[Identity]Entry
	ModelHash    ModelHash
	ModelVersion uint64
}

// Clone deep-copies the state.
func (s State) Clone() State {
	out := State{Entries: make(map[Identity]Entry, len(s.Entries)), ModelHash: s.ModelHash, ModelVersion: s.ModelVersion}
	for id, e := range s.Entries {
		out.Entries[id] = e.Clone()
	}
	return out
}

// #endregion state
