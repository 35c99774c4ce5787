// Package proofrec packages a dispatch call as the canonical evidence object
// handed to the proving backend.
//
// The canonical encoding is encoding/json over the structs below: field order
// is fixed by declaration, there are no maps, Fixed values are decimal
// strings, and 32-byte values are lowercase hex. Two evaluators that agree on
// every value therefore produce byte-identical records.
package proofrec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/txn"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

// Operation names, as routed by the dispatcher.
const (
	OpComputeAndStoreScore = "computeAndStoreScore"
	OpVerifyScore          = "verifyScore"
	OpUpdateModelHash      = "updateModelHash"
)

// #region types
// Record is immutable once returned by the dispatcher.
type Record struct {
	Operation  string         `json:"operation"`
	Input      Input          `json:"input"`
	Output     Output         `json:"output"`
	Transcript txn.Transcript `json:"transcript"`
}

// Input carries the invocation arguments. Admin signatures are never stored.
type Input struct {
	Binder        string             `json:"binder,omitempty"`
	Identity      *ledger.Identity   `json:"identity,omitempty"`
	Weights       *vector.Weights    `json:"weights,omitempty"`
	Bias          *vector.Fixed      `json:"bias,omitempty"`
	Responses     *vector.Survey     `json:"responses,omitempty"`
	Features      *vector.Features   `json:"features,omitempty"`
	Commitment    *commit.Commitment `json:"commitment,omitempty"`
	ExpectedScore *int               `json:"expected_score,omitempty"`
	ModelHash     *ledger.ModelHash  `json:"model_hash,omitempty"`

	// Raw holds arguments that could not be decoded into the fields above.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Output is the result of the call, or its failure.
type Output struct {
	Score     *uint8            `json:"score,omitempty"`
	Entry     *ledger.Entry     `json:"entry,omitempty"`
	Verified  *bool             `json:"verified,omitempty"`
	ModelHash *ledger.ModelHash `json:"model_hash,omitempty"`
	Failure   *Failure          `json:"failure,omitempty"`
}

// Failure is the typed reason a call was rejected.
type Failure struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Failed reports whether the call was rejected.
func (r Record) Failed() bool { return r.Output.Failure != nil }

// #endregion types

// #region encoding
// Encode returns the canonical JSON bytes of r.
func Encode(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return b, nil
}

// Decode parses canonical JSON back into a Record.
func Decode(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// Hash is "sha256:" followed by the hex digest of the canonical encoding.
func Hash(r Record) (string, error) {
	b, err := Encode(r)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes hashes an already canonical encoding.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// #endregion encoding

// #region struct
// ToStruct converts r to a protobuf Struct for gRPC transport.
func ToStruct(r Record) (*structpb.Struct, error) {
	b, err := Encode(r)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("record to struct: %w", err)
	}
	return s, nil
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (Record, error) {
	b, err := protojson.Marshal(s)
	if err != nil {
		return Record{}, fmt.Errorf("struct to record: %w", err)
	}
	return Decode(b)
}

// #endregion struct
