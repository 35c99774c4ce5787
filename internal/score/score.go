package score

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

// #region constants
const (
	MinScore = 0
	MaxScore = 100

	// AccScale is the scale of the accumulator: every term is a product of two Fixed values.
	AccScale = vector.FixedScale * vector.FixedScale

	// half implements round-half-up when dividing by AccScale.
	half = AccScale / 2
)

// #endregion constants

// #region types
// Inputs is the private argument set of one score evaluation.
type Inputs struct {
	Weights   vector.Weights  `json:"weights"`
	Bias      vector.Fixed    `json:"bias"`
	Responses vector.Survey   `json:"responses"`
	Features  vector.Features `json:"features"`
}

// Result is the score plus the witness values a constraint system needs to
// re-derive it.
type Result struct {
	Score     uint8
	Quotient  *big.Int
	Remainder *big.Int
}

// RangeError is returned when the rounded score falls outside [MinScore, MaxScore].
type RangeError struct {
	// Value is the exact unrounded score, as a decimal.
	Value string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("score %s outside [%d,%d]", e.Value, MinScore, MaxScore)
}

// #endregion types

// #region compute
// Compute returns the bounded score for the given weights, bias, responses and features.
func Compute(weights vector.Weights, bias vector.Fixed, responses vector.Survey, features vector.Features) (uint8, error) {
	res, err := Evaluate(Inputs{Weights: weights, Bias: bias, Responses: responses, Features: features})
	if err != nil {
		return 0, err
	}
	return res.Score, nil
}

// Evaluate computes
//
//	bias*S + Σ (responses[i]*S)*weights[i] + Σ features[j]*weights[50+j]
//
// exactly in the BN254 scalar field, then rounds half up to a whole score.
// Anything that does not round into [0,100] is rejected, never clamped.
func Evaluate(in Inputs) (Result, error) {
	q, r, acc := decompose(in)
	if q.Cmp(big.NewInt(MaxScore)) > 0 {
		return Result{}, &RangeError{Value: signedDecimal(acc)}
	}
	return Result{Score: uint8(q.Uint64()), Quotient: q, Remainder: r}, nil
}

// Decompose returns the raw (quotient, remainder) of the shifted accumulator
// without asserting the score range. A constraint system given these values is
// satisfied exactly when Evaluate succeeds.
func Decompose(in Inputs) (quotient, remainder *big.Int) {
	q, r, _ := decompose(in)
	return q, r
}

// Accumulate returns acc as a field element, left to right in index order.
func Accumulate(in Inputs) fr.Element {
	var acc, s, term, x, w fr.Element
	s.SetUint64(vector.FixedScale)

	acc.SetInt64(int64(in.Bias))
	acc.Mul(&acc, &s)

	for i := 0; i < vector.SurveyLen; i++ {
		x.SetInt64(in.Responses[i])
		x.Mul(&x, &s)
		w.SetInt64(int64(in.Weights[i]))
		term.Mul(&x, &w)
		acc.Add(&acc, &term)
	}
	for j := 0; j < vector.FeatureLen; j++ {
		x.SetInt64(int64(in.Features[j]))
		w.SetInt64(int64(in.Weights[vector.SurveyLen+j]))
		term.Mul(&x, &w)
		acc.Add(&acc, &term)
	}
	return acc
}

func decompose(in Inputs) (q, r *big.Int, acc fr.Element) {
	acc = Accumulate(in)

	var shifted, h fr.Element
	h.SetUint64(half)
	shifted.Add(&acc, &h)

	v := shifted.BigInt(new(big.Int))
	q, r = new(big.Int).QuoRem(v, big.NewInt(AccScale), new(big.Int))
	return q, r, acc
}

// #endregion compute

// #region helpers
// signedDecimal renders acc/AccScale, treating field values above p/2 as negative.
func signedDecimal(acc fr.Element) string {
	v := acc.BigInt(new(big.Int))
	mod := fr.Modulus()
	if v.Cmp(new(big.Int).Rsh(mod, 1)) > 0 {
		v.Sub(v, mod)
	}
	sign := ""
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}
	q, r := new(big.Int).QuoRem(v, big.NewInt(AccScale), new(big.Int))
	return fmt.Sprintf("%s%s.%08d", sign, q.String(), r.Uint64())
}

// #endregion helpers
