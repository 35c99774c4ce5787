// Package circuit expresses the score computation and commitment check as a
// gnark constraint system over BN254. A satisfied assignment is exactly what
// an external prover needs to produce a proof for a ledger update.
package circuit

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/score"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

// #region circuit
// ScoreCircuit proves that Score is the rounded score of the private inputs
// and that Commitment is the MiMC commitment of the private responses.
type ScoreCircuit struct {
	Commitment frontend.Variable `gnark:",public"`
	Score      frontend.Variable `gnark:",public"`

	Responses [vector.SurveyLen]frontend.Variable
	Features  [vector.FeatureLen]frontend.Variable
	Weights   [vector.WeightLen]frontend.Variable
	Bias      frontend.Variable
	Remainder frontend.Variable
}

// Define declares the constraints.
func (c *ScoreCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Responses[:]...)
	api.AssertIsEqual(h.Sum(), c.Commitment)

	for i := range c.Responses {
		api.AssertIsLessOrEqual(api.Sub(c.Responses[i], vector.MinResponse), vector.MaxResponse-vector.MinResponse)
	}

	acc := api.Mul(c.Bias, vector.FixedScale)
	for i := 0; i < vector.SurveyLen; i++ {
		acc = api.Add(acc, api.Mul(api.Mul(c.Responses[i], vector.FixedScale), c.Weights[i]))
	}
	for j := 0; j < vector.FeatureLen; j++ {
		acc = api.Add(acc, api.Mul(c.Features[j], c.Weights[vector.SurveyLen+j]))
	}

	// round half up: acc + S²/2 = Score*S² + Remainder, 0 <= Remainder < S²
	shifted := api.Add(acc, score.AccScale/2)
	api.AssertIsEqual(shifted, api.Add(api.Mul(c.Score, score.AccScale), c.Remainder))
	api.AssertIsLessOrEqual(c.Score, score.MaxScore)
	api.AssertIsLessOrEqual(c.Remainder, score.AccScale-1)
	return nil
}

// #endregion circuit
