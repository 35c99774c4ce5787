package circuit

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/score"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

// helper: uniform 0.02 weights, bias 50, all-ones survey, 0.5 features.
func referenceInputs(t *testing.T) score.Inputs {
	t.Helper()
	w, err := vector.NewWeights(vector.Fill(vector.WeightLen, vector.MustFixed("0.02")))
	if err != nil {
		t.Fatalf("NewWeights: %v", err)
	}
	s, err := vector.NewSurvey(vector.Fill(vector.SurveyLen, int64(1)))
	if err != nil {
		t.Fatalf("NewSurvey: %v", err)
	}
	f, err := vector.NewFeatures(vector.Fill(vector.FeatureLen, vector.MustFixed("0.5")))
	if err != nil {
		t.Fatalf("NewFeatures: %v", err)
	}
	return score.Inputs{Weights: w, Bias: vector.MustFixed("50"), Responses: s, Features: f}
}

func TestCircuitSolvedByReferenceWitness(t *testing.T) {
	in := referenceInputs(t)
	c := commit.MiMC{}.Bind(in.Responses)
	q, r := score.Decompose(in)

	assignment, err := Assign(in, c, q, r)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := test.IsSolved(&ScoreCircuit{}, assignment, ecc.BN254.ScalarField()); err != nil {
		t.Fatalf("expected solved: %v", err)
	}
}

func TestCircuitRejectsWrongScore(t *testing.T) {
	in := referenceInputs(t)
	c := commit.MiMC{}.Bind(in.Responses)
	q, r := score.Decompose(in)

	assignment, err := Assign(in, c, q, r)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	assignment.Score = 52
	if err := test.IsSolved(&ScoreCircuit{}, assignment, ecc.BN254.ScalarField()); err == nil {
		t.Fatal("expected unsatisfied for score 52")
	}
}

func TestCircuitRejectsForeignCommitment(t *testing.T) {
	in := referenceInputs(t)
	q, r := score.Decompose(in)

	// Keccak commitments are not re-derivable inside the circuit
	c := commit.Keccak{}.Bind(in.Responses)
	c[0] = 0 // keep it a canonical field element
	assignment, err := Assign(in, c, q, r)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := test.IsSolved(&ScoreCircuit{}, assignment, ecc.BN254.ScalarField()); err == nil {
		t.Fatal("expected unsatisfied for foreign commitment")
	}
}

func TestEvaluatorMatchesPlain(t *testing.T) {
	ev := NewEvaluator()
	in := referenceInputs(t)
	c := commit.MiMC{}.Bind(in.Responses)

	got, err := ev.Evaluate(in, c)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Score != 51 {
		t.Fatalf("expected 51, got %d", got.Score)
	}
	if got.Remainder.Int64() != 54_000_000 {
		t.Fatalf("expected remainder 54000000, got %s", got.Remainder)
	}
	if ev.NbConstraints() == 0 {
		t.Fatal("expected a compiled constraint system")
	}
}

func TestEvaluatorRangeErrorMatchesPlain(t *testing.T) {
	ev := NewEvaluator()
	in := referenceInputs(t)
	in.Bias = vector.MustFixed("-100")
	c := commit.MiMC{}.Bind(in.Responses)

	_, err := ev.Evaluate(in, c)
	var re *score.RangeError
	if !errors.As(err, &re) {
		t.Fatalf("expected RangeError, got %v", err)
	}
	_, plainErr := score.Evaluate(in)
	if plainErr == nil || plainErr.Error() != err.Error() {
		t.Fatalf("circuit %q vs plain %q", err, plainErr)
	}
}

func TestEvaluatorCommitmentMismatchUnsatisfied(t *testing.T) {
	ev := NewEvaluator()
	in := referenceInputs(t)
	other := in.Responses
	other[7] = 2

	_, err := ev.Evaluate(in, commit.MiMC{}.Bind(other))
	if !errors.Is(err, ErrUnsatisfied) {
		t.Fatalf("expected ErrUnsatisfied, got %v", err)
	}
}

func TestEvaluatorAgreesWithPlainOnRandomInputs(t *testing.T) {
	if testing.Short() {
		t.Skip("compiles and solves the circuit repeatedly")
	}
	ev := NewEvaluator()
	rng := rand.New(rand.NewSource(11))

	for n := 0; n < 25; n++ {
		in := referenceInputs(t)
		for i := range in.Responses {
			in.Responses[i] = int64(rng.Intn(5) + 1)
		}
		for k := range in.Weights {
			in.Weights[k] = vector.Fixed(rng.Int63n(801) - 400)
		}
		in.Bias = vector.Fixed(rng.Int63n(1_000_001) - 200_000)
		c := commit.MiMC{}.Bind(in.Responses)

		want, plainErr := score.Evaluate(in)
		got, err := ev.Evaluate(in, c)
		if (plainErr == nil) != (err == nil) {
			t.Fatalf("case %d: plain err %v, circuit err %v", n, plainErr, err)
		}
		if err == nil && got.Score != want.Score {
			t.Fatalf("case %d: plain %d, circuit %d", n, want.Score, got.Score)
		}
	}
}
