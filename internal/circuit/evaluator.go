package circuit

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/score"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

var (
	ErrUnsatisfied = errors.New("circuit: constraints not satisfied")
	ErrDivergence  = errors.New("circuit: constraint system and plain evaluator disagree")
)

// #region evaluator
// Evaluator runs invocations through the compiled constraint system.
type Evaluator struct {
	once sync.Once
	ccs  constraint.ConstraintSystem
	err  error
}

// NewEvaluator returns an evaluator; compilation happens on first use.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Name identifies the evaluator in proof records and logs.
func (e *Evaluator) Name() string { return "circuit" }

// Compile builds the R1CS once. Safe to call repeatedly.
func (e *Evaluator) Compile() error {
	e.once.Do(func() {
		e.ccs, e.err = frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &ScoreCircuit{})
		if e.err != nil {
			e.err = fmt.Errorf("compile score circuit: %w", e.err)
		}
	})
	return e.err
}

// NbConstraints reports the compiled size, or 0 before compilation.
func (e *Evaluator) NbConstraints() int {
	if e.Compile() != nil {
		return 0
	}
	return e.ccs.GetNbConstraints()
}

// Evaluate builds the full witness for in and c and checks it against the
// constraint system. The returned Result equals score.Evaluate's on success.
func (e *Evaluator) Evaluate(in score.Inputs, c commit.Commitment) (score.Result, error) {
	if err := e.Compile(); err != nil {
		return score.Result{}, err
	}

	q, r := score.Decompose(in)
	assignment, err := Assign(in, c, q, r)
	if err != nil {
		return score.Result{}, err
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return score.Result{}, fmt.Errorf("build witness: %w", err)
	}

	solveErr := e.ccs.IsSolved(w)
	plain, plainErr := score.Evaluate(in)

	if solveErr != nil {
		var re *score.RangeError
		if errors.As(plainErr, &re) {
			return score.Result{}, plainErr
		}
		return score.Result{}, fmt.Errorf("%w: %v", ErrUnsatisfied, solveErr)
	}
	if plainErr != nil || plain.Quotient.Cmp(q) != 0 || plain.Remainder.Cmp(r) != 0 {
		return score.Result{}, fmt.Errorf("%w: plain=%v", ErrDivergence, plainErr)
	}
	return score.Result{Score: uint8(q.Uint64()), Quotient: q, Remainder: r}, nil
}

// #endregion evaluator

// #region assignment
// Assign fills a ScoreCircuit witness. Signed values are reduced into the
// field the same way the plain evaluator reduces them.
func Assign(in score.Inputs, c commit.Commitment, quotient, remainder *big.Int) (*ScoreCircuit, error) {
	com := new(big.Int).SetBytes(c[:])
	if com.Cmp(fr.Modulus()) >= 0 {
		return nil, fmt.Errorf("%w: commitment is not a canonical field element", ErrUnsatisfied)
	}

	a := &ScoreCircuit{
		Commitment: com,
		Score:      new(big.Int).Set(quotient),
		Bias:       fieldInt(int64(in.Bias)),
		Remainder:  new(big.Int).Set(remainder),
	}
	for i := 0; i < vector.SurveyLen; i++ {
		a.Responses[i] = fieldInt(in.Responses[i])
	}
	for j := 0; j < vector.FeatureLen; j++ {
		a.Features[j] = fieldInt(int64(in.Features[j]))
	}
	for k := 0; k < vector.WeightLen; k++ {
		a.Weights[k] = fieldInt(int64(in.Weights[k]))
	}
	return a, nil
}

func fieldInt(v int64) *big.Int {
	var e fr.Element
	e.SetInt64(v)
	return e.BigInt(new(big.Int))
}

// #endregion assignment
