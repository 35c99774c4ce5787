// Package dispatch is the only public entry surface of the ledger engine. It
// routes a named operation through commitment verification, score evaluation
// and the ledger, inside one transaction, and returns a proof record for every
// call.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/auth"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/circuit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/score"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/txn"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

// Evaluator modes.
const (
	ModePlain   = "plain"
	ModeCircuit = "circuit"
)

// Outcomes reported to the Observer.
const (
	OutcomeCommit = "commit"
	OutcomeRead   = "read"
)

// #region types
// Evaluator turns inputs into a score. Both implementations must agree on
// every value they return.
type Evaluator interface {
	Name() string
	Evaluate(in score.Inputs, c commit.Commitment) (score.Result, error)
}

// PlainEvaluator runs the arithmetic directly.
type PlainEvaluator struct{}

func (PlainEvaluator) Name() string { return ModePlain }

func (PlainEvaluator) Evaluate(in score.Inputs, _ commit.Commitment) (score.Result, error) {
	return score.Evaluate(in)
}

// Observer receives one call per invocation. Outcome is OutcomeCommit,
// OutcomeRead or a failure Kind.
type Observer interface {
	Observe(op, outcome string, elapsed time.Duration)
}

// Options configures a Dispatcher. Zero values select the MiMC binder, the
// plain evaluator, a verifier that denies every admin call, and the default
// slog logger.
type Options struct {
	Binder     commit.Binder
	Mode       string
	Evaluator  Evaluator
	Authorizer auth.Verifier
	Logger     *slog.Logger
	Observer   Observer
}

// ScoreArgs are the arguments of computeAndStoreScore.
type ScoreArgs struct {
	Identity   ledger.Identity   `json:"identity"`
	Weights    vector.Weights    `json:"weights"`
	Bias       vector.Fixed      `json:"bias"`
	Responses  vector.Survey     `json:"responses"`
	Features   vector.Features   `json:"features"`
	Commitment commit.Commitment `json:"commitment"`
}

// VerifyArgs are the arguments of verifyScore.
type VerifyArgs struct {
	Identity      ledger.Identity `json:"identity"`
	ExpectedScore int             `json:"expected_score"`
}

// ModelHashArgs are the arguments of updateModelHash.
type ModelHashArgs struct {
	NewHash    ledger.ModelHash `json:"new_hash"`
	AdminProof auth.AdminProof  `json:"admin_proof"`
}

// Dispatcher is safe for concurrent use. Calls for distinct identities run in
// parallel; calls for the same identity are serialized.
type Dispatcher struct {
	store   ledger.Store
	locks   ledger.Locks
	modelMu sync.Mutex

	binder commit.Binder
	eval   Evaluator
	authz  auth.Verifier
	log    *slog.Logger
	obs    Observer
}

// #endregion types

// #region constructor
// New builds a dispatcher over store.
func New(store ledger.Store, opts Options) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("dispatch: nil store")
	}
	d := &Dispatcher{
		store:  store,
		binder: opts.Binder,
		eval:   opts.Evaluator,
		authz:  opts.Authorizer,
		log:    opts.Logger,
		obs:    opts.Observer,
	}
	if d.binder == nil {
		d.binder = commit.MiMC{}
	}
	if d.authz == nil {
		d.authz = auth.DenyAll{}
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	d.log = d.log.With("component", "dispatch")

	if d.eval == nil {
		switch opts.Mode {
		case "", ModePlain:
			d.eval = PlainEvaluator{}
		case ModeCircuit:
			d.eval = circuit.NewEvaluator()
		default:
			return nil, fmt.Errorf("dispatch: unknown evaluator mode %q", opts.Mode)
		}
	}
	if d.eval.Name() == ModeCircuit && d.binder.Name() != commit.MiMCName {
		return nil, fmt.Errorf("dispatch: circuit evaluator requires the %s binder, got %s", commit.MiMCName, d.binder.Name())
	}
	return d, nil
}

// Binder returns the configured commitment binder.
func (d *Dispatcher) Binder() commit.Binder { return d.binder }

// Mode returns the evaluator name.
func (d *Dispatcher) Mode() string { return d.eval.Name() }

// #endregion constructor

// #region compute
// ComputeAndStoreScore verifies the commitment, evaluates the score and
// stores (score, commitment) for the identity.
func (d *Dispatcher) ComputeAndStoreScore(args ScoreArgs) (ledger.Entry, proofrec.Record, error) {
	const op = proofrec.OpComputeAndStoreScore
	start := time.Now()
	rec := proofrec.Record{Operation: op, Input: scoreInput(d.binder.Name(), args), Transcript: emptyTranscript()}

	if _, err := vector.NewSurvey(args.Responses[:]); err != nil {
		return ledger.Entry{}, rec, d.reject(&rec, start, err)
	}

	unlock := d.locks.Lock(args.Identity)
	defer unlock()

	tx := txn.Begin(d.store)
	log := d.log.With("op", op, "tx", tx.ID(), "identity", args.Identity.Hex())

	if _, err := tx.Get(args.Identity); err != nil {
		return ledger.Entry{}, rec, d.fail(&rec, tx, log, start, KindInternal, err)
	}
	if err := commit.Verify(d.binder, args.Responses, args.Commitment); err != nil {
		return ledger.Entry{}, rec, d.fail(&rec, tx, log, start, KindCommitmentMismatch, err)
	}

	in := score.Inputs{Weights: args.Weights, Bias: args.Bias, Responses: args.Responses, Features: args.Features}
	res, err := d.eval.Evaluate(in, args.Commitment)
	if err != nil {
		return ledger.Entry{}, rec, d.fail(&rec, tx, log, start, classify(err), err)
	}

	entry, err := tx.Apply(args.Identity, res.Score, args.Commitment)
	if err != nil {
		return ledger.Entry{}, rec, d.fail(&rec, tx, log, start, KindInternal, err)
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, rec, d.fail(&rec, tx, log, start, KindInternal, err)
	}

	s := res.Score
	rec.Output = proofrec.Output{Score: &s, Entry: &entry}
	rec.Transcript = tx.Transcript()
	log.Info("score stored", "score", res.Score, "evaluator", d.eval.Name())
	d.observe(op, OutcomeCommit, start)
	return entry, rec, nil
}

// #endregion compute

// #region verify
// VerifyScore reports whether the stored score for id equals expected. A
// VACANT identity yields false, not an error.
func (d *Dispatcher) VerifyScore(args VerifyArgs) (bool, proofrec.Record, error) {
	const op = proofrec.OpVerifyScore
	start := time.Now()
	exp := args.ExpectedScore
	id := args.Identity
	rec := proofrec.Record{
		Operation:  op,
		Input:      proofrec.Input{Identity: &id, ExpectedScore: &exp},
		Transcript: emptyTranscript(),
	}

	tx := txn.Begin(d.store)
	log := d.log.With("op", op, "tx", tx.ID(), "identity", id.Hex())
	entry, err := tx.Get(id)
	if err != nil {
		return false, rec, d.fail(&rec, tx, log, start, KindInternal, err)
	}
	tx.Abort()

	ok := entry.Occupied() && exp >= score.MinScore && exp <= score.MaxScore && int(*entry.Score) == exp
	rec.Output = proofrec.Output{Verified: &ok}
	rec.Transcript = tx.Transcript()
	log.Debug("score verified", "verified", ok)
	d.observe(op, OutcomeRead, start)
	return ok, rec, nil
}

// #endregion verify

// #region model-hash
// UpdateModelHash replaces the model hash singleton after checking the admin
// proof against (operation, previous hash, new hash).
func (d *Dispatcher) UpdateModelHash(args ModelHashArgs) (proofrec.Record, error) {
	const op = proofrec.OpUpdateModelHash
	start := time.Now()
	nh := args.NewHash
	rec := proofrec.Record{Operation: op, Input: proofrec.Input{ModelHash: &nh}, Transcript: emptyTranscript()}

	d.modelMu.Lock()
	defer d.modelMu.Unlock()

	tx := txn.Begin(d.store)
	log := d.log.With("op", op, "tx", tx.ID())

	prev, version, err := tx.Model()
	if err != nil {
		return rec, d.fail(&rec, tx, log, start, KindInternal, err)
	}
	payload := auth.Payload{Operation: op, PreviousHash: prev, NewHash: nh, Version: version + 1}
	if err := d.authz.Verify(payload, args.AdminProof); err != nil {
		return rec, d.fail(&rec, tx, log, start, KindUnauthorized, err)
	}
	if err := tx.SetModelHash(nh); err != nil {
		return rec, d.fail(&rec, tx, log, start, KindInternal, err)
	}
	if err := tx.Commit(); err != nil {
		return rec, d.fail(&rec, tx, log, start, KindInternal, err)
	}

	rec.Output = proofrec.Output{ModelHash: &nh}
	rec.Transcript = tx.Transcript()
	log.Info("model hash updated", "previous", prev.Hex(), "new", nh.Hex(), "version", payload.Version, "key_id", args.AdminProof.KeyID)
	d.observe(op, OutcomeCommit, start)
	return rec, nil
}

// #endregion model-hash

// #region failure
// fail aborts tx and fills the failure output. tx may be nil for calls
// rejected before a transaction opened.
func (d *Dispatcher) fail(rec *proofrec.Record, tx *txn.Context, log *slog.Logger, start time.Time, kind Kind, err error) error {
	if tx != nil {
		tx.Abort()
		rec.Transcript = tx.Transcript()
	}
	rec.Output = proofrec.Output{Failure: &proofrec.Failure{Kind: string(kind), Reason: err.Error()}}
	log.Warn("invocation rejected", "kind", string(kind), "error", err)
	d.observe(rec.Operation, string(kind), start)
	return &Error{Kind: kind, Op: rec.Operation, Err: err}
}

// reject is fail for calls that never reached the ledger.
func (d *Dispatcher) reject(rec *proofrec.Record, start time.Time, err error) error {
	return d.fail(rec, nil, d.log.With("op", rec.Operation), start, classify(err), err)
}

func (d *Dispatcher) observe(op, outcome string, start time.Time) {
	if d.obs != nil {
		d.obs.Observe(op, outcome, time.Since(start))
	}
}

// #endregion failure

func scoreInput(binder string, a ScoreArgs) proofrec.Input {
	id, w, b, r, f, c := a.Identity, a.Weights, a.Bias, a.Responses, a.Features, a.Commitment
	return proofrec.Input{
		Binder: binder, Identity: &id, Weights: &w, Bias: &b,
		Responses: &r, Features: &f, Commitment: &c,
	}
}

func emptyTranscript() txn.Transcript {
	return txn.Transcript{Guaranteed: []txn.Op{}, Fallible: []txn.Op{}}
}
