package replay

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/dispatch"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/txn"
)

// #region types
// Outcomes of replaying one record under one evaluator.
const (
	OutcomeMatch    = "match"
	OutcomeMismatch = "mismatch"
	OutcomeSkipped  = "skipped"
)

// ReplayConfig selects the evaluators a replay runs under. Circuit may be nil,
// in which case only the plain evaluator is used.
type ReplayConfig struct {
	DefaultBinder string
	Circuit       dispatch.Evaluator
}

// DefaultReplayConfig replays under the plain evaluator with the MiMC binder.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{DefaultBinder: commit.MiMCName}
}

// ReplayResult is the outcome of re-executing one record under one evaluator.
type ReplayResult struct {
	Index      int
	Operation  string
	Mode       string
	Outcome    string
	Reason     string
	RecordHash string
	ReplayHash string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Total      int
	Matches    int
	Mismatches int
	Skipped    int
}

// #endregion types

// #region replay
// Replay re-executes each record against a ledger seeded from its own
// guaranteed reads and compares the canonical encodings. Operates entirely
// in-memory.
func Replay(records []proofrec.Record, config ReplayConfig) []ReplayResult {
	evals := []dispatch.Evaluator{dispatch.PlainEvaluator{}}
	if config.Circuit != nil {
		evals = append(evals, config.Circuit)
	}

	results := make([]ReplayResult, 0, len(records)*len(evals))
	for i, rec := range records {
		hash, err := proofrec.Hash(rec)
		if err != nil {
			results = append(results, ReplayResult{Index: i, Operation: rec.Operation, Outcome: OutcomeSkipped, Reason: err.Error()})
			continue
		}
		for _, ev := range evals {
			r := replayOne(rec, ev, config)
			r.Index, r.Operation, r.Mode, r.RecordHash = i, rec.Operation, ev.Name(), hash
			results = append(results, r)
		}
	}
	return results
}

func replayOne(rec proofrec.Record, ev dispatch.Evaluator, config ReplayConfig) ReplayResult {
	if rec.Operation == proofrec.OpUpdateModelHash {
		return ReplayResult{Outcome: OutcomeSkipped, Reason: "admin signatures are not recorded"}
	}

	binderName := rec.Input.Binder
	if binderName == "" {
		binderName = config.DefaultBinder
	}
	binder, err := commit.ByName(binderName)
	if err != nil {
		return ReplayResult{Outcome: OutcomeSkipped, Reason: err.Error()}
	}
	if ev.Name() == dispatch.ModeCircuit && binder.Name() != commit.MiMCName {
		return ReplayResult{Outcome: OutcomeSkipped, Reason: "circuit replay needs the " + commit.MiMCName + " binder"}
	}

	seed, err := Seed(rec.Transcript)
	if err != nil {
		return ReplayResult{Outcome: OutcomeMismatch, Reason: "transcript: " + err.Error()}
	}
	d, err := dispatch.New(seed, dispatch.Options{
		Binder:    binder,
		Mode:      ev.Name(),
		Evaluator: ev,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		return ReplayResult{Outcome: OutcomeSkipped, Reason: err.Error()}
	}

	got, ok := rerun(d, rec)
	if !ok {
		return ReplayResult{Outcome: OutcomeSkipped, Reason: "arguments not recorded"}
	}
	want, _ := proofrec.Encode(rec)
	have, err := proofrec.Encode(got)
	if err != nil {
		return ReplayResult{Outcome: OutcomeMismatch, Reason: err.Error()}
	}
	r := ReplayResult{ReplayHash: proofrec.HashBytes(have)}
	if bytes.Equal(want, have) {
		r.Outcome = OutcomeMatch
	} else {
		r.Outcome = OutcomeMismatch
		r.Reason = fmt.Sprintf("replayed record differs (replay failure=%v)", got.Failed())
	}
	return r
}

// rerun repeats the call described by rec. It reports false when the record
// does not carry enough input to repeat it.
func rerun(d *dispatch.Dispatcher, rec proofrec.Record) (proofrec.Record, bool) {
	in := rec.Input
	if len(in.Raw) > 0 {
		got, _ := d.Invoke(rec.Operation, in.Raw)
		return got, true
	}

	switch rec.Operation {
	case proofrec.OpComputeAndStoreScore:
		if in.Identity == nil || in.Weights == nil || in.Bias == nil || in.Responses == nil || in.Features == nil || in.Commitment == nil {
			return proofrec.Record{}, false
		}
		_, got, _ := d.ComputeAndStoreScore(dispatch.ScoreArgs{
			Identity:   *in.Identity,
			Weights:    *in.Weights,
			Bias:       *in.Bias,
			Responses:  *in.Responses,
			Features:   *in.Features,
			Commitment: *in.Commitment,
		})
		return got, true

	case proofrec.OpVerifyScore:
		if in.Identity == nil || in.ExpectedScore == nil {
			return proofrec.Record{}, false
		}
		_, got, _ := d.VerifyScore(dispatch.VerifyArgs{Identity: *in.Identity, ExpectedScore: *in.ExpectedScore})
		return got, true
	}
	return proofrec.Record{}, false
}

// Seed rebuilds the ledger state a record observed from its guaranteed reads.
// A read that is incomplete or inconsistent is an error.
func Seed(t txn.Transcript) (*ledger.MemStore, error) {
	st := ledger.State{Entries: make(map[ledger.Identity]ledger.Entry)}
	for i, op := range t.Guaranteed {
		switch op.Kind {
		case txn.KindGet:
			if op.Identity == nil || op.Entry == nil {
				return nil, fmt.Errorf("guaranteed op %d: get without identity or entry", i)
			}
			if err := op.Entry.Validate(); err != nil {
				return nil, fmt.Errorf("guaranteed op %d: %w", i, err)
			}
			st.Entries[*op.Identity] = op.Entry.Clone()
		case txn.KindGetModelHash:
			if op.ModelHash == nil {
				return nil, fmt.Errorf("guaranteed op %d: get_model_hash without hash", i)
			}
			st.ModelHash = *op.ModelHash
			if op.ModelVersion != nil {
				st.ModelVersion = *op.ModelVersion
			}
		default:
			return nil, fmt.Errorf("guaranteed op %d: unexpected kind %q", i, op.Kind)
		}
	}
	return ledger.NewMemStoreFrom(st), nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeMatch:
			s.Matches++
		case OutcomeMismatch:
			s.Mismatches++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	return s
}

// #endregion replay
