// Package forward hands finished proof records to the audit log, the proving
// backend and the relay. It runs after the ledger write and never undoes it.
package forward

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/logging"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/prover"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/relay"
)

// ProofGenerator is satisfied by *prover.Client.
type ProofGenerator interface {
	GenerateProof(ctx context.Context, rec proofrec.Record) (prover.Proof, error)
}

// RecordPublisher is satisfied by *relay.Relay.
type RecordPublisher interface {
	Publish(env relay.Envelope) error
}

// Forwarder is safe for concurrent use. Any of its sinks may be nil.
type Forwarder struct {
	db     *sql.DB
	prover ProofGenerator
	relay  RecordPublisher
	log    *slog.Logger
}

func New(db *sql.DB, p ProofGenerator, r RecordPublisher, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{db: db, prover: p, relay: r, log: log.With("component", "forward")}
}

// Decision classifies a record for the audit log.
func Decision(rec proofrec.Record) string {
	switch {
	case rec.Failed():
		return logging.DecisionReject
	case rec.Operation == proofrec.OpVerifyScore:
		return logging.DecisionRead
	default:
		return logging.DecisionCommit
	}
}

// Forward logs rec, requests a proof for committed writes, and publishes the
// envelope. It returns the joined errors of the sinks that failed.
func (f *Forwarder) Forward(ctx context.Context, rec proofrec.Record) error {
	b, err := proofrec.Encode(rec)
	if err != nil {
		return err
	}
	hash := proofrec.HashBytes(b)
	decision := Decision(rec)
	id := uuid.New().String()
	log := f.log.With("forward_id", id, "op", rec.Operation, "record_hash", hash)

	var errs []error
	if f.db != nil {
		entry := logging.InvocationEntry{
			TxID:       id,
			Operation:  rec.Operation,
			Decision:   decision,
			RecordHash: hash,
			RecordJSON: string(b),
		}
		if rec.Input.Identity != nil {
			entry.Identity = rec.Input.Identity.Hex()
		}
		if rec.Failed() {
			entry.Reason = rec.Output.Failure.Kind + ": " + rec.Output.Failure.Reason
		}
		if err := logging.LogInvocation(f.db, entry); err != nil {
			errs = append(errs, err)
		}
	}

	var proof *prover.Proof
	if f.prover != nil && decision == logging.DecisionCommit {
		p, err := f.prover.GenerateProof(ctx, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("prove: %w", err))
		} else {
			proof = &p
		}
	}

	if f.relay != nil && decision == logging.DecisionCommit {
		if err := f.relay.Publish(relay.Envelope{RecordHash: hash, Record: b, Proof: proof}); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		log.Error("forward failed", "error", err)
		return err
	}
	log.Debug("record forwarded", "decision", decision, "proved", proof != nil)
	return nil
}
