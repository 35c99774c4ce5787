package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

// Required argument keys per operation, in the order they are checked.
var (
	scoreFields     = []string{"identity", "weights", "bias", "responses", "features", "commitment"}
	verifyFields    = []string{"identity", "expected_score"}
	modelHashFields = []string{"new_hash", "admin_proof"}
)

// vectorLens maps the vector arguments to their fixed lengths. A missing
// vector is reported as a zero-length one.
var vectorLens = map[string]int{
	"weights":   vector.WeightLen,
	"responses": vector.SurveyLen,
	"features":  vector.FeatureLen,
}

// Invoke routes a named operation with JSON arguments. Argument decoding
// failures, including wrong-length vectors, are shape errors and still
// produce a record.
func (d *Dispatcher) Invoke(op string, raw []byte) (proofrec.Record, error) {
	switch op {
	case proofrec.OpComputeAndStoreScore:
		var args ScoreArgs
		if err := decodeArgs(raw, &args, scoreFields); err != nil {
			return d.rejectRaw(op, raw, err)
		}
		_, rec, err := d.ComputeAndStoreScore(args)
		return rec, err

	case proofrec.OpVerifyScore:
		var args VerifyArgs
		if err := decodeArgs(raw, &args, verifyFields); err != nil {
			return d.rejectRaw(op, raw, err)
		}
		_, rec, err := d.VerifyScore(args)
		return rec, err

	case proofrec.OpUpdateModelHash:
		var args ModelHashArgs
		if err := decodeArgs(raw, &args, modelHashFields); err != nil {
			return d.rejectRaw(op, raw, err)
		}
		return d.UpdateModelHash(args)

	default:
		return d.rejectRaw(op, raw, fmt.Errorf("%w: %q", ErrUnknownOperation, op))
	}
}

// decodeArgs decodes a single JSON object into v. Every key in required must
// be present and non-null; absent keys would otherwise decode as zero values.
func decodeArgs(raw []byte, v any, required []string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedArgs, err)
	}
	for _, name := range required {
		f, ok := fields[name]
		if ok && !bytes.Equal(bytes.TrimSpace(f), []byte("null")) {
			continue
		}
		if want, isVector := vectorLens[name]; isVector {
			return &vector.ShapeError{Field: name, Want: want, Got: 0}
		}
		return fmt.Errorf("%w: missing %q", ErrMalformedArgs, name)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		// typed failures from the vector codecs keep their identity
		if classify(err) == KindShape {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMalformedArgs, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after arguments", ErrMalformedArgs)
	}
	return nil
}

func (d *Dispatcher) rejectRaw(op string, raw []byte, err error) (proofrec.Record, error) {
	rec := proofrec.Record{Operation: op, Transcript: emptyTranscript()}
	if json.Valid(raw) {
		rec.Input.Raw = append(json.RawMessage(nil), raw...)
	}
	return rec, d.reject(&rec, time.Now(), err)
}
