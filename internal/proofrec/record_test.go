package proofrec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/txn"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

func sampleRecord(t *testing.T) Record {
	t.Helper()
	w, _ := vector.NewWeights(vector.Fill(vector.WeightLen, vector.MustFixed("0.02")))
	s, _ := vector.NewSurvey(vector.Fill(vector.SurveyLen, int64(1)))
	f, _ := vector.NewFeatures(vector.Fill(vector.FeatureLen, vector.MustFixed("0.5")))
	bias := vector.MustFixed("50")
	id := ledger.IdentityFromAddress("0xa11ce")
	c := commit.SumCommitment(50)

	tx := txn.Begin(ledger.NewMemStore())
	tx.Get(id)
	entry, err := tx.Apply(id, 51, c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	score := uint8(51)
	return Record{
		Operation: OpComputeAndStoreScore,
		Input: Input{
			Binder: "sum", Identity: &id, Weights: &w, Bias: &bias,
			Responses: &s, Features: &f, Commitment: &c,
		},
		Output:     Output{Score: &score, Entry: &entry},
		Transcript: tx.Transcript(),
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(sampleRecord(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, _ := Encode(sampleRecord(t))
	if !bytes.Equal(a, b) {
		t.Fatalf("encodings differ:\n%s\n%s", a, b)
	}
	if !bytes.Contains(a, []byte(`"bias":"50.0000"`)) {
		t.Fatalf("fixed values must encode as decimal strings: %s", a)
	}
	if !bytes.HasPrefix(a, []byte(`{"operation":"computeAndStoreScore","input":`)) {
		t.Fatalf("unexpected field order: %.80s", a)
	}
}

func TestHashFormat(t *testing.T) {
	h, err := Hash(sampleRecord(t))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "sha256:") || len(h) != len("sha256:")+64 {
		t.Fatalf("unexpected hash %q", h)
	}
}

func TestStructRoundTripPreservesEncoding(t *testing.T) {
	rec := sampleRecord(t)
	want, _ := Encode(rec)

	s, err := ToStruct(rec)
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	back, err := FromStruct(s)
	if err != nil {
		t.Fatalf("FromStruct: %v", err)
	}
	got, _ := Encode(back)
	if !bytes.Equal(want, got) {
		t.Fatalf("encoding changed across Struct:\n%s\n%s", want, got)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	rec := sampleRecord(t)
	rec.Output = Output{Failure: &Failure{Kind: "range", Reason: "score -40.00000000 outside [0,100]"}}
	rec.Transcript.Fallible = []txn.Op{}

	b, _ := Encode(rec)
	back, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !back.Failed() || back.Output.Failure.Kind != "range" {
		t.Fatalf("failure lost: %+v", back.Output)
	}
	again, _ := Encode(back)
	if !bytes.Equal(b, again) {
		t.Fatal("decode/encode not stable")
	}
}
