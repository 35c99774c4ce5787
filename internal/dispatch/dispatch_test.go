package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/auth"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/circuit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/score"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

// #region helpers
var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// sharedCircuit avoids recompiling the constraint system per test.
var sharedCircuit = circuit.NewEvaluator()

func newDispatcher(t *testing.T, store ledger.Store, opts Options) *Dispatcher {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quiet
	}
	d, err := New(store, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// helper: uniform 0.02 weights, bias 50, all-ones survey, 0.5 features,
// committed with b.
func referenceArgs(t *testing.T, addr string, b commit.Binder) ScoreArgs {
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
	return ScoreArgs{
		Identity:   ledger.IdentityFromAddress(addr),
		Weights:    w,
		Bias:       vector.MustFixed("50"),
		Responses:  s,
		Features:   f,
		Commitment: b.Bind(s),
	}
}

func encode(t *testing.T, rec proofrec.Record) []byte {
	t.Helper()
	b, err := proofrec.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}

type countingObserver struct {
	mu    sync.Mutex
	calls map[string]int
}

func (o *countingObserver) Observe(op, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = make(map[string]int)
	}
	o.calls[op+"/"+outcome]++
}

// #endregion helpers

// #region compute-tests
func TestReferenceExampleStoresScore51(t *testing.T) {
	d := newDispatcher(t, ledger.NewMemStore(), Options{Binder: commit.Sum{}})
	args := referenceArgs(t, "0xa11ce", commit.Sum{})
	if !args.Commitment.Equal(commit.SumCommitment(50)) {
		t.Fatal("expected sum commitment 50")
	}

	entry, rec, err := d.ComputeAndStoreScore(args)
	if err != nil {
		t.Fatalf("ComputeAndStoreScore: %v", err)
	}
	if !entry.Occupied() || *entry.Score != 51 {
		t.Fatalf("expected OCCUPIED score 51, got %+v", entry)
	}
	if rec.Failed() || *rec.Output.Score != 51 {
		t.Fatalf("unexpected output: %+v", rec.Output)
	}
	if len(rec.Transcript.Guaranteed) != 1 || len(rec.Transcript.Fallible) != 1 {
		t.Fatalf("unexpected transcript: %+v", rec.Transcript)
	}

	ok, _, err := d.VerifyScore(VerifyArgs{Identity: args.Identity, ExpectedScore: 51})
	if err != nil || !ok {
		t.Fatalf("VerifyScore(51) = %v, %v", ok, err)
	}
	ok, _, _ = d.VerifyScore(VerifyArgs{Identity: args.Identity, ExpectedScore: 52})
	if ok {
		t.Fatal("VerifyScore(52) must be false")
	}
}

func TestCommitmentMismatchLeavesVacant(t *testing.T) {
	store := ledger.NewMemStore()
	d := newDispatcher(t, store, Options{Binder: commit.Sum{}})
	args := referenceArgs(t, "0xa11ce", commit.Sum{})
	args.Commitment = commit.SumCommitment(49)

	_, rec, err := d.ComputeAndStoreScore(args)
	if KindOf(err) != KindCommitmentMismatch {
		t.Fatalf("expected commitment_mismatch, got %v", err)
	}
	if !errors.Is(err, commit.ErrCommitmentMismatch) {
		t.Fatalf("expected wrapped ErrCommitmentMismatch, got %v", err)
	}
	if !rec.Failed() || rec.Output.Failure.Kind != string(KindCommitmentMismatch) {
		t.Fatalf("record must carry the failure: %+v", rec.Output)
	}
	if len(rec.Transcript.Fallible) != 0 {
		t.Fatalf("fallible transcript must be empty, got %+v", rec.Transcript.Fallible)
	}
	if e, _ := store.Get(args.Identity); e.Occupied() {
		t.Fatalf("ledger changed on mismatch: %+v", e)
	}
}

func TestRangeErrorLeavesPriorEntry(t *testing.T) {
	store := ledger.NewMemStore()
	d := newDispatcher(t, store, Options{Binder: commit.Sum{}})
	args := referenceArgs(t, "0xa11ce", commit.Sum{})
	if _, _, err := d.ComputeAndStoreScore(args); err != nil {
		t.Fatalf("first compute: %v", err)
	}

	args.Bias = vector.MustFixed("-100")
	_, rec, err := d.ComputeAndStoreScore(args)
	if KindOf(err) != KindRange {
		t.Fatalf("expected range, got %v", err)
	}
	var re *score.RangeError
	if !errors.As(err, &re) {
		t.Fatalf("expected *score.RangeError in chain, got %v", err)
	}
	if rec.Output.Failure.Reason != re.Error() {
		t.Fatalf("failure reason %q, want %q", rec.Output.Failure.Reason, re.Error())
	}
	e, _ := store.Get(args.Identity)
	if *e.Score != 51 {
		t.Fatalf("prior entry must survive a rejected re-score, got %d", *e.Score)
	}
}

func TestOutOfScaleResponseIsShapeError(t *testing.T) {
	d := newDispatcher(t, ledger.NewMemStore(), Options{Binder: commit.Sum{}})
	args := referenceArgs(t, "0xa11ce", commit.Sum{})
	args.Responses[3] = 9
	args.Commitment = commit.Sum{}.Bind(args.Responses)

	_, rec, err := d.ComputeAndStoreScore(args)
	if KindOf(err) != KindShape {
		t.Fatalf("expected shape, got %v", err)
	}
	if len(rec.Transcript.Guaranteed) != 0 {
		t.Fatal("shape failures must not touch the ledger")
	}
}

func TestRecordsAreDeterministic(t *testing.T) {
	run := func() []byte {
		d := newDispatcher(t, ledger.NewMemStore(), Options{})
		_, rec, err := d.ComputeAndStoreScore(referenceArgs(t, "0xa11ce", commit.MiMC{}))
		if err != nil {
			t.Fatalf("ComputeAndStoreScore: %v", err)
		}
		return encode(t, rec)
	}
	if a, b := run(), run(); !bytes.Equal(a, b) {
		t.Fatalf("records differ:\n%s\n%s", a, b)
	}
}

// #endregion compute-tests

// #region dual-mode-tests
func TestPlainAndCircuitRecordsIdentical(t *testing.T) {
	cases := map[string]func(*ScoreArgs){
		"accept":   func(*ScoreArgs) {},
		"range":    func(a *ScoreArgs) { a.Bias = vector.MustFixed("-100") },
		"mismatch": func(a *ScoreArgs) { a.Commitment = commit.MiMC{}.Bind(vector.Survey{}) },
		"high":     func(a *ScoreArgs) { a.Bias = vector.MustFixed("150") },
		"edge":     func(a *ScoreArgs) { a.Bias = vector.MustFixed("98.46") },
	}
	for name, mutate := range cases {
		args := referenceArgs(t, "0xa11ce", commit.MiMC{})
		mutate(&args)

		plain := newDispatcher(t, ledger.NewMemStore(), Options{})
		circ := newDispatcher(t, ledger.NewMemStore(), Options{Evaluator: sharedCircuit})
		if circ.Mode() != ModeCircuit {
			t.Fatalf("expected circuit mode, got %s", circ.Mode())
		}

		_, pr, perr := plain.ComputeAndStoreScore(args)
		_, cr, cerr := circ.ComputeAndStoreScore(args)
		if KindOf(perr) != KindOf(cerr) {
			t.Fatalf("%s: plain err %v, circuit err %v", name, perr, cerr)
		}
		if a, b := encode(t, pr), encode(t, cr); !bytes.Equal(a, b) {
			t.Fatalf("%s: records differ:\nplain   %s\ncircuit %s", name, a, b)
		}
	}
}

func TestCircuitModeRequiresMiMC(t *testing.T) {
	if _, err := New(ledger.NewMemStore(), Options{Mode: ModeCircuit, Binder: commit.Keccak{}}); err == nil {
		t.Fatal("expected error for circuit mode with keccak binder")
	}
	if _, err := New(ledger.NewMemStore(), Options{Mode: "quantum"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

// #endregion dual-mode-tests

// #region verify-tests
func TestVerifyScoreVacantIsFalse(t *testing.T) {
	d := newDispatcher(t, ledger.NewMemStore(), Options{})
	ok, rec, err := d.VerifyScore(VerifyArgs{Identity: ledger.IdentityFromAddress("0xnobody"), ExpectedScore: 0})
	if err != nil {
		t.Fatalf("VerifyScore: %v", err)
	}
	if ok || rec.Output.Verified == nil || *rec.Output.Verified {
		t.Fatalf("VACANT identity must verify false: %+v", rec.Output)
	}
	if len(rec.Transcript.Guaranteed) != 1 || len(rec.Transcript.Fallible) != 0 {
		t.Fatalf("verify is a single guaranteed read: %+v", rec.Transcript)
	}
}

func TestVerifyScoreOutOfRangeExpectationIsFalse(t *testing.T) {
	d := newDispatcher(t, ledger.NewMemStore(), Options{Binder: commit.Sum{}})
	args := referenceArgs(t, "0xa11ce", commit.Sum{})
	d.ComputeAndStoreScore(args)
	for _, exp := range []int{-1, 101, 51 + 256} {
		if ok, _, _ := d.VerifyScore(VerifyArgs{Identity: args.Identity, ExpectedScore: exp}); ok {
			t.Fatalf("expected false for %d", exp)
		}
	}
}

// #endregion verify-tests

// #region model-hash-tests
func TestUpdateModelHash(t *testing.T) {
	pub, priv, err := auth.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v, _ := auth.NewEd25519Verifier(map[string]string{"ops": pub})
	store := ledger.NewMemStore()
	d := newDispatcher(t, store, Options{Authorizer: v})

	first := ledger.ModelHash{1}
	proof := auth.Sign(priv, "ops", auth.Payload{Operation: proofrec.OpUpdateModelHash, NewHash: first, Version: 1})
	rec, err := d.UpdateModelHash(ModelHashArgs{NewHash: first, AdminProof: proof})
	if err != nil {
		t.Fatalf("UpdateModelHash: %v", err)
	}
	if got, _ := store.ModelHash(); got != first {
		t.Fatalf("model hash not stored: %s", got)
	}
	if bytes.Contains(encode(t, rec), []byte("signature")) {
		t.Fatal("admin signature must not appear in the record")
	}

	// the same proof no longer matches once the previous hash moved
	if _, err := d.UpdateModelHash(ModelHashArgs{NewHash: first, AdminProof: proof}); KindOf(err) != KindUnauthorized {
		t.Fatalf("expected unauthorized replay, got %v", err)
	}
}

func TestUpdateModelHashRotationBackIsNotReplayable(t *testing.T) {
	pub, priv, err := auth.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v, _ := auth.NewEd25519Verifier(map[string]string{"ops": pub})
	store := ledger.NewMemStore()
	d := newDispatcher(t, store, Options{Authorizer: v})

	a, b := ledger.ModelHash{0xa}, ledger.ModelHash{0xb}
	sign := func(prev, next ledger.ModelHash, version uint64) auth.AdminProof {
		return auth.Sign(priv, "ops", auth.Payload{Operation: proofrec.OpUpdateModelHash, PreviousHash: prev, NewHash: next, Version: version})
	}

	steps := []struct {
		next  ledger.ModelHash
		proof auth.AdminProof
	}{
		{a, sign(ledger.ModelHash{}, a, 1)},
		{b, sign(a, b, 2)},
		{a, sign(b, a, 3)},
	}
	aToB := steps[1].proof
	for i, st := range steps {
		if _, err := d.UpdateModelHash(ModelHashArgs{NewHash: st.next, AdminProof: st.proof}); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	// hash is back at a; the old a -> b signature must not apply again
	rec, err := d.UpdateModelHash(ModelHashArgs{NewHash: b, AdminProof: aToB})
	if KindOf(err) != KindUnauthorized {
		t.Fatalf("expected unauthorized replay, got %v", err)
	}
	if len(rec.Transcript.Fallible) != 0 {
		t.Fatal("rejected update recorded a fallible write")
	}
	if got, _ := store.ModelHash(); got != a {
		t.Fatalf("model hash moved to %s", got)
	}
	if ver, _ := store.ModelVersion(); ver != 3 {
		t.Fatalf("expected version 3, got %d", ver)
	}
}

func TestUpdateModelHashDeniedByDefault(t *testing.T) {
	store := ledger.NewMemStore()
	d := newDispatcher(t, store, Options{})
	rec, err := d.UpdateModelHash(ModelHashArgs{NewHash: ledger.ModelHash{7}})
	if KindOf(err) != KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(rec.Transcript.Fallible) != 0 {
		t.Fatal("unauthorized update recorded a fallible write")
	}
	if got, _ := store.ModelHash(); got != (ledger.ModelHash{}) {
		t.Fatalf("model hash changed: %s", got)
	}
}

// #endregion model-hash-tests

// #region invoke-tests
func TestInvokeRoutesByName(t *testing.T) {
	d := newDispatcher(t, ledger.NewMemStore(), Options{Binder: commit.Sum{}})
	args := referenceArgs(t, "0xa11ce", commit.Sum{})
	raw, _ := json.Marshal(args)

	rec, err := d.Invoke(proofrec.OpComputeAndStoreScore, raw)
	if err != nil {
		t.Fatalf("Invoke compute: %v", err)
	}
	if *rec.Output.Score != 51 {
		t.Fatalf("expected 51, got %d", *rec.Output.Score)
	}

	raw, _ = json.Marshal(VerifyArgs{Identity: args.Identity, ExpectedScore: 51})
	rec, err = d.Invoke(proofrec.OpVerifyScore, raw)
	if err != nil || !*rec.Output.Verified {
		t.Fatalf("Invoke verify: %+v, %v", rec.Output, err)
	}
}

func TestInvokeRejectsWrongLengthVectors(t *testing.T) {
	d := newDispatcher(t, ledger.NewMemStore(), Options{})
	args := referenceArgs(t, "0xa11ce", commit.MiMC{})
	raw, _ := json.Marshal(args)

	var m map[string]any
	json.Unmarshal(raw, &m)
	m["weights"] = m["weights"].([]any)[:53]
	raw, _ = json.Marshal(m)

	rec, err := d.Invoke(proofrec.OpComputeAndStoreScore, raw)
	if KindOf(err) != KindShape {
		t.Fatalf("expected shape, got %v", err)
	}
	var se *vector.ShapeError
	if !errors.As(err, &se) || se.Field != "weights" || se.Got != 53 {
		t.Fatalf("expected weights ShapeError, got %v", err)
	}
	if len(rec.Input.Raw) == 0 || !rec.Failed() {
		t.Fatalf("rejected call must still produce a record: %+v", rec)
	}
}

func TestInvokeRejectsMissingArguments(t *testing.T) {
	store := ledger.NewMemStore()
	d := newDispatcher(t, store, Options{Binder: commit.Sum{}})
	args := referenceArgs(t, "0xa11ce", commit.Sum{})
	full, _ := json.Marshal(args)

	without := func(keys ...string) []byte {
		var m map[string]any
		json.Unmarshal(full, &m)
		for _, k := range keys {
			delete(m, k)
		}
		b, _ := json.Marshal(m)
		return b
	}

	for _, field := range []string{"weights", "features", "responses"} {
		_, err := d.Invoke(proofrec.OpComputeAndStoreScore, without(field))
		var se *vector.ShapeError
		if !errors.As(err, &se) || se.Field != field || se.Got != 0 {
			t.Fatalf("missing %s: expected zero-length ShapeError, got %v", field, err)
		}
	}

	for _, field := range []string{"identity", "commitment", "bias"} {
		_, err := d.Invoke(proofrec.OpComputeAndStoreScore, without(field))
		if !errors.Is(err, ErrMalformedArgs) || KindOf(err) != KindShape {
			t.Fatalf("missing %s: expected malformed shape error, got %v", field, err)
		}
	}

	var m map[string]any
	json.Unmarshal(full, &m)
	m["weights"] = nil
	nulled, _ := json.Marshal(m)
	if _, err := d.Invoke(proofrec.OpComputeAndStoreScore, nulled); KindOf(err) != KindShape {
		t.Fatalf("null weights: expected shape error, got %v", err)
	}

	if _, err := d.Invoke(proofrec.OpVerifyScore, []byte(`{"identity":"`+args.Identity.Hex()+`"}`)); !errors.Is(err, ErrMalformedArgs) {
		t.Fatalf("verify without expected_score: got %v", err)
	}

	if e, _ := store.Get(args.Identity); e.Occupied() {
		t.Fatalf("incomplete arguments must not write: %+v", e)
	}
}

func TestInvokeRejectsTrailingData(t *testing.T) {
	store := ledger.NewMemStore()
	d := newDispatcher(t, store, Options{Binder: commit.Sum{}})
	args := referenceArgs(t, "0xa11ce", commit.Sum{})
	raw, _ := json.Marshal(args)

	for _, tail := range []string{" garbage", " {}", "\n[1]"} {
		rec, err := d.Invoke(proofrec.OpComputeAndStoreScore, append(append([]byte{}, raw...), tail...))
		if !errors.Is(err, ErrMalformedArgs) {
			t.Fatalf("tail %q: expected ErrMalformedArgs, got %v", tail, err)
		}
		if !rec.Failed() {
			t.Fatalf("tail %q: expected a failure record", tail)
		}
	}
	if e, _ := store.Get(args.Identity); e.Occupied() {
		t.Fatal("rejected call must not write")
	}

	// trailing whitespace is not data
	if _, err := d.Invoke(proofrec.OpComputeAndStoreScore, append(raw, " \n"...)); err != nil {
		t.Fatalf("trailing whitespace: %v", err)
	}
}

func TestInvokeUnknownOperation(t *testing.T) {
	d := newDispatcher(t, ledger.NewMemStore(), Options{})
	rec, err := d.Invoke("burnAll", []byte(`{}`))
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
	if rec.Operation != "burnAll" || !rec.Failed() {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestInvokeMalformedJSON(t *testing.T) {
	d := newDispatcher(t, ledger.NewMemStore(), Options{})
	_, err := d.Invoke(proofrec.OpVerifyScore, []byte(`{"identity":`))
	if !errors.Is(err, ErrMalformedArgs) || KindOf(err) != KindShape {
		t.Fatalf("expected malformed shape error, got %v", err)
	}
}

// #endregion invoke-tests

// #region concurrency-tests
func TestConcurrentDistinctIdentities(t *testing.T) {
	store := ledger.NewMemStore()
	d := newDispatcher(t, store, Options{Binder: commit.Sum{}})

	argsList := make([]ScoreArgs, 32)
	for i := range argsList {
		argsList[i] = referenceArgs(t, fmt.Sprintf("0x%04x", i), commit.Sum{})
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(argsList))
	for _, args := range argsList {
		wg.Add(1)
		go func(a ScoreArgs) {
			defer wg.Done()
			if _, _, err := d.ComputeAndStoreScore(a); err != nil {
				errs <- err
			}
		}(args)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("compute: %v", err)
	}
	if n := len(store.Snapshot().Entries); n != 32 {
		t.Fatalf("expected 32 entries, got %d", n)
	}
}

func TestConcurrentSameIdentityOneWinner(t *testing.T) {
	store := ledger.NewMemStore()
	d := newDispatcher(t, store, Options{Binder: commit.Keccak{}})

	const n = 20
	type pair struct {
		score uint8
		com   commit.Commitment
	}
	pairs := make([]pair, n)
	argsList := make([]ScoreArgs, n)
	for i := 0; i < n; i++ {
		args := referenceArgs(t, "0xa11ce", commit.Keccak{})
		args.Responses[i%vector.SurveyLen] = int64(1 + i%5)
		args.Bias = vector.FixedFromInt(int64(40 + i))
		args.Commitment = commit.Keccak{}.Bind(args.Responses)
		s, err := score.Compute(args.Weights, args.Bias, args.Responses, args.Features)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		argsList[i] = args
		pairs[i] = pair{s, args.Commitment}
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(a ScoreArgs) {
			defer wg.Done()
			d.ComputeAndStoreScore(a)
		}(argsList[i])
	}
	wg.Wait()

	e, _ := store.Get(argsList[0].Identity)
	for _, p := range pairs {
		if *e.Score == p.score && e.Commitment.Equal(p.com) {
			return
		}
	}
	t.Fatalf("final entry %+v does not match any single invocation", e)
}

// #endregion concurrency-tests

func TestObserverSeesEveryInvocation(t *testing.T) {
	obs := &countingObserver{}
	d := newDispatcher(t, ledger.NewMemStore(), Options{Binder: commit.Sum{}, Observer: obs})
	args := referenceArgs(t, "0xa11ce", commit.Sum{})
	d.ComputeAndStoreScore(args)
	args.Commitment = commit.SumCommitment(49)
	d.ComputeAndStoreScore(args)
	d.VerifyScore(VerifyArgs{Identity: args.Identity, ExpectedScore: 51})

	want := map[string]int{
		"computeAndStoreScore/commit":              1,
		"computeAndStoreScore/commitment_mismatch": 1,
		"verifyScore/read":                         1,
	}
	for k, v := range want {
		if obs.calls[k] != v {
			t.Fatalf("%s: got %d, want %d (all: %v)", k, obs.calls[k], v, obs.calls)
		}
	}
}
