package replay

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/dispatch"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/logging"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/proofrec"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	Binder          string                  `json:"binder,omitempty"`
	Records         []proofrec.Record       `json:"records"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureExpectedResult captures the expected outcome per record and mode.
type FixtureExpectedResult struct {
	Index   int    `json:"index"`
	Mode    string `json:"mode"`
	Outcome string `json:"outcome"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToReplayConfig builds the replay config for the fixture. circuit may be nil.
func (f *Fixture) ToReplayConfig(circuit dispatch.Evaluator) ReplayConfig {
	cfg := DefaultReplayConfig()
	if f.Binder != "" {
		cfg.DefaultBinder = f.Binder
	}
	cfg.Circuit = circuit
	return cfg
}

// Check compares results to the fixture's expectations and returns one
// message per difference.
func (f *Fixture) Check(results []ReplayResult) []string {
	got := make(map[[2]string]string, len(results))
	for _, r := range results {
		got[[2]string{fmt.Sprint(r.Index), r.Mode}] = r.Outcome
	}
	var diffs []string
	for _, exp := range f.ExpectedResults {
		key := [2]string{fmt.Sprint(exp.Index), exp.Mode}
		if o, ok := got[key]; !ok {
			diffs = append(diffs, fmt.Sprintf("record %d (%s): no result", exp.Index, exp.Mode))
		} else if o != exp.Outcome {
			diffs = append(diffs, fmt.Sprintf("record %d (%s): got %s, want %s", exp.Index, exp.Mode, o, exp.Outcome))
		}
	}
	return diffs
}

// LoadInvocations reads up to limit records from the invocation log, oldest
// first.
func LoadInvocations(db *sql.DB, limit int) ([]proofrec.Record, error) {
	rows, err := logging.ListInvocations(db, limit)
	if err != nil {
		return nil, err
	}
	recs := make([]proofrec.Record, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		rec, err := proofrec.Decode([]byte(rows[i].RecordJSON))
		if err != nil {
			return nil, fmt.Errorf("invocation %d: %w", rows[i].ID, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// #endregion fixture-loader
