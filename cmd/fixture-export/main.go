package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/replay"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to psychescore_ledger.db")
	last := flag.Int("last", 20, "number of most recent invocations to export")
	binder := flag.String("binder", "", "binder recorded in the fixture")
	description := flag.String("description", "", "fixture description")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/db --out path/to/fixture.json [--last N] [--binder name]")
		os.Exit(2)
	}

	if err := run(*dbPath, *last, *binder, *description, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region export

// run pulls the last N invocations, replays them once to record the current
// outcomes as expectations, and writes the fixture.
func run(dbPath string, last int, binder, description, outPath string) error {
	store, err := ledger.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	recs, err := replay.LoadInvocations(store.DB(), last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("no invocations found")
	}

	f := replay.Fixture{Description: description, Binder: binder, Records: recs}
	if f.Description == "" {
		f.Description = fmt.Sprintf("exported from %s (last %d invocations)", dbPath, len(recs))
	}
	results := replay.Replay(recs, f.ToReplayConfig(nil))
	for _, r := range results {
		f.ExpectedResults = append(f.ExpectedResults, replay.FixtureExpectedResult{
			Index:   r.Index,
			Mode:    r.Mode,
			Outcome: r.Outcome,
		})
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture: %w", err)
	}

	s := replay.Summarize(results)
	fmt.Printf("wrote %s: %d records, %d match, %d diverge, %d skipped\n", outPath, len(recs), s.Matches, s.Mismatches, s.Skipped)
	return nil
}

// #endregion export
