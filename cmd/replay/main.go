package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/circuit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/dispatch"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/replay"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to psychescore_ledger.db (DB mode)")
	fixturePath := flag.String("fixture", "", "path to fixture JSON (fixture mode)")
	limit := flag.Int("limit", 1000, "replay at most N logged invocations (DB mode)")
	withCircuit := flag.Bool("circuit", false, "also replay under the circuit evaluator")
	flag.Parse()

	if (*dbPath == "" && *fixturePath == "") || (*dbPath != "" && *fixturePath != "") {
		fmt.Fprintln(os.Stderr, "usage: replay --db path/to/psychescore_ledger.db [--limit N] [--circuit]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/fixture.json [--circuit]")
		os.Exit(2)
	}

	var ev dispatch.Evaluator
	if *withCircuit {
		c := circuit.NewEvaluator()
		if err := c.Compile(); err != nil {
			fmt.Fprintf(os.Stderr, "compile circuit: %v\n", err)
			os.Exit(2)
		}
		ev = c
	}

	var exitCode int
	if *fixturePath != "" {
		exitCode = runFixtureMode(*fixturePath, ev)
	} else {
		exitCode = runDBMode(*dbPath, *limit, ev)
	}
	os.Exit(exitCode)
}

// #endregion main

// #region modes

func runDBMode(dbPath string, limit int, ev dispatch.Evaluator) int {
	store, err := ledger.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()

	recs, err := replay.LoadInvocations(store.DB(), limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load invocations: %v\n", err)
		return 2
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no entries found in invocation_log")
		return 2
	}

	cfg := replay.DefaultReplayConfig()
	cfg.Circuit = ev
	return printComparison(replay.Replay(recs, cfg), false, nil)
}

func runFixtureMode(path string, ev dispatch.Evaluator) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
		return 2
	}
	results := replay.Replay(f.Records, f.ToReplayConfig(ev))
	return printComparison(results, true, f.Check(results))
}

// #endregion modes

// #region output

// printComparison outputs one row per replayed record and returns the exit
// code. In fixture mode a mismatch is fine when the fixture expects it.
func printComparison(results []replay.ReplayResult, fixture bool, fixtureDiffs []string) int {
	fmt.Printf("%-6s| %-22s| %-8s| %-9s| %s\n", "Index", "Operation", "Mode", "Outcome", "Reason")
	fmt.Printf("%-6s+%-23s+%-9s+%-10s+%s\n", "------", "-----------------------", "---------", "----------", "------")

	for _, r := range results {
		fmt.Printf("%-6d| %-22s| %-8s| %-9s| %s\n", r.Index, r.Operation, r.Mode, r.Outcome, r.Reason)
	}

	s := replay.Summarize(results)
	fmt.Printf("\nSummary: %d total, %d match, %d diverge, %d skipped\n", s.Total, s.Matches, s.Mismatches, s.Skipped)

	for _, d := range fixtureDiffs {
		fmt.Printf("fixture: %s\n", d)
	}
	if fixture {
		if len(fixtureDiffs) > 0 {
			return 1
		}
		return 0
	}
	if s.Mismatches > 0 {
		return 1
	}
	return 0
}

// #endregion output
