package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/ledger"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/logging"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to psychescore_ledger.db")
	last := flag.Int("last", 20, "show N most recent rows")
	log := flag.Bool("log", false, "show the invocation log instead of ledger entries")
	identity := flag.String("identity", "", "show a single identity (hex or wallet address)")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/psychescore_ledger.db [--last N] [--log] [--identity id] [--json]")
		os.Exit(2)
	}

	store, err := ledger.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case *identity != "":
		err = runIdentityMode(store, *identity, *jsonOut)
	case *log:
		err = runLogMode(store, *last, *jsonOut)
	default:
		err = runEntriesMode(store, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region entries-mode

type entryRow struct {
	Identity   string `json:"identity"`
	Status     string `json:"status"`
	Score      *uint8 `json:"score,omitempty"`
	Commitment string `json:"commitment,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

func runEntriesMode(store *ledger.SQLiteStore, last int, jsonOut bool) error {
	rows, err := store.ListEntries(last)
	if err != nil {
		return err
	}
	mh, err := store.ModelHash()
	if err != nil {
		return err
	}
	mv, err := store.ModelVersion()
	if err != nil {
		return err
	}

	out := make([]entryRow, len(rows))
	for i, r := range rows {
		out[i] = entryRow{
			Identity:  r.Identity.Hex(),
			Status:    r.Entry.Status.String(),
			Score:     r.Entry.Score,
			UpdatedAt: r.UpdatedAt.Format("2006-01-02T15:04:05Z"),
		}
		if r.Entry.Commitment != nil {
			out[i].Commitment = r.Entry.Commitment.Hex()
		}
	}

	if jsonOut {
		return printJSON(map[string]any{"model_hash": mh.Hex(), "model_version": mv, "entries": out})
	}

	fmt.Printf("Model hash: %s (version %d)\n\n", mh.Hex(), mv)
	if len(out) == 0 {
		fmt.Fprintln(os.Stderr, "no entries found")
		return nil
	}
	fmt.Printf("%-16s  %-9s  %5s  %-16s  %s\n", "Identity", "Status", "Score", "Commitment", "Updated")
	fmt.Printf("%-16s+-%-9s+-%5s+-%-16s+-%s\n", "----------------", "---------", "-----", "----------------", "--------------------")
	for _, r := range out {
		score := "-"
		if r.Score != nil {
			score = fmt.Sprint(*r.Score)
		}
		fmt.Printf("%-16s  %-9s  %5s  %-16s  %s\n", shortID(r.Identity), r.Status, score, shortID(r.Commitment), r.UpdatedAt)
	}
	return nil
}

func runIdentityMode(store *ledger.SQLiteStore, s string, jsonOut bool) error {
	id, err := ledger.ParseIdentity(s)
	if err != nil {
		id = ledger.IdentityFromAddress(s)
	}
	e, err := store.Get(id)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(map[string]any{"identity": id, "entry": e})
	}
	fmt.Printf("Identity:   %s\n", id.Hex())
	fmt.Printf("Status:     %s\n", e.Status)
	if e.Occupied() {
		fmt.Printf("Score:      %d\n", *e.Score)
		fmt.Printf("Commitment: %s\n", e.Commitment.Hex())
	}
	return nil
}

// #endregion entries-mode

// #region log-mode

type logRow struct {
	ID         int64  `json:"id"`
	Operation  string `json:"operation"`
	Identity   string `json:"identity,omitempty"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
	RecordHash string `json:"record_hash"`
	CreatedAt  string `json:"created_at"`
}

func runLogMode(store *ledger.SQLiteStore, last int, jsonOut bool) error {
	entries, err := logging.ListInvocations(store.DB(), last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no invocations found")
		return nil
	}

	// store returns DESC, reverse for chronological
	rows := make([]logRow, len(entries))
	for i, e := range entries {
		rows[len(entries)-1-i] = logRow{
			ID:         e.ID,
			Operation:  e.Operation,
			Identity:   e.Identity,
			Decision:   e.Decision,
			Reason:     e.Reason,
			RecordHash: e.RecordHash,
			CreatedAt:  e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-6s  %-22s  %-16s  %-8s  %-22s  %s\n", "ID", "Operation", "Identity", "Decision", "Record", "Time")
	fmt.Printf("%-6s+-%-22s+-%-16s+-%-8s+-%-22s+-%s\n", "------", "----------------------", "----------------", "--------", "----------------------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-6d  %-22s  %-16s  %-8s  %-22s  %s\n", r.ID, r.Operation, shortID(r.Identity), r.Decision, shortID(r.RecordHash), r.CreatedAt)
		if r.Reason != "" {
			fmt.Printf("        reason: %s\n", r.Reason)
		}
	}
	return nil
}

// #endregion log-mode

// #region helpers

func shortID(s string) string {
	if s == "" {
		return "-"
	}
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
