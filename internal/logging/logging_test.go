package logging

import (
	"bytes"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE invocation_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_id       TEXT NOT NULL,
		operation   TEXT NOT NULL,
		identity    TEXT,
		decision    TEXT NOT NULL,
		reason      TEXT,
		record_hash TEXT NOT NULL,
		record_json TEXT NOT NULL,
		created_at  TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-invocation-tests
func TestLogInvocation_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := InvocationEntry{
		TxID:       "tx1",
		Operation:  "computeAndStoreScore",
		Identity:   "ab",
		Decision:   DecisionCommit,
		RecordHash: "sha256:00",
		RecordJSON: `{"operation":"computeAndStoreScore"}`,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogInvocation(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := ListInvocations(db, 10)
	if err != nil {
		t.Fatalf("ListInvocations: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].TxID != "tx1" || rows[0].Decision != DecisionCommit {
		t.Errorf("unexpected row: %+v", rows[0])
	}
	if !rows[0].CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("created_at %v, want %v", rows[0].CreatedAt, entry.CreatedAt)
	}
}

func TestLogInvocation_EmptyOptionalFields(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := InvocationEntry{
		TxID:       "tx2",
		Operation:  "updateModelHash",
		Decision:   DecisionReject,
		RecordHash: "sha256:01",
		RecordJSON: "{}",
	}
	if err := LogInvocation(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var identity, reason sql.NullString
	db.QueryRow("SELECT identity, reason FROM invocation_log").Scan(&identity, &reason)
	if identity.Valid {
		t.Error("expected NULL identity for empty string")
	}
	if reason.Valid {
		t.Error("expected NULL reason for empty string")
	}
}

func TestListInvocations_NewestFirst(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	for _, tx := range []string{"a", "b", "c"} {
		LogInvocation(db, InvocationEntry{TxID: tx, Operation: "verifyScore", Decision: DecisionRead, RecordHash: "h", RecordJSON: "{}"})
	}
	rows, err := ListInvocations(db, 2)
	if err != nil {
		t.Fatalf("ListInvocations: %v", err)
	}
	if len(rows) != 2 || rows[0].TxID != "c" || rows[1].TxID != "b" {
		t.Fatalf("unexpected order: %+v", rows)
	}
}

func TestLogInvocation_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	err := LogInvocation(db, InvocationEntry{TxID: "x", Operation: "verifyScore", Decision: DecisionRead})
	if err == nil {
		t.Fatal("expected error on closed db")
	}
}

// #endregion log-invocation-tests

// #region logger-tests
func TestNewTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewTo(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("NewTo: %v", err)
	}
	log.With("component", "dispatch").Debug("hello", "score", 51)
	out := buf.String()
	if !strings.Contains(out, `"component":"dispatch"`) || !strings.Contains(out, `"score":51`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestNewTo_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewTo(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("NewTo: %v", err)
	}
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn: %s", buf.String())
	}
}

func TestNewTo_Rejects(t *testing.T) {
	if _, err := NewTo(&bytes.Buffer{}, "loud", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := NewTo(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

// #endregion logger-tests

func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Error("expected nil for empty string")
	}
	if nullIfEmpty("hello") != "hello" {
		t.Error("expected passthrough for non-empty string")
	}
}
