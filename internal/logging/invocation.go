package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-invocation
// LogInvocation writes an entry to the invocation_log table.
func LogInvocation(db *sql.DB, entry InvocationEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO invocation_log (tx_id, operation, identity, decision, reason, record_hash, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TxID,
		entry.Operation,
		nullIfEmpty(entry.Identity),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.RecordHash,
		entry.RecordJSON,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log invocation: %w", err)
	}
	return nil
}

// #endregion log-invocation

// #region list-invocations
// ListInvocations returns the most recent rows, newest first.
func ListInvocations(db *sql.DB, limit int) ([]InvocationEntry, error) {
	rows, err := db.Query(
		`SELECT id, tx_id, operation, identity, decision, reason, record_hash, record_json, created_at
		 FROM invocation_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var out []InvocationEntry
	for rows.Next() {
		var e InvocationEntry
		var identity, reason sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.TxID, &e.Operation, &identity, &e.Decision, &reason,
			&e.RecordHash, &e.RecordJSON, &created); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Identity = identity.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-invocations

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
