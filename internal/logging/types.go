package logging

import "time"

// #region invocation-entry
// InvocationEntry is a single row in the invocation_log table.
type InvocationEntry struct {
	ID         int64
	TxID       string
	Operation  string
	Identity   string // hex, empty for model hash updates
	Decision   string // "commit" | "reject" | "read"
	Reason     string
	RecordHash string
	RecordJSON string
	CreatedAt  time.Time
}

// #endregion invocation-entry

// Decisions.
const (
	DecisionCommit = "commit"
	DecisionReject = "reject"
	DecisionRead   = "read"
)
