package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	identity      TEXT PRIMARY KEY,
	score         INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
	commitment    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_meta (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	model_hash    TEXT NOT NULL,
	version       INTEGER NOT NULL DEFAULT 0,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS invocation_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	tx_id         TEXT NOT NULL,
	operation     TEXT NOT NULL,
	identity      TEXT,
	decision      TEXT NOT NULL,
	reason        TEXT,
	record_hash   TEXT NOT NULL,
	record_json   TEXT NOT NULL,
	created_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// SQLiteStore persists the ledger in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// EntryRow is one persisted entry as listed by inspection tools.
type EntryRow struct {
	Identity  Identity
	Entry     Entry
	UpdatedAt time.Time
}

// #endregion store-struct

// #region constructor
// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := addMetaVersion(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// addMetaVersion upgrades ledger_meta tables created before the version column.
func addMetaVersion(db *sql.DB) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info('ledger_meta')`)
	if err != nil {
		return fmt.Errorf("inspect ledger_meta: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect ledger_meta: %w", err)
		}
		if name == "version" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect ledger_meta: %w", err)
	}
	if _, err := db.Exec(`ALTER TABLE ledger_meta ADD COLUMN version INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("add ledger_meta.version: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region get
func (s *SQLiteStore) Get(id Identity) (Entry, error) {
	var score int
	var comHex string
	err := s.db.QueryRow(
		`SELECT score, commitment FROM ledger_entries WHERE identity = ?`, id.Hex(),
	).Scan(&score, &comHex)
	if errors.Is(err, sql.ErrNoRows) {
		return VacantEntry(), nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get entry %s: %w", id, err)
	}
	return decodeEntry(score, comHex)
}

// #endregion get

// #region apply
// Apply upserts the entry in one transaction.
func (s *SQLiteStore) Apply(id Identity, score uint8, c commit.Commitment) (Entry, error) {
	if err := checkScore(score); err != nil {
		return Entry{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO ledger_entries (identity, score, commitment, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET
		   score = excluded.score,
		   commitment = excluded.commitment,
		   updated_at = excluded.updated_at`,
		id.Hex(), int(score), c.Hex(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("upsert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit: %w", err)
	}
	return OccupiedEntry(score, c), nil
}

// #endregion apply

// #region model-hash
func (s *SQLiteStore) ModelHash() (ModelHash, error) {
	var h string
	err := s.db.QueryRow(`SELECT model_hash FROM ledger_meta WHERE id = 1`).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelHash{}, nil
	}
	if err != nil {
		return ModelHash{}, fmt.Errorf("get model hash: %w", err)
	}
	return ParseModelHash(h)
}

func (s *SQLiteStore) ModelVersion() (uint64, error) {
	var v int64
	err := s.db.QueryRow(`SELECT version FROM ledger_meta WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get model version: %w", err)
	}
	return uint64(v), nil
}

// SetModelHash stores h and advances the version in the same statement.
func (s *SQLiteStore) SetModelHash(h ModelHash) error {
	_, err := s.db.Exec(
		`INSERT INTO ledger_meta (id, model_hash, version, updated_at) VALUES (1, ?, 1, ?)
		 ON CONFLICT(id) DO UPDATE SET model_hash = excluded.model_hash,
		   version = ledger_meta.version + 1, updated_at = excluded.updated_at`,
		h.Hex(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set model hash: %w", err)
	}
	return nil
}

// #endregion model-hash

// #region list-entries
// ListEntries returns the most recently updated entries.
func (s *SQLiteStore) ListEntries(limit int) ([]EntryRow, error) {
	rows, err := s.db.Query(
		`SELECT identity, score, commitment, updated_at
		 FROM ledger_entries ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []EntryRow
	for rows.Next() {
		var idHex, comHex, updated string
		var score int
		if err := rows.Scan(&idHex, &score, &comHex, &updated); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		id, err := ParseIdentity(idHex)
		if err != nil {
			return nil, err
		}
		e, err := decodeEntry(score, comHex)
		if err != nil {
			return nil, err
		}
		row := EntryRow{Identity: id, Entry: e}
		row.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, row)
	}
	return out, rows.Err()
}

// #endregion list-entries

func decodeEntry(score int, comHex string) (Entry, error) {
	if score < 0 || score > MaxStoredScore {
		return Entry{}, fmt.Errorf("%w: stored %d", ErrScoreOutOfRange, score)
	}
	c, err := commit.ParseCommitment(comHex)
	if err != nil {
		return Entry{}, err
	}
	return OccupiedEntry(uint8(score), c), nil
}
