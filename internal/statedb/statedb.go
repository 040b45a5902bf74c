package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database holding per-workspace terminal metadata:
// title overrides, split preferences and profile env text.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type StateDB struct {
	db *sql.DB
}

// MetaRecord is the persisted metadata of one session id.
type MetaRecord struct {
	Title string
}

// SplitPrefs is the persisted subset of split state.
type SplitPrefs struct {
	Orientation string
	Ratio       float64
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}
	// PRAGMAs below are per connection; a single connection keeps them in force.
	db.SetMaxOpenConns(1)

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Migrate creates tables if they don't exist and records the schema version.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct {
		name string
		sql  string
	}{
		{"metadata", `
			CREATE TABLE IF NOT EXISTS metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
		{"session_meta", `
			CREATE TABLE IF NOT EXISTS session_meta (
				workspace  TEXT NOT NULL,
				session_id TEXT NOT NULL,
				title      TEXT NOT NULL DEFAULT '',
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (workspace, session_id)
			)`},
		{"split_prefs", `
			CREATE TABLE IF NOT EXISTS split_prefs (
				workspace   TEXT PRIMARY KEY,
				orientation TEXT NOT NULL DEFAULT 'vertical',
				ratio       REAL NOT NULL DEFAULT 0.5,
				updated_at  INTEGER NOT NULL
			)`},
		{"profile_env", `
			CREATE TABLE IF NOT EXISTS profile_env (
				workspace TEXT NOT NULL,
				profile   TEXT NOT NULL,
				env_text  TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (workspace, profile)
			)`},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.sql); err != nil {
			return fmt.Errorf("statedb: create %s: %w", st.name, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		strconv.Itoa(SchemaVersion),
	); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// Workspace returns a view of the database scoped to one workspace identity.
func (s *StateDB) Workspace(root string) *WorkspaceStore {
	return &WorkspaceStore{db: s.db, workspace: root}
}

// WorkspaceStore reads and writes the records of one workspace.
type WorkspaceStore struct {
	db        *sql.DB
	workspace string
}

// SessionMeta looks up the persisted record of a session id.
func (w *WorkspaceStore) SessionMeta(id string) (MetaRecord, bool, error) {
	var rec MetaRecord
	err := w.db.QueryRow(
		"SELECT title FROM session_meta WHERE workspace = ? AND session_id = ?",
		w.workspace, id,
	).Scan(&rec.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return MetaRecord{}, false, nil
	}
	if err != nil {
		return MetaRecord{}, false, fmt.Errorf("statedb: load session meta: %w", err)
	}
	return rec, true, nil
}

// PutSessionMeta stores the record of a session id, replacing any previous one.
func (w *WorkspaceStore) PutSessionMeta(id string, rec MetaRecord) error {
	_, err := w.db.Exec(`
		INSERT INTO session_meta (workspace, session_id, title, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace, session_id) DO UPDATE SET
			title = excluded.title,
			updated_at = excluded.updated_at
	`, w.workspace, id, rec.Title, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("statedb: save session meta: %w", err)
	}
	return nil
}

// SplitPrefs returns the stored split preferences. ok is false when none were saved.
func (w *WorkspaceStore) SplitPrefs() (prefs SplitPrefs, ok bool, err error) {
	err = w.db.QueryRow(
		"SELECT orientation, ratio FROM split_prefs WHERE workspace = ?", w.workspace,
	).Scan(&prefs.Orientation, &prefs.Ratio)
	if errors.Is(err, sql.ErrNoRows) {
		return SplitPrefs{}, false, nil
	}
	if err != nil {
		return SplitPrefs{}, false, fmt.Errorf("statedb: load split prefs: %w", err)
	}
	return prefs, true, nil
}

// SaveSplitPrefs stores the split preferences of the workspace.
func (w *WorkspaceStore) SaveSplitPrefs(prefs SplitPrefs) error {
	_, err := w.db.Exec(`
		INSERT OR REPLACE INTO split_prefs (workspace, orientation, ratio, updated_at)
		VALUES (?, ?, ?, ?)
	`, w.workspace, prefs.Orientation, prefs.Ratio, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("statedb: save split prefs: %w", err)
	}
	return nil
}

// ProfileEnv returns the stored env text of every profile in the workspace.
func (w *WorkspaceStore) ProfileEnv() (map[string]string, error) {
	rows, err := w.db.Query("SELECT profile, env_text FROM profile_env WHERE workspace = ?", w.workspace)
	if err != nil {
		return nil, fmt.Errorf("statedb: load profile env: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var profile, text string
		if err := rows.Scan(&profile, &text); err != nil {
			return nil, fmt.Errorf("statedb: scan profile env: %w", err)
		}
		out[profile] = text
	}
	return out, rows.Err()
}

// SaveProfileEnv stores the env text of one profile.
func (w *WorkspaceStore) SaveProfileEnv(profile, text string) error {
	_, err := w.db.Exec(
		"INSERT OR REPLACE INTO profile_env (workspace, profile, env_text) VALUES (?, ?, ?)",
		w.workspace, profile, text,
	)
	if err != nil {
		return fmt.Errorf("statedb: save profile env: %w", err)
	}
	return nil
}
