package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a session or snapshot record does not exist.
var ErrNotFound = errors.New("session: not found")

// Store manages session, log entry, and snapshot persistence in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite database at the given path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			sandbox_id TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'pending',
			config     TEXT NOT NULL DEFAULT '{}',
			runtime    TEXT NOT NULL DEFAULT '',
			pr_url     TEXT NOT NULL DEFAULT '',
			pr_status  TEXT NOT NULL DEFAULT '',
			archived   INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS log_entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			level      TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_log_entries_session_id
			ON log_entries(session_id);

		CREATE TABLE IF NOT EXISTS snapshots (
			id                TEXT PRIMARY KEY,
			session_id        TEXT NOT NULL,
			source_sandbox_id TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'created',
			size_bytes        INTEGER NOT NULL DEFAULT 0,
			expires_at        DATETIME,
			created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_session_id
			ON snapshots(session_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(sess *Session) error {
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, sandbox_id, status, config, runtime, pr_url, pr_status, archived, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.SandboxID, sess.Status, string(cfg), sess.Runtime,
		sess.PRUrl, sess.PRStatus, boolToInt(sess.Archived), sess.CreatedAt, sess.UpdatedAt,
	)
	return err
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, sandbox_id, status, config, runtime, pr_url, pr_status, archived, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// ListSessions returns sessions ordered by creation time (newest first).
// When includeArchived is false, archived sessions are filtered out.
func (s *Store) ListSessions(includeArchived bool) ([]*Session, error) {
	query := `SELECT id, sandbox_id, status, config, runtime, pr_url, pr_status, archived, created_at, updated_at
	          FROM sessions`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSession updates mutable fields of a session and refreshes updated_at.
// The launch config is immutable after creation and is never rewritten.
func (s *Store) UpdateSession(sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE sessions SET
			sandbox_id = ?, status = ?, pr_url = ?, pr_status = ?, archived = ?, updated_at = ?
		 WHERE id = ?`,
		sess.SandboxID, sess.Status, sess.PRUrl, sess.PRStatus,
		boolToInt(sess.Archived), sess.UpdatedAt, sess.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// AttachSandbox records the platform handle on a session without touching its
// status. A session that went terminal while the create was in flight is left
// untouched and ErrNotFound is returned, so the caller knows the sandbox is
// an orphan.
func (s *Store) AttachSandbox(id, sandboxID string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET sandbox_id = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		sandboxID, time.Now().UTC(), id, StatusCompleted, StatusFailed,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// FinalizeSession moves a session to a terminal status. The write is guarded
// so an already-terminal session is never overwritten; the loser of a
// concurrent transition gets ErrNotFound and exactly one writer wins.
func (s *Store) FinalizeSession(id string, st Status) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET status = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		st, time.Now().UTC(), id, StatusCompleted, StatusFailed,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// AppendLogEntry inserts a log entry and assigns its durable ordering ID.
func (s *Store) AppendLogEntry(e *LogEntry) error {
	res, err := s.db.Exec(
		`INSERT INTO log_entries (session_id, level, message, created_at)
		 VALUES (?, ?, ?, ?)`,
		e.SessionID, e.Level, e.Message, e.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// ListLogEntries returns a session's log entries in the order they were
// observed, optionally only those after a given entry ID.
func (s *Store) ListLogEntries(sessionID string, afterID int64) ([]*LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, level, message, created_at
		 FROM log_entries
		 WHERE session_id = ? AND id > ?
		 ORDER BY id ASC`,
		sessionID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CreateSnapshot inserts a snapshot record.
func (s *Store) CreateSnapshot(snap *SnapshotRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (id, session_id, source_sandbox_id, status, size_bytes, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.SessionID, snap.SourceSandboxID, snap.Status,
		snap.SizeBytes, snap.ExpiresAt, snap.CreatedAt,
	)
	return err
}

// GetSnapshot retrieves a snapshot record by ID.
func (s *Store) GetSnapshot(id string) (*SnapshotRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, session_id, source_sandbox_id, status, size_bytes, expires_at, created_at
		 FROM snapshots WHERE id = ?`, id,
	)
	snap := &SnapshotRecord{}
	err := row.Scan(&snap.ID, &snap.SessionID, &snap.SourceSandboxID, &snap.Status,
		&snap.SizeBytes, &snap.ExpiresAt, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListSnapshots returns snapshot records newest first, paginated. Page is
// 1-based; limit caps the page size.
func (s *Store) ListSnapshots(page, limit int) ([]*SnapshotRecord, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, session_id, source_sandbox_id, status, size_bytes, expires_at, created_at
		 FROM snapshots
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		limit, (page-1)*limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*SnapshotRecord
	for rows.Next() {
		snap := &SnapshotRecord{}
		if err := rows.Scan(&snap.ID, &snap.SessionID, &snap.SourceSandboxID, &snap.Status,
			&snap.SizeBytes, &snap.ExpiresAt, &snap.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// UpdateSnapshotStatus sets a snapshot record's status.
func (s *Store) UpdateSnapshotStatus(id string, status SnapshotStatus) error {
	res, err := s.db.Exec(`UPDATE snapshots SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*Session, error) {
	sess := &Session{}
	var cfg string
	var archived int
	err := row.Scan(
		&sess.ID, &sess.SandboxID, &sess.Status, &cfg, &sess.Runtime,
		&sess.PRUrl, &sess.PRStatus, &archived, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
		return nil, fmt.Errorf("decoding config for session %s: %w", sess.ID, err)
	}
	sess.Archived = archived != 0
	return sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
