package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dataPath string) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataPath, "lifemaster.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS progress_entries (
			id TEXT PRIMARY KEY,
			entry_type TEXT NOT NULL,
			entry_date TEXT NOT NULL,
			source TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			summary TEXT,
			notes TEXT,
			impact_assessment TEXT,
			confidence TEXT,
			metrics TEXT,
			delta_vs_baseline TEXT,
			consent TEXT,
			entry_ts TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_entries_entry_ts ON progress_entries(entry_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_entries_entry_type ON progress_entries(entry_type)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_entries_entry_date ON progress_entries(entry_date)`,
		// Singleton token row, fixed id=1
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// InsertEntry appends a progress entry. entry_ts is stamped here so ordering
// reflects insertion, not caller clocks.
func (s *SQLiteStore) InsertEntry(entry *ProgressEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.EntryTS.IsZero() {
		entry.EntryTS = time.Now().UTC()
	}

	metrics, err := marshalNullable(entry.Metrics, entry.Metrics.HasData())
	if err != nil {
		return &PersistenceError{Op: "insert entry", Err: err}
	}
	delta, err := marshalNullable(entry.DeltaVsBaseline, len(entry.DeltaVsBaseline) > 0)
	if err != nil {
		return &PersistenceError{Op: "insert entry", Err: err}
	}
	consent, err := marshalNullable(entry.Consent, entry.Consent != nil)
	if err != nil {
		return &PersistenceError{Op: "insert entry", Err: err}
	}

	_, err = s.db.Exec(`
		INSERT INTO progress_entries
			(id, entry_type, entry_date, source, title, summary, notes,
			 impact_assessment, confidence, metrics, delta_vs_baseline, consent, entry_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.EntryType, entry.EntryDate, entry.Source, entry.Title,
		nullString(entry.Summary), nullString(entry.Notes),
		nullString(entry.ImpactAssessment), nullString(entry.Confidence),
		metrics, delta, consent, entry.EntryTS)
	if err != nil {
		return &PersistenceError{Op: "insert entry", Err: err}
	}

	return nil
}

const entryColumns = `id, entry_type, entry_date, source, title, summary, notes,
	impact_assessment, confidence, metrics, delta_vs_baseline, consent, entry_ts`

// ListEntries returns entries newest-first. rowid breaks entry_ts ties so the
// order is stable under rapid consecutive inserts.
func (s *SQLiteStore) ListEntries(limit int, since time.Time) ([]*ProgressEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM progress_entries`
	args := []interface{}{}

	if !since.IsZero() {
		query += ` WHERE entry_ts >= ?`
		args = append(args, since)
	}
	query += ` ORDER BY entry_ts DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list entries", Err: err}
	}
	defer rows.Close()

	var entries []*ProgressEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "list entries", Err: err}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LatestEntryWithMetrics returns the newest entry carrying at least one
// non-null metric, or nil when the history has none.
func (s *SQLiteStore) LatestEntryWithMetrics() (*ProgressEntry, error) {
	row := s.db.QueryRow(`
		SELECT ` + entryColumns + ` FROM progress_entries
		WHERE metrics IS NOT NULL
		ORDER BY entry_ts DESC, rowid DESC
		LIMIT 1
	`)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "latest entry with metrics", Err: err}
	}
	return entry, nil
}

// GetToken returns the singleton token record, or nil when absent.
func (s *SQLiteStore) GetToken() (*TokenRecord, error) {
	var rec TokenRecord
	err := s.db.QueryRow(`
		SELECT access_token, refresh_token, expires_at FROM oauth_tokens WHERE id = 1
	`).Scan(&rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get token", Err: err}
	}
	return &rec, nil
}

// SaveToken upserts the singleton token record in place.
func (s *SQLiteStore) SaveToken(rec *TokenRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO oauth_tokens (id, access_token, refresh_token, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, rec.AccessToken, rec.RefreshToken, rec.ExpiresAt, time.Now().UTC())
	if err != nil {
		return &PersistenceError{Op: "save token", Err: err}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*ProgressEntry, error) {
	var entry ProgressEntry
	var summary, notes, impact, confidence sql.NullString
	var metrics, delta, consent sql.NullString

	err := row.Scan(&entry.ID, &entry.EntryType, &entry.EntryDate, &entry.Source,
		&entry.Title, &summary, &notes, &impact, &confidence,
		&metrics, &delta, &consent, &entry.EntryTS)
	if err != nil {
		return nil, err
	}

	entry.Summary = summary.String
	entry.Notes = notes.String
	entry.ImpactAssessment = impact.String
	entry.Confidence = confidence.String

	if metrics.Valid {
		var snap Snapshot
		if err := json.Unmarshal([]byte(metrics.String), &snap); err != nil {
			return nil, fmt.Errorf("corrupt metrics json on entry %s: %w", entry.ID, err)
		}
		entry.Metrics = &snap
	}
	if delta.Valid {
		if err := json.Unmarshal([]byte(delta.String), &entry.DeltaVsBaseline); err != nil {
			return nil, fmt.Errorf("corrupt delta json on entry %s: %w", entry.ID, err)
		}
	}
	if consent.Valid {
		var c Consent
		if err := json.Unmarshal([]byte(consent.String), &c); err != nil {
			return nil, fmt.Errorf("corrupt consent json on entry %s: %w", entry.ID, err)
		}
		entry.Consent = &c
	}

	return &entry, nil
}

func marshalNullable(v interface{}, present bool) (interface{}, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
