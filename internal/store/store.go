// Package store persists brands, scenarios, runs, content assets,
// dimension scores, and run summaries in SQLite. Deletes cascade
// downward: removing a run removes its assets, scores, and summary.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"truststack/internal/logging"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open initialises the database at path. ":memory:" runs in memory.
func Open(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?mode=memory"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// :memory: databases alive across queries.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("database ready at %s", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS brands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		industry TEXT,
		domains TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS scenarios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT,
		config TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		brand_id INTEGER NOT NULL REFERENCES brands(id) ON DELETE CASCADE,
		scenario_id INTEGER NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
		status TEXT NOT NULL DEFAULT 'pending',
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		config TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_brand ON runs(brand_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS content_assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		asset_id TEXT NOT NULL,
		source_type TEXT,
		channel TEXT,
		url TEXT,
		external_id TEXT,
		title TEXT,
		raw_content TEXT,
		normalized_content TEXT,
		modality TEXT,
		language TEXT,
		screenshot_path TEXT,
		visual_blob TEXT,
		meta_info TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_assets_run ON content_assets(run_id);
	CREATE INDEX IF NOT EXISTS idx_assets_url ON content_assets(url);

	CREATE TABLE IF NOT EXISTS dimension_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id INTEGER NOT NULL REFERENCES content_assets(id) ON DELETE CASCADE,
		provenance REAL, verification REAL, transparency REAL,
		coherence REAL, resonance REAL, overall REAL,
		classification TEXT,
		rationale TEXT,
		flags TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_scores_asset ON dimension_scores(asset_id);

	CREATE TABLE IF NOT EXISTS truststack_summary (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL UNIQUE REFERENCES runs(id) ON DELETE CASCADE,
		avg_provenance REAL, avg_verification REAL, avg_transparency REAL,
		avg_coherence REAL, avg_resonance REAL,
		truststack_score REAL,
		authenticity_ratio REAL,
		insights TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func encodeJSON(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		logging.StoreWarn("json encode failed: %v", err)
		return ""
	}
	return string(raw)
}

func decodeMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		logging.StoreWarn("json decode failed: %v", err)
		return nil
	}
	return m
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil
	}
	return ss
}

// PruneOldRuns deletes runs started more than days ago. Child rows
// follow through the foreign-key cascades.
func (s *Store) PruneOldRuns(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("pruned %d runs older than %d days", n, days)
	}
	return n, nil
}
