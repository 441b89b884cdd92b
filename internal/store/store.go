// Package store implements the transactional store adapters (Component I)
// spec.md §6 requires: tasks, epics, batches, worktrees, cost records,
// expertise files, and the saved execution plan, all backed by SQLite.
// Grounded on internal/state/db.go (WAL mode, foreign keys on, a
// versioned schema_version migration table, a single mutex-guarded
// *sql.DB) and internal/learning/store.go's versioned-upsert idiom.
// internal/expertise already owns its own sqlite store for ExpertiseFile
// content; Store here persists the denormalized project/domain/version
// pointer spec.md §6's "Expertise: get/upsert/record_update" operations
// describe, so the executor has one place to ask "what changed and when"
// independent of internal/expertise's content format.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/buildforge/conduct/pkg/models"
)

// Store wraps a project's SQLite database. One Store serves one project;
// the caller is responsible for opening one per project root, matching
// internal/state's per-project DB convention.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens (creating and migrating if necessary) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }
func (s *Store) Path() string { return s.path }

const migrationV1 = `
CREATE TABLE IF NOT EXISTS epics (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	name TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	depends_on TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	epic_id TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	description TEXT NOT NULL,
	action TEXT,
	depends_on TEXT NOT NULL DEFAULT '[]',
	done INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	blocked_reason TEXT,
	predicted_files TEXT NOT NULL DEFAULT '[]',
	lines_estimate INTEGER NOT NULL DEFAULT 0,
	tests_pass INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_epic ON tasks(epic_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	batch_number INTEGER NOT NULL,
	task_ids TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'pending',
	started_at DATETIME,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_batches_project ON batches(project_id);

CREATE TABLE IF NOT EXISTS worktrees (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	epic_id TEXT NOT NULL,
	branch TEXT NOT NULL,
	path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL,
	merged_at DATETIME,
	merge_commit TEXT
);
CREATE INDEX IF NOT EXISTS idx_worktrees_project_epic ON worktrees(project_id, epic_id);

CREATE TABLE IF NOT EXISTS cost_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	operation_type TEXT NOT NULL,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cost_project ON cost_records(project_id);
CREATE INDEX IF NOT EXISTS idx_cost_model ON cost_records(model);
CREATE INDEX IF NOT EXISTS idx_cost_task ON cost_records(task_id);

CREATE TABLE IF NOT EXISTS expertise_pointers (
	project_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME,
	PRIMARY KEY (project_id, domain)
);

CREATE TABLE IF NOT EXISTS expertise_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	expertise_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	summary TEXT NOT NULL,
	diff TEXT,
	at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_expertise_updates_expertise ON expertise_updates(expertise_id);

CREATE TABLE IF NOT EXISTS execution_plans (
	project_id TEXT PRIMARY KEY,
	plan_json TEXT NOT NULL,
	saved_at DATETIME NOT NULL
);
`

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS store_schema_version (
		version INTEGER PRIMARY KEY, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		return err
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM store_schema_version")
	if err := row.Scan(&current); err != nil {
		return err
	}
	if current >= 1 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(migrationV1); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO store_schema_version (version) VALUES (1)"); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func unmarshalStrings(raw string) []string {
	var ss []string
	if raw == "" {
		return ss
	}
	json.Unmarshal([]byte(raw), &ss)
	return ss
}

func marshalDeps(deps []models.Dependency) string {
	if deps == nil {
		deps = []models.Dependency{}
	}
	b, _ := json.Marshal(deps)
	return string(b)
}

func unmarshalDeps(raw string) []models.Dependency {
	var deps []models.Dependency
	if raw == "" {
		return deps
	}
	json.Unmarshal([]byte(raw), &deps)
	return deps
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
