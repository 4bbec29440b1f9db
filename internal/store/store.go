package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"hivemind/internal/config"
	_ "modernc.org/sqlite"
)

// Store is the single source of truth for swarms, agents, tasks and the
// orchestration event log. The coordinator, scheduler and monitor all read
// and mutate it from independent loops; WAL mode plus the busy timeout lets
// those writers serialize instead of failing with SQLITE_BUSY.
type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS swarms (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'idle',
			metadata    TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swarms_status ON swarms(status)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id              TEXT PRIMARY KEY,
			swarm_id        TEXT NOT NULL REFERENCES swarms(id) ON DELETE CASCADE,
			role            TEXT NOT NULL,
			capabilities    TEXT,
			status          TEXT NOT NULL DEFAULT 'idle',
			last_heartbeat  DATETIME,
			tasks_completed INTEGER NOT NULL DEFAULT 0,
			tasks_failed    INTEGER NOT NULL DEFAULT 0,
			avg_exec_ms     REAL NOT NULL DEFAULT 0,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_swarm ON agents(swarm_id)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id            TEXT PRIMARY KEY,
			swarm_id      TEXT NOT NULL REFERENCES swarms(id) ON DELETE CASCADE,
			agent_id      TEXT,
			kind          TEXT NOT NULL,
			description   TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'pending',
			priority      INTEGER NOT NULL DEFAULT 5,
			dependencies  TEXT,
			payload       TEXT,
			seq           INTEGER NOT NULL DEFAULT 0,
			retry_count   INTEGER NOT NULL DEFAULT 0,
			next_retry_at DATETIME,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_swarm ON tasks(swarm_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			task_id     TEXT,
			swarm_id    TEXT,
			kind        TEXT NOT NULL,
			details     TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_swarm ON events(swarm_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS slo_results (
			id                  TEXT PRIMARY KEY,
			swarm_id            TEXT NOT NULL REFERENCES swarms(id) ON DELETE CASCADE,
			tokens              INTEGER NOT NULL,
			cost_usd            REAL NOT NULL,
			duration_ms         INTEGER NOT NULL,
			coverage_pct        REAL NOT NULL,
			confidence          REAL NOT NULL,
			cost_breached       BOOLEAN NOT NULL,
			latency_breached    BOOLEAN NOT NULL,
			coverage_breached   BOOLEAN NOT NULL,
			confidence_breached BOOLEAN NOT NULL,
			compliant           BOOLEAN NOT NULL,
			created_at          DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS swarm_schedules (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			schedule     TEXT NOT NULL,
			plan         TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'active',
			next_run_at  DATETIME,
			last_run_at  DATETIME,
			last_status  TEXT,
			last_error   TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON swarm_schedules(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
