package store

import (
	"database/sql"
	"fmt"
)

// migrations run in order inside a single transaction. The schema is
// additive; altering a shipped column means a new migration.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id                     TEXT PRIMARY KEY,
		source                 TEXT NOT NULL,
		source_url             TEXT NOT NULL UNIQUE,
		source_id              TEXT NOT NULL DEFAULT '',
		name                   TEXT NOT NULL,
		description            TEXT NOT NULL DEFAULT '',
		author                 TEXT NOT NULL DEFAULT '',
		license                TEXT NOT NULL DEFAULT '',
		language               TEXT NOT NULL DEFAULT '',
		frameworks             TEXT NOT NULL DEFAULT '[]',
		tags                   TEXT NOT NULL DEFAULT '[]',
		capabilities           TEXT NOT NULL DEFAULT '[]',
		category               TEXT NOT NULL DEFAULT '',
		invocation             TEXT NOT NULL DEFAULT '{}',
		protocols              TEXT NOT NULL DEFAULT '[]',
		pricing                TEXT NOT NULL DEFAULT '{}',
		quality_score          REAL NOT NULL DEFAULT 0,
		documentation_score    REAL NOT NULL DEFAULT 0,
		activity_score         REAL NOT NULL DEFAULT 0,
		popularity_score       REAL NOT NULL DEFAULT 0,
		capability_depth_score REAL NOT NULL DEFAULT 0,
		security_score         REAL NOT NULL DEFAULT 0,
		stars                  INTEGER NOT NULL DEFAULT 0,
		forks                  INTEGER NOT NULL DEFAULT 0,
		downloads              INTEGER NOT NULL DEFAULT 0,
		lifecycle_state        TEXT NOT NULL DEFAULT 'indexed',
		is_active              INTEGER NOT NULL DEFAULT 1,
		is_verified            INTEGER NOT NULL DEFAULT 0,
		first_indexed          TEXT NOT NULL,
		last_crawled           TEXT NOT NULL,
		last_source_update     TEXT,
		raw_metadata           TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_state ON agents(lifecycle_state)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_active ON agents(is_active)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_quality ON agents(quality_score)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_category_quality ON agents(category, quality_score)`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS agents_fts USING fts5(
		name, description, category,
		content='agents', content_rowid='rowid'
	)`,
	`CREATE TRIGGER IF NOT EXISTS agents_ai AFTER INSERT ON agents BEGIN
		INSERT INTO agents_fts(rowid, name, description, category)
		VALUES (new.rowid, new.name, new.description, new.category);
	END`,
	`CREATE TRIGGER IF NOT EXISTS agents_ad AFTER DELETE ON agents BEGIN
		INSERT INTO agents_fts(agents_fts, rowid, name, description, category)
		VALUES ('delete', old.rowid, old.name, old.description, old.category);
	END`,
	`CREATE TRIGGER IF NOT EXISTS agents_au AFTER UPDATE ON agents BEGIN
		INSERT INTO agents_fts(agents_fts, rowid, name, description, category)
		VALUES ('delete', old.rowid, old.name, old.description, old.category);
		INSERT INTO agents_fts(rowid, name, description, category)
		VALUES (new.rowid, new.name, new.description, new.category);
	END`,

	`CREATE TABLE IF NOT EXISTS discovery_log (
		id             TEXT PRIMARY KEY,
		need           TEXT NOT NULL,
		category       TEXT NOT NULL DEFAULT '',
		protocols      TEXT NOT NULL DEFAULT '[]',
		search_method  TEXT NOT NULL DEFAULT '',
		result_count   INTEGER NOT NULL DEFAULT 0,
		top_result_id  TEXT NOT NULL DEFAULT '',
		latency_ms     INTEGER NOT NULL DEFAULT 0,
		timestamp      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_discovery_log_timestamp ON discovery_log(timestamp)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id                  TEXT PRIMARY KEY,
		key_hash            TEXT NOT NULL UNIQUE,
		key_prefix          TEXT NOT NULL,
		agent_name          TEXT NOT NULL DEFAULT '',
		agent_url           TEXT NOT NULL DEFAULT '',
		contact             TEXT NOT NULL DEFAULT '',
		tier                TEXT NOT NULL DEFAULT 'free',
		rate_limit_per_hour INTEGER NOT NULL DEFAULT 100,
		max_results         INTEGER NOT NULL DEFAULT 10,
		total_requests      INTEGER NOT NULL DEFAULT 0,
		last_request_at     TEXT,
		created_at          TEXT NOT NULL,
		is_active           INTEGER NOT NULL DEFAULT 1,
		is_flagged          INTEGER NOT NULL DEFAULT 0,
		flag_reason         TEXT NOT NULL DEFAULT ''
	)`,
}

// migrate applies all schema statements.
func migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, stmt := range migrations {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	return tx.Commit()
}
