package statestore

import (
	"database/sql"

	"github.com/pkg/errors"
)

// migration is one versioned schema change, applied in a single
// transaction: a schema-version table records applied migrations, and
// startup runs any pending migrations in a single transaction per
// version, aborting on error.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS projects (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				hash TEXT UNIQUE NOT NULL,
				ottofile_path TEXT NOT NULL,
				first_seen INTEGER NOT NULL,
				last_seen INTEGER NOT NULL,
				run_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS runs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				timestamp INTEGER UNIQUE NOT NULL,
				status TEXT NOT NULL,
				duration_seconds REAL,
				size_bytes INTEGER,
				ottofile_path TEXT,
				cwd TEXT,
				user TEXT,
				hostname TEXT,
				args TEXT,
				ended_at INTEGER
			)`,
			`CREATE TABLE IF NOT EXISTS tasks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				name TEXT NOT NULL,
				status TEXT NOT NULL,
				script_hash TEXT,
				exit_code INTEGER,
				started_at INTEGER,
				ended_at INTEGER,
				duration_seconds REAL,
				stdout_path TEXT,
				stderr_path TEXT,
				script_path TEXT,
				interactive INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks(run_id)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_name ON tasks(name)`,
		},
	},
}

// migrate applies any migrations whose version is not yet recorded in
// schema_version, each inside its own transaction.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return errors.Wrap(err, "creating schema_version table")
	}

	applied := map[int]bool{}
	rows, err := db.Query(`SELECT version FROM schema_version`)
	if err != nil {
		return errors.Wrap(err, "reading schema_version")
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return errors.Wrap(err, "scanning schema_version")
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return errors.Wrapf(err, "beginning migration %d", m.version)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return errors.Wrapf(err, "applying migration %d", m.version)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, strftime('%s','now'))`, m.version); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "recording migration %d", m.version)
		}
		if err := tx.Commit(); err != nil {
			return errors.Wrapf(err, "committing migration %d", m.version)
		}
	}
	return nil
}
