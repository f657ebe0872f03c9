// Package statestore is Otto's hybrid metadata store: filesystem-resident
// artifacts are authoritative, this package mirrors them into a relational
// store (SQLite, via github.com/mattn/go-sqlite3) for history, stats,
// and retention queries. It is always optional: if it cannot be
// opened, the rest of Otto degrades to filesystem-only operation.
package statestore

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store wraps the underlying database connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path, enables
// write-ahead logging for concurrent reads during writes, enables foreign
// keys so cascading deletes work, and runs any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrapf(err, "opening state store %s", path)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "pinging state store %s", path)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "running migrations")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecoverOrphans re-classifies any run left in "running" status as
// "failed": a recovery pass at startup handles runs whose process was
// killed before it could record a terminal status.
func (s *Store) RecoverOrphans() (int64, error) {
	res, err := s.db.Exec(`UPDATE runs SET status = 'failed', ended_at = strftime('%s','now') WHERE status = 'running'`)
	if err != nil {
		return 0, errors.Wrap(err, "recovering orphaned runs")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// UpsertProject inserts a project row on first sight or bumps last_seen and
// run_count on subsequent runs (recording contract).
func (s *Store) UpsertProject(hash, ottofilePath string, now int64) (int64, error) {
	_, err := s.db.Exec(`
		INSERT INTO projects (hash, ottofile_path, first_seen, last_seen, run_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(hash) DO UPDATE SET last_seen = excluded.last_seen, run_count = run_count + 1
	`, hash, ottofilePath, now, now)
	if err != nil {
		return 0, errors.Wrap(err, "upserting project")
	}
	var id int64
	if err := s.db.QueryRow(`SELECT id FROM projects WHERE hash = ?`, hash).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "fetching project id")
	}
	return id, nil
}

// StartRun inserts a run row with status=running.
func (s *Store) StartRun(projectID, timestamp int64, ottofilePath, cwd, user, hostname string, args []string) (int64, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return 0, errors.Wrap(err, "marshaling run args")
	}
	res, err := s.db.Exec(`
		INSERT INTO runs (project_id, timestamp, status, ottofile_path, cwd, user, hostname, args)
		VALUES (?, ?, 'running', ?, ?, ?, ?, ?)
	`, projectID, timestamp, ottofilePath, cwd, user, hostname, string(argsJSON))
	if err != nil {
		return 0, errors.Wrap(err, "inserting run")
	}
	return res.LastInsertId()
}

// EndRun updates a run's terminal status exactly once.
func (s *Store) EndRun(runID int64, status string, durationSeconds float64, sizeBytes int64, endedAt int64) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, duration_seconds = ?, size_bytes = ?, ended_at = ?
		WHERE id = ?
	`, status, durationSeconds, sizeBytes, endedAt, runID)
	return errors.Wrap(err, "updating run")
}

// StartTask inserts a task row at the moment it begins running.
func (s *Store) StartTask(runID int64, name string, interactive bool, startedAt int64) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO tasks (run_id, name, status, interactive, started_at)
		VALUES (?, ?, 'running', ?, ?)
	`, runID, name, interactive, startedAt)
	if err != nil {
		return 0, errors.Wrap(err, "inserting task")
	}
	return res.LastInsertId()
}

// TaskResult carries the fields recorded once a task reaches a terminal
// state (TaskRecord).
type TaskResult struct {
	Status          string // completed, failed, skipped
	ExitCode        int
	EndedAt         int64
	DurationSeconds float64
	StdoutPath      string
	StderrPath      string
	ScriptPath      string
	ScriptHash      string
}

// EndTask updates a task row once, on completion or skip.
func (s *Store) EndTask(taskID int64, r TaskResult) error {
	_, err := s.db.Exec(`
		UPDATE tasks SET status = ?, exit_code = ?, ended_at = ?, duration_seconds = ?,
			stdout_path = ?, stderr_path = ?, script_path = ?, script_hash = ?
		WHERE id = ?
	`, r.Status, r.ExitCode, r.EndedAt, r.DurationSeconds, r.StdoutPath, r.StderrPath, r.ScriptPath, r.ScriptHash, taskID)
	return errors.Wrap(err, "updating task")
}

// RunSummary is one row of a History query's result.
type RunSummary struct {
	RunID       int64
	ProjectHash string
	Timestamp   int64
	Status      string
	Duration    float64
	Ottofile    string
}

// HistoryFilter narrows a History query.
type HistoryFilter struct {
	Limit   int
	Status  string
	Project string
	Task    string
}

// History returns the most recent runs, optionally filtered by project
// or task.
func (s *Store) History(f HistoryFilter) ([]RunSummary, error) {
	query := `
		SELECT runs.id, projects.hash, runs.timestamp, runs.status, COALESCE(runs.duration_seconds, 0), runs.ottofile_path
		FROM runs
		JOIN projects ON projects.id = runs.project_id
	`
	var where []string
	var args []interface{}
	if f.Status != "" {
		where = append(where, "runs.status = ?")
		args = append(args, f.Status)
	}
	if f.Project != "" {
		where = append(where, "projects.hash = ?")
		args = append(args, f.Project)
	}
	if f.Task != "" {
		where = append(where, "runs.id IN (SELECT run_id FROM tasks WHERE tasks.name = ?)")
		args = append(args, f.Task)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY runs.timestamp DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying history")
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.ProjectHash, &r.Timestamp, &r.Status, &r.Duration, &r.Ottofile); err != nil {
			return nil, errors.Wrap(err, "scanning history row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats is an aggregate summary for a task name (or all tasks).
type Stats struct {
	Count       int64
	SuccessRate float64
	AvgDuration float64
	MinDuration float64
	MaxDuration float64
	TotalTime   float64
}

// TaskStats computes aggregate statistics, optionally scoped to one task
// name.
func (s *Store) TaskStats(taskName string) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_seconds), 0),
			COALESCE(MIN(duration_seconds), 0),
			COALESCE(MAX(duration_seconds), 0),
			COALESCE(SUM(duration_seconds), 0)
		FROM tasks
	`
	args := []interface{}{}
	if taskName != "" {
		query += " WHERE name = ?"
		args = append(args, taskName)
	}

	var count, successes int64
	var avg, min, max, total float64
	if err := s.db.QueryRow(query, args...).Scan(&count, &successes, &avg, &min, &max, &total); err != nil {
		return nil, errors.Wrap(err, "querying stats")
	}
	rate := 0.0
	if count > 0 {
		rate = float64(successes) / float64(count)
	}
	return &Stats{
		Count:       count,
		SuccessRate: rate,
		AvgDuration: avg,
		MinDuration: min,
		MaxDuration: max,
		TotalTime:   total,
	}, nil
}

// CleanupPlan is the computed, pre-deletion result of applying the
// retention policy in cleanup contract.
type CleanupPlan struct {
	RunIDs     []int64
	Timestamps []int64
}

// PlanCleanup computes which runs should be deleted for a project (or all
// projects, if projectHash is empty) given keep-days, keep-last, and
// keep-failed thresholds. keep-last takes precedence, then a per-status
// age threshold.
func (s *Store) PlanCleanup(projectHash string, keepDays, keepLast, keepFailed int) (*CleanupPlan, error) {
	query := `SELECT runs.id, runs.timestamp, runs.status FROM runs JOIN projects ON projects.id = runs.project_id`
	var args []interface{}
	if projectHash != "" {
		query += " WHERE projects.hash = ?"
		args = append(args, projectHash)
	}
	query += " ORDER BY runs.timestamp DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying runs for cleanup")
	}
	defer rows.Close()

	type row struct {
		id        int64
		timestamp int64
		status    string
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.timestamp, &r.status); err != nil {
			return nil, errors.Wrap(err, "scanning cleanup row")
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keep := map[int64]bool{}
	// keep-last takes precedence: the N most recent runs are always kept.
	for i := 0; i < keepLast && i < len(all); i++ {
		keep[all[i].id] = true
	}

	now := time.Now().Unix()
	ageThreshold := func(status string) int64 {
		if status == "failed" {
			return int64(keepFailed) * 86400
		}
		return int64(keepDays) * 86400
	}

	plan := &CleanupPlan{}
	for _, r := range all {
		if keep[r.id] {
			continue
		}
		if now-r.timestamp < ageThreshold(r.status) {
			continue
		}
		plan.RunIDs = append(plan.RunIDs, r.id)
		plan.Timestamps = append(plan.Timestamps, r.timestamp)
	}
	return plan, nil
}

// DeleteRuns removes run rows (and their cascaded task rows) by id.
func (s *Store) DeleteRuns(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(`DELETE FROM runs WHERE id IN (`+placeholders+`)`, args...)
	return errors.Wrap(err, "deleting runs")
}
