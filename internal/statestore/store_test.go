package statestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "otto.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)
	var version int
	err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version)
	require.NoError(t, err)
	require.Equal(t, 1, version)
}

func TestOpenOnMissingDirDegradesGracefully(t *testing.T) {
	_, err := Open(filepath.Join("/nonexistent-dir-xyz", "otto.db"))
	require.Error(t, err)
}

func TestUpsertProjectInsertsThenBumps(t *testing.T) {
	s := openTestStore(t)
	id1, err := s.UpsertProject("hash1", "ottofile.yaml", 100)
	require.NoError(t, err)
	id2, err := s.UpsertProject("hash1", "ottofile.yaml", 200)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	var runCount int
	require.NoError(t, s.db.QueryRow(`SELECT run_count FROM projects WHERE id = ?`, id1).Scan(&runCount))
	require.Equal(t, 2, runCount)
}

func TestRunAndTaskLifecycleRecordsTerminalStatus(t *testing.T) {
	s := openTestStore(t)
	projID, err := s.UpsertProject("hash1", "ottofile.yaml", 100)
	require.NoError(t, err)

	runID, err := s.StartRun(projID, 100, "ottofile.yaml", "/cwd", "alice", "host", []string{"build"})
	require.NoError(t, err)

	taskID, err := s.StartTask(runID, "build", false, 100)
	require.NoError(t, err)

	require.NoError(t, s.EndTask(taskID, TaskResult{
		Status:          "completed",
		ExitCode:        0,
		EndedAt:         110,
		DurationSeconds: 10,
	}))
	require.NoError(t, s.EndRun(runID, "completed", 10, 0, 110))

	history, err := s.History(HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "completed", history[0].Status)
}

func TestRecoverOrphansMarksRunningAsFailed(t *testing.T) {
	s := openTestStore(t)
	projID, err := s.UpsertProject("hash1", "ottofile.yaml", 100)
	require.NoError(t, err)
	runID, err := s.StartRun(projID, 100, "ottofile.yaml", "/cwd", "alice", "host", nil)
	require.NoError(t, err)

	n, err := s.RecoverOrphans()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	history, err := s.History(HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "failed", history[0].Status)
	require.Equal(t, runID, history[0].RunID)
}

func TestHistoryFiltersByStatusProjectAndTask(t *testing.T) {
	s := openTestStore(t)
	p1, err := s.UpsertProject("hash1", "a.yaml", 100)
	require.NoError(t, err)
	p2, err := s.UpsertProject("hash2", "b.yaml", 100)
	require.NoError(t, err)

	r1, err := s.StartRun(p1, 100, "a.yaml", "/cwd", "u", "h", nil)
	require.NoError(t, err)
	require.NoError(t, s.EndRun(r1, "completed", 1, 0, 101))
	t1, err := s.StartTask(r1, "build", false, 100)
	require.NoError(t, err)
	require.NoError(t, s.EndTask(t1, TaskResult{Status: "completed", EndedAt: 101}))

	r2, err := s.StartRun(p2, 200, "b.yaml", "/cwd", "u", "h", nil)
	require.NoError(t, err)
	require.NoError(t, s.EndRun(r2, "failed", 1, 0, 201))

	byStatus, err := s.History(HistoryFilter{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, r2, byStatus[0].RunID)

	byProject, err := s.History(HistoryFilter{Project: "hash1"})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	require.Equal(t, r1, byProject[0].RunID)

	byTask, err := s.History(HistoryFilter{Task: "build"})
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	require.Equal(t, r1, byTask[0].RunID)
}

func TestTaskStatsComputesSuccessRateAndDurations(t *testing.T) {
	s := openTestStore(t)
	projID, err := s.UpsertProject("hash1", "ottofile.yaml", 100)
	require.NoError(t, err)
	runID, err := s.StartRun(projID, 100, "ottofile.yaml", "/cwd", "u", "h", nil)
	require.NoError(t, err)

	t1, err := s.StartTask(runID, "build", false, 0)
	require.NoError(t, err)
	require.NoError(t, s.EndTask(t1, TaskResult{Status: "completed", DurationSeconds: 10}))

	t2, err := s.StartTask(runID, "build", false, 0)
	require.NoError(t, err)
	require.NoError(t, s.EndTask(t2, TaskResult{Status: "failed", DurationSeconds: 20}))

	stats, err := s.TaskStats("build")
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Count)
	require.InDelta(t, 0.5, stats.SuccessRate, 0.001)
	require.InDelta(t, 15, stats.AvgDuration, 0.001)
	require.InDelta(t, 30, stats.TotalTime, 0.001)
}

func TestPlanCleanupKeepsLastNRegardlessOfAge(t *testing.T) {
	s := openTestStore(t)
	projID, err := s.UpsertProject("hash1", "ottofile.yaml", 100)
	require.NoError(t, err)

	now := int64(100000000)
	veryOld := now - 1000*86400
	for i := 0; i < 3; i++ {
		runID, err := s.StartRun(projID, veryOld+int64(i), "ottofile.yaml", "/cwd", "u", "h", nil)
		require.NoError(t, err)
		require.NoError(t, s.EndRun(runID, "completed", 1, 0, veryOld+int64(i)))
	}

	plan, err := s.PlanCleanup("hash1", 7, 2, 14)
	require.NoError(t, err)
	require.Len(t, plan.RunIDs, 1)
}

func TestDeleteRunsCascadesToTasks(t *testing.T) {
	s := openTestStore(t)
	projID, err := s.UpsertProject("hash1", "ottofile.yaml", 100)
	require.NoError(t, err)
	runID, err := s.StartRun(projID, 100, "ottofile.yaml", "/cwd", "u", "h", nil)
	require.NoError(t, err)
	taskID, err := s.StartTask(runID, "build", false, 100)
	require.NoError(t, err)
	require.NoError(t, s.EndTask(taskID, TaskResult{Status: "completed"}))

	require.NoError(t, s.DeleteRuns([]int64{runID}))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE run_id = ?`, runID).Scan(&count))
	require.Equal(t, 0, count)
}
