package builtin

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ottolang/otto/internal/statestore"
	"github.com/ottolang/otto/internal/taskgraph"
)

func sampleGraph() *taskgraph.Graph {
	return &taskgraph.Graph{Tasks: map[string]*taskgraph.ExecTask{
		"build": {Name: "build"},
		"test":  {Name: "test", Deps: []string{"build"}},
		"lint":  {Name: "lint", Deps: []string{"build"}},
	}}
}

func TestRenderDOTIncludesEdges(t *testing.T) {
	dot := RenderDOT(sampleGraph())
	require.Contains(t, dot, `"build" -> "test"`)
	require.Contains(t, dot, `"build" -> "lint"`)
	require.True(t, strings.HasPrefix(dot, "digraph otto {"))
}

func TestRenderASCIIOrdersDependenciesFirst(t *testing.T) {
	out, err := RenderASCII(sampleGraph())
	require.NoError(t, err)
	require.Contains(t, out, "build\n")
	require.Contains(t, out, "test <- build")
}

func TestRenderASCIIDetectsCycle(t *testing.T) {
	g := &taskgraph.Graph{Tasks: map[string]*taskgraph.ExecTask{
		"a": {Name: "a", Deps: []string{"b"}},
		"b": {Name: "b", Deps: []string{"a"}},
	}}
	_, err := RenderASCII(g)
	require.Error(t, err)
}

func TestUpgradeReturnsOutOfScopeError(t *testing.T) {
	err := Upgrade()
	require.Error(t, err)
}

func TestFormatHistoryEmpty(t *testing.T) {
	require.Equal(t, "no runs recorded\n", FormatHistory(nil))
}

func TestFormatStatsNoRuns(t *testing.T) {
	out := FormatStats("build", &statestore.Stats{})
	require.Equal(t, "build: no recorded runs\n", out)
}

func TestCleanDryRunDoesNotDelete(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "otto.db")
	store, err := statestore.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	projID, err := store.UpsertProject("hash1", "ottofile.yaml", 100)
	require.NoError(t, err)
	oldTs := int64(1)
	runID, err := store.StartRun(projID, oldTs, "ottofile.yaml", "/cwd", "u", "h", nil)
	require.NoError(t, err)
	require.NoError(t, store.EndRun(runID, "completed", 1, 0, oldTs))

	result, err := Clean(store, CleanOptions{
		ProjectDir:  filepath.Join(dir, "otto-hash1"),
		ProjectHash: "hash1",
		KeepDays:    0,
		KeepLast:    0,
		KeepFailed:  0,
		DryRun:      true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.RunsRemoved)
	require.True(t, result.DryRun)

	history, err := store.History(statestore.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 1)
}
