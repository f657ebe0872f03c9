package app

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ottolang/otto/internal/taskparse"
	"github.com/ottolang/otto/internal/workspace"
)

// test declares before: [build] only, no input: — the resolved
// dependency list alone must be enough to wire build's output into
// test's otto_get_input.
const sampleOttofile = `
tasks:
  build:
    output: [v]
    action: |
      otto_set_output v hello
  test:
    before: [build]
    action: |
      echo "$(otto_get_input build.v)" > "${OTTO_TASK_DIR}/got.txt"
`

func writeSampleOttofile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ottofile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleOttofile), 0o644))
	return path
}

func TestRunExecutesDependentTasksEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix-only process model")
	}
	ottofile := writeSampleOttofile(t)
	home := t.TempDir()
	t.Setenv("OTTO_HOME", home)

	code := Run([]string{"--ottofile", ottofile, "test"})
	require.Equal(t, ExitOK, code)

	hash, err := workspace.ProjectHash(ottofile)
	require.NoError(t, err)
	projectDir := filepath.Join(home, "otto-"+hash)
	entries, err := os.ReadDir(projectDir)
	require.NoError(t, err)

	var runDirName string
	for _, e := range entries {
		if e.IsDir() && e.Name() != ".cache" {
			runDirName = e.Name()
			break
		}
	}
	require.NotEmpty(t, runDirName, "expected a run directory under %s", projectDir)

	runDir := filepath.Join(projectDir, runDirName)
	testDir := filepath.Join(runDir, "tasks", "test")

	got, err := os.ReadFile(filepath.Join(testDir, "got.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(got))

	link := filepath.Join(testDir, "build.input.json")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	require.Contains(t, target, filepath.Join("build", "build.output.json"))
}

func TestRunReportsUsageErrorOnMissingOttofile(t *testing.T) {
	dir := t.TempDir()
	home := t.TempDir()
	t.Setenv("OTTO_HOME", home)

	code := Run([]string{"--ottofile", filepath.Join(dir, "missing.yaml"), "build"})
	require.Equal(t, ExitUsageError, code)
}

func TestDispatchBuiltinGraphRendersOrderedTasks(t *testing.T) {
	ottofile := writeSampleOttofile(t)

	code, ok := dispatchBuiltin(
		[]taskparse.Partition{{TaskName: "Graph"}},
		nil,
		t.TempDir(),
		"deadbeef",
		ottofile,
	)
	require.True(t, ok)
	require.Equal(t, ExitOK, code)
}

func TestDispatchBuiltinIgnoresMultiTaskRequests(t *testing.T) {
	_, ok := dispatchBuiltin(
		[]taskparse.Partition{{TaskName: "build"}, {TaskName: "test"}},
		[]string{"build", "test"},
		t.TempDir(),
		"deadbeef",
		"",
	)
	require.False(t, ok)
}

func TestDispatchBuiltinUpgradeIsOutOfScope(t *testing.T) {
	code, ok := dispatchBuiltin(
		[]taskparse.Partition{{TaskName: "Upgrade"}},
		nil,
		t.TempDir(),
		"deadbeef",
		"",
	)
	require.True(t, ok)
	require.Equal(t, ExitUsageError, code)
}

func TestUsageMentionsBuiltins(t *testing.T) {
	require.Contains(t, usage(), "Graph, History, Stats, Clean, Upgrade")
}
