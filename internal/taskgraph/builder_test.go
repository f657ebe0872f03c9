package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ottolang/otto/internal/taskfile"
)

func mustFile(t *testing.T, tasks map[string]taskfile.TaskSpec) *taskfile.File {
	t.Helper()
	for name, spec := range tasks {
		spec.Name = name
		tasks[name] = spec
	}
	return &taskfile.File{Dir: t.TempDir(), Tasks: tasks}
}

func TestBuildBeforeDependency(t *testing.T) {
	f := mustFile(t, map[string]taskfile.TaskSpec{
		"a": {Before: []string{"b"}, Action: "echo a"},
		"b": {Action: "echo b"},
	})
	g, err := NewBuilder(f).Build([]string{"a"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, keys(g.Tasks))
	require.Equal(t, []string{"b"}, g.Tasks["a"].Deps)
}

func TestBuildAfterInversionRequestingSource(t *testing.T) {
	// x.after = [y]; requesting x must pull in y, with y depending on x.
	f := mustFile(t, map[string]taskfile.TaskSpec{
		"x": {After: []string{"y"}, Action: "echo x"},
		"y": {Action: "echo y"},
	})
	g, err := NewBuilder(f).Build([]string{"x"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"x", "y"}, keys(g.Tasks))
	require.Equal(t, []string{"x"}, g.Tasks["y"].Deps)
	require.Empty(t, g.Tasks["x"].Deps)
}

func TestBuildAfterInversionRequestingTarget(t *testing.T) {
	f := mustFile(t, map[string]taskfile.TaskSpec{
		"x": {After: []string{"y"}, Action: "echo x"},
		"y": {Action: "echo y"},
	})
	g, err := NewBuilder(f).Build([]string{"y"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"x", "y"}, keys(g.Tasks))
	require.Equal(t, []string{"x"}, g.Tasks["y"].Deps)
}

func TestBuildForeachExpansion(t *testing.T) {
	f := mustFile(t, map[string]taskfile.TaskSpec{
		"examples": {
			Foreach: &taskfile.ForeachSpec{Items: []string{"one", "two", "three"}, ItemVar: "ITEM", Parallel: true},
			Action:  "echo $ITEM",
		},
	})
	g, err := NewBuilder(f).Build([]string{"examples"})
	require.NoError(t, err)
	require.Len(t, g.Tasks, 3)
	require.Contains(t, g.Tasks, "examples:one")
	require.Contains(t, g.Tasks, "examples:two")
	require.Contains(t, g.Tasks, "examples:three")
}

func TestBuildForeachTargetingSingleItem(t *testing.T) {
	f := mustFile(t, map[string]taskfile.TaskSpec{
		"deps": {Action: "echo dep"},
		"examples": {
			Before:  []string{"deps"},
			Foreach: &taskfile.ForeachSpec{Items: []string{"one", "two"}, ItemVar: "ITEM"},
			Action:  "echo $ITEM",
		},
	})
	g, err := NewBuilder(f).Build([]string{"examples:one"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"examples:one", "deps"}, keys(g.Tasks))
}

func TestBuildEmptyForeachProducesNoSubtasks(t *testing.T) {
	f := mustFile(t, map[string]taskfile.TaskSpec{
		"examples": {
			Foreach: &taskfile.ForeachSpec{Glob: "nonexistent/*.txt", ItemVar: "ITEM"},
			Action:  "echo $ITEM",
		},
	})
	g, err := NewBuilder(f).Build([]string{"examples"})
	require.NoError(t, err)
	require.Empty(t, g.Tasks)
}

func TestBuildDetectsCycle(t *testing.T) {
	f := mustFile(t, map[string]taskfile.TaskSpec{
		"a": {Before: []string{"b"}, Action: "echo a"},
		"b": {Before: []string{"a"}, Action: "echo b"},
	})
	_, err := NewBuilder(f).Build([]string{"a"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestBuildUnknownTask(t *testing.T) {
	f := mustFile(t, map[string]taskfile.TaskSpec{
		"a": {Action: "echo a"},
	})
	_, err := NewBuilder(f).Build([]string{"nope"})
	require.Error(t, err)
}

func keys(m map[string]*ExecTask) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
