package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProjectHashStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ottofile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks: {}\n"), 0o644))

	h1, err := ProjectHash(path)
	require.NoError(t, err)
	h2, err := ProjectHash(path)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 8)
}

func TestCreateIsUniquePerTimestamp(t *testing.T) {
	root := t.TempDir()
	l1, err := Create(root, "ottofile.yaml", "abcd1234", 1000)
	require.NoError(t, err)
	require.DirExists(t, l1.RunDir)

	l2, err := Create(root, "ottofile.yaml", "abcd1234", 1000)
	require.NoError(t, err)
	require.NotEqual(t, l1.RunDir, l2.RunDir)
	require.DirExists(t, l2.RunDir)
}

func TestPrepareTaskDirAndLinkInput(t *testing.T) {
	root := t.TempDir()
	l, err := Create(root, "ottofile.yaml", "abcd1234", 2000)
	require.NoError(t, err)

	_, err = l.PrepareTaskDir("b")
	require.NoError(t, err)
	_, err = l.PrepareTaskDir("a")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(l.OutputPath("b"), []byte(`{"v":"X"}`), 0o644))
	require.NoError(t, l.LinkInput("a", "b"))

	data, err := os.ReadFile(filepath.Join(l.TaskDir("a"), "b.input.json"))
	require.NoError(t, err)
	require.Equal(t, `{"v":"X"}`, string(data))
}

func TestResolveRootPrefersExplicit(t *testing.T) {
	root, err := ResolveRoot("/explicit/root", func(string) string { return "" })
	require.NoError(t, err)
	require.Equal(t, "/explicit/root", root)
}

func TestResolveRootHonorsEnv(t *testing.T) {
	root, err := ResolveRoot("", func(k string) string {
		if k == "OTTO_HOME" {
			return "/env/root"
		}
		return ""
	})
	require.NoError(t, err)
	require.Equal(t, "/env/root", root)
}
