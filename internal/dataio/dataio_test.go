package dataio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteOutputThenReadOutputRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.output.json")

	require.NoError(t, WriteOutput(path, Output{"version": "1.2.3"}))

	out, err := ReadOutput(path)
	require.NoError(t, err)
	require.Equal(t, Output{"version": "1.2.3"}, out)

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestReadOutputMissingFileReturnsEmpty(t *testing.T) {
	out, err := ReadOutput(filepath.Join(t.TempDir(), "absent.output.json"))
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestReadOutputRejectsNonObjectJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.output.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2,3]`), 0o644))

	_, err := ReadOutput(path)
	require.Error(t, err)
}

func TestLoadNamespacedMergesMultipleDeps(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.input.json"), []byte(`{"version":"1.2.3"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lint.input.json"), []byte(`{"passed":"true"}`), 0o644))

	merged, err := LoadNamespaced(dir, []string{"build", "lint"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"build.version": "1.2.3",
		"lint.passed":   "true",
	}, merged)
}

func TestLoadNamespacedSkipsMissingDep(t *testing.T) {
	dir := t.TempDir()
	merged, err := LoadNamespaced(dir, []string{"absent"})
	require.NoError(t, err)
	require.Empty(t, merged)
}
