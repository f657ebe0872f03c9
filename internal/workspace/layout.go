// Package workspace manages the on-disk run directory layout: the
// per-project cache, per-run task directories, and the symlink
// discipline binding scripts and dependency data together.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/karrick/godirwalk"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// Layout is one run's view of the workspace filesystem.
type Layout struct {
	Root         string // <root>
	ProjectHash  string
	ProjectDir   string // <root>/otto-<hash>
	CacheDir     string // <root>/otto-<hash>/.cache
	RunTimestamp int64
	RunDir       string // <root>/otto-<hash>/<timestamp>
	TasksDir     string // <run>/tasks
}

// ResolveRoot determines the workspace root directory: an explicit
// override, then OTTO_HOME, then an XDG-data-dir-rooted default, falling
// back to ~/.otto when the XDG data dir is empty. It returns an error if
// that fallback is needed and the home directory cannot be resolved.
func ResolveRoot(explicit string, getenv func(string) string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if v := getenv("OTTO_HOME"); v != "" {
		return v, nil
	}
	if xdg.DataHome != "" {
		return filepath.Join(xdg.DataHome, "otto"), nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "resolving home directory")
	}
	return filepath.Join(home, ".otto"), nil
}

// ProjectHash returns the short content digest of the task file that
// identifies its workspace.
func ProjectHash(taskFilePath string) (string, error) {
	data, err := os.ReadFile(taskFilePath)
	if err != nil {
		return "", errors.Wrapf(err, "hashing task file %s", taskFilePath)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:8], nil
}

// New constructs a Layout for a run at the given Unix timestamp, without
// touching the filesystem; call Create to materialize it.
func New(root, taskFilePath string, projectHash string, timestamp int64) *Layout {
	projectDir := filepath.Join(root, "otto-"+projectHash)
	runDir := filepath.Join(projectDir, fmt.Sprintf("%d", timestamp))
	return &Layout{
		Root:         root,
		ProjectHash:  projectHash,
		ProjectDir:   projectDir,
		CacheDir:     filepath.Join(projectDir, ".cache"),
		RunTimestamp: timestamp,
		RunDir:       runDir,
		TasksDir:     filepath.Join(runDir, "tasks"),
	}
}

// Create makes the run directory unique within the project by bumping the
// timestamp past any existing run directory with that name, then creates
// the project, cache, run, and tasks directories.
func Create(root, taskFilePath, projectHash string, now int64) (*Layout, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating workspace root %s", root)
	}
	l := New(root, taskFilePath, projectHash, now)
	if err := os.MkdirAll(l.ProjectDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating project dir %s", l.ProjectDir)
	}
	if err := os.MkdirAll(l.CacheDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating cache dir %s", l.CacheDir)
	}

	for {
		if _, err := os.Stat(l.RunDir); os.IsNotExist(err) {
			break
		}
		l = New(root, taskFilePath, projectHash, l.RunTimestamp+1)
	}
	if err := os.MkdirAll(l.TasksDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating run dir %s", l.RunDir)
	}
	return l, nil
}

// TaskDir returns the directory a named task's script, logs, and
// input/output JSON live in.
func (l *Layout) TaskDir(taskName string) string {
	return filepath.Join(l.TasksDir, taskName)
}

// PrepareTaskDir creates a task's directory ahead of script generation.
func (l *Layout) PrepareTaskDir(taskName string) (string, error) {
	dir := l.TaskDir(taskName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating task dir %s", dir)
	}
	return dir, nil
}

// LinkInput creates <task-dir>/<dep>.input.json as a symlink to
// <dep-task-dir>/<dep>.output.json. It is safe to call before
// the dependency has actually produced its output file: the symlink may
// dangle until the epilogue runs, and is only ever read afterwards because
// the scheduler enforces the happens-before ordering.
func (l *Layout) LinkInput(taskName, depName string) error {
	taskDir := l.TaskDir(taskName)
	depDir := l.TaskDir(depName)
	link := filepath.Join(taskDir, depName+".input.json")
	target := filepath.Join(depDir, depName+".output.json")

	_ = os.Remove(link)
	rel, err := filepath.Rel(taskDir, target)
	if err != nil {
		rel = target
	}
	if err := os.Symlink(rel, link); err != nil {
		return errors.Wrapf(err, "symlinking %s to %s", link, target)
	}
	return nil
}

// OutputPath returns the absolute path a task's epilogue writes its output
// JSON to.
func (l *Layout) OutputPath(taskName string) string {
	return filepath.Join(l.TaskDir(taskName), taskName+".output.json")
}

// Now returns the current Unix timestamp in seconds, the run identity.
// Extracted as a function so callers (and tests) can supply a
// deterministic clock.
func Now() int64 {
	return time.Now().Unix()
}

// DirSize walks dir with godirwalk and sums the sizes of all
// non-directory entries (a symlink counts by its own size, not its
// target's), for recording how much disk space a run consumed.
func DirSize(dir string) (int64, error) {
	var total int64
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			info, err := os.Lstat(path)
			if err != nil {
				return nil
			}
			total += info.Size()
			return nil
		},
	})
	return total, err
}
