package taskfile

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// KnownFileNames are the names Find walks up from the cwd looking for
// when --ottofile/OTTOFILE are unset.
var KnownFileNames = []string{"ottofile.yaml", "ottofile.yml", ".ottofile.yaml", ".ottofile.yml"}

// ErrNotFound is returned by Find when no task file could be located.
var ErrNotFound = errors.New("no task file found")

// Find resolves an absolute task file path by precedence: an explicit
// path, then OTTOFILE, then an upward directory search from cwd for one
// of KnownFileNames.
func Find(explicit string, env func(string) string, cwd string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", errors.Wrapf(err, "resolving %q", explicit)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", errors.Wrapf(ErrNotFound, "%s", abs)
		}
		return abs, nil
	}
	if v := env("OTTOFILE"); v != "" {
		abs, err := filepath.Abs(v)
		if err != nil {
			return "", errors.Wrapf(err, "resolving %q", v)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", errors.Wrapf(ErrNotFound, "%s", abs)
		}
		return abs, nil
	}

	dir, err := filepath.Abs(cwd)
	if err != nil {
		return "", errors.Wrap(err, "resolving cwd")
	}
	for {
		for _, name := range KnownFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Load reads and unmarshals the task file at path, assigns each TaskSpec its
// map key as Name, and validates the result.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading task file %s", path)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "parsing task file %s", path)
	}
	f.Path = path
	f.Dir = filepath.Dir(path)
	for name, t := range f.Tasks {
		t.Name = name
		f.Tasks[name] = t
	}
	if err := ValidateFile(&f); err != nil {
		return nil, err
	}
	return &f, nil
}
