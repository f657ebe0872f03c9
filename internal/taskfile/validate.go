package taskfile

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// taskNamePattern matches a non-empty token: letters, digits, underscore,
// dash. Colons are reserved for foreach subtask addressing ("parent:item")
// so they may not appear in a declared task name.
var taskNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Validate checks the invariants a TaskSpec must satisfy: a non-empty
// name token, and no reserved parameter names.
func Validate(t TaskSpec) error {
	if t.Name == "" {
		return errors.New("task name must not be empty")
	}
	if !taskNamePattern.MatchString(t.Name) {
		return errors.Errorf("task %q: name must be a single token (letters, digits, '_', '-')", t.Name)
	}
	for paramName := range t.Params {
		if _, reserved := ReservedParamNames[paramName]; reserved {
			return errors.Errorf("task %q: parameter name %q is reserved for built-in flags", t.Name, paramName)
		}
	}
	if t.Foreach != nil {
		if t.Foreach.Glob == "" && len(t.Foreach.Items) == 0 {
			return errors.Errorf("task %q: foreach requires either items or glob", t.Name)
		}
		if t.Foreach.Glob != "" && len(t.Foreach.Items) > 0 {
			return errors.Errorf("task %q: foreach may not set both items and glob", t.Name)
		}
		if t.Foreach.ItemVar == "" {
			return errors.Errorf("task %q: foreach requires an item variable name (as)", t.Name)
		}
	}
	return nil
}

// ValidateFile validates every task in a loaded File and cross-checks that
// before/after references point at declared tasks, collecting every
// violation it finds rather than stopping at the first, so a user fixing a
// task file sees the whole list in one pass.
func ValidateFile(f *File) error {
	var result *multierror.Error
	for name, t := range f.Tasks {
		if name != t.Name {
			result = multierror.Append(result, fmt.Errorf("task file: key %q does not match task name %q", name, t.Name))
			continue
		}
		if err := Validate(t); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, t := range f.Tasks {
		for _, dep := range t.Before {
			if _, ok := f.Tasks[dep]; !ok {
				result = multierror.Append(result, errors.Errorf("task %q: before references unknown task %q", t.Name, dep))
			}
		}
		for _, dep := range t.After {
			if _, ok := f.Tasks[dep]; !ok {
				result = multierror.Append(result, errors.Errorf("task %q: after references unknown task %q", t.Name, dep))
			}
		}
	}
	return result.ErrorOrNil()
}
