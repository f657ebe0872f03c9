// Package taskparse implements phase 2 of Otto's two-phase command-line
// parser: partitioning the remaining argv into per-task argument groups
// once the task namespace is known, and validating each group against
// that task's dynamically-discovered parameter spec.
package taskparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/ottolang/otto/internal/taskfile"
)

// BuiltinNames are the capitalized, never-user-defined task names
// injected into the dynamically discovered namespace.
var BuiltinNames = []string{"Graph", "History", "Stats", "Clean", "Upgrade"}

// Partition is one task name plus the tokens that follow it, up to the next
// recognized task name.
type Partition struct {
	TaskName string // as typed: bare name or "parent:item"
	Args     []string
}

// ErrUnknownTask is returned when a token before (or instead of) any
// recognized task name appears in the partitioned argv.
var ErrUnknownTask = errors.New("unknown task")

// isKnown reports whether tok names a declared task (bare or "parent:item"),
// a foreach subtask, or a built-in.
func isKnown(tok string, tasks map[string]taskfile.TaskSpec) bool {
	parent := tok
	if i := strings.Index(tok, ":"); i >= 0 {
		parent = tok[:i]
	}
	if _, ok := tasks[parent]; ok {
		return true
	}
	for _, b := range BuiltinNames {
		if parent == b {
			return true
		}
	}
	return false
}

// Partition walks remaining argv left-to-right, splitting it into one
// Partition per recognized task name, preserving dedup-by-first-mention
// order for the caller's dependency-resolution request list.
func Partition(remaining []string, tasks map[string]taskfile.TaskSpec) ([]Partition, []string, error) {
	var partitions []Partition
	var order []string
	seen := map[string]bool{}

	var current *Partition
	for _, tok := range remaining {
		if isKnown(tok, tasks) {
			partitions = append(partitions, Partition{TaskName: tok})
			current = &partitions[len(partitions)-1]
			if !seen[tok] {
				seen[tok] = true
				order = append(order, tok)
			}
			continue
		}
		if current == nil {
			return nil, nil, errors.Wrapf(ErrUnknownTask, "%q", tok)
		}
		current.Args = append(current.Args, tok)
	}
	if len(partitions) == 0 {
		return nil, nil, errors.New("no task requested")
	}
	return partitions, order, nil
}

// ParsedArgs is the result of validating one Partition's Args against its
// task's parameter spec.
type ParsedArgs struct {
	Values map[string]string
	Help   bool
}

// Validate builds a parameter validator on demand from spec: parameter
// specs are small uniform records, and the parser builds a per-task
// validator at parse time, not compile time, then parses args against
// it.
func Validate(taskName string, spec taskfile.TaskSpec, args []string) (*ParsedArgs, error) {
	fs := pflag.NewFlagSet(taskName, pflag.ContinueOnError)
	fs.Usage = func() {}
	fs.SetOutput(discard{})

	help := fs.BoolP("help", "h", false, "show help for this task")

	values := map[string]*string{}
	for name, p := range spec.Params {
		long := p.Long
		if long == "" {
			long = name
		}
		values[name] = fs.StringP(long, p.Short, p.Default, fmt.Sprintf("%s (%s)", name, p.Type))
	}
	if spec.Foreach != nil {
		fs.Bool("Serial", false, "force serial execution of foreach subtasks")
	}
	if taskName == "Graph" {
		fs.Bool("Expand", false, "expand foreach tasks in the rendered graph")
	}

	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrapf(err, "task %q", taskName)
	}
	if *help {
		return &ParsedArgs{Help: true}, nil
	}

	out := map[string]string{}
	for name, p := range spec.Params {
		val := *values[name]
		if len(p.Choices) > 0 && val != "" && !contains(p.Choices, val) {
			return nil, errors.Errorf("task %q: parameter %q must be one of %v, got %q", taskName, name, p.Choices, val)
		}
		if p.Type == taskfile.ParamInt && val != "" {
			if _, err := strconv.Atoi(val); err != nil {
				return nil, errors.Errorf("task %q: parameter %q must be an integer, got %q", taskName, name, val)
			}
		}
		out[name] = val
	}
	return &ParsedArgs{Values: out}, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
