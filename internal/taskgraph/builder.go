package taskgraph

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/pkg/errors"
	"github.com/pyr-sh/dag"

	"github.com/ottolang/otto/internal/taskfile"
	"github.com/ottolang/otto/internal/util"
)

// Graph is the built dependency graph, ready for the scheduler.
type Graph struct {
	Tasks map[string]*ExecTask
	// Acyclic mirrors the same vertices/edges using github.com/pyr-sh/dag,
	// for the Graph built-in's rendering.
	Acyclic *dag.AcyclicGraph
}

// Builder expands a loaded task file into ExecTasks for a given request.
type Builder struct {
	file *taskfile.File
}

// NewBuilder creates a Builder over an already-loaded, already-validated
// task file.
func NewBuilder(f *taskfile.File) *Builder {
	return &Builder{file: f}
}

// splitID splits a concrete task id into its parent task name and, if it
// addresses a foreach subtask, the item component.
func splitID(id string) (parent, item string) {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, ""
}

// itemsFor enumerates the foreach items for a task, or nil if it is not a
// foreach task. Empty foreach (zero items) is not an error.
func (b *Builder) itemsFor(t taskfile.TaskSpec) ([]string, error) {
	if t.Foreach == nil {
		return nil, nil
	}
	if len(t.Foreach.Items) > 0 {
		return t.Foreach.Items, nil
	}
	pattern := t.Foreach.Glob
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(b.file.Dir, pattern)
	}
	matches, err := doublestar.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "task %q: evaluating foreach glob %q", t.Name, t.Foreach.Glob)
	}
	sort.Strings(matches)
	return matches, nil
}

// Build resolves `requested` (raw CLI task names, possibly "parent:item")
// into a dependency-closed, cycle-checked Graph.
func (b *Builder) Build(requested []string) (*Graph, error) {
	itemsCache := map[string][]string{}
	itemsOf := func(name string) ([]string, error) {
		if v, ok := itemsCache[name]; ok {
			return v, nil
		}
		t, ok := b.file.Tasks[name]
		if !ok {
			return nil, errors.Errorf("unknown task %q", name)
		}
		items, err := b.itemsFor(t)
		if err != nil {
			return nil, err
		}
		itemsCache[name] = items
		return items, nil
	}

	// expandName turns a bare or addressed name into the concrete ids it
	// contributes to the execution set: bare foreach parents expand to
	// every item; "parent:item" addresses exactly one subtask; anything
	// else is a single, ordinary task id.
	expandName := func(name string) ([]string, error) {
		parent, item := splitID(name)
		t, ok := b.file.Tasks[parent]
		if !ok {
			return nil, errors.Errorf("unknown task %q", parent)
		}
		if t.Foreach == nil {
			if item != "" {
				return nil, errors.Errorf("task %q is not a foreach task, cannot address item %q", parent, item)
			}
			return []string{parent}, nil
		}
		items, err := itemsOf(parent)
		if err != nil {
			return nil, err
		}
		if item != "" {
			return []string{parent + ":" + item}, nil
		}
		ids := make([]string, 0, len(items))
		for _, it := range items {
			ids = append(ids, parent+":"+it)
		}
		return ids, nil
	}

	visited := util.NewSet()
	tasks := map[string]*ExecTask{}
	var queue []string
	for _, r := range requested {
		ids, err := expandName(r)
		if err != nil {
			return nil, err
		}
		queue = append(queue, ids...)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited.Includes(id) {
			continue
		}
		visited.Add(id)

		parent, item := splitID(id)
		spec, ok := b.file.Tasks[parent]
		if !ok {
			return nil, errors.Errorf("unknown task %q", parent)
		}

		exec, err := b.materialize(spec, item)
		if err != nil {
			return nil, err
		}

		// Prerequisite deps: spec.Before, with bare foreach deps expanding
		// to all items of that dependency.
		var deps []string
		for _, dep := range spec.Before {
			ids, err := expandName(dep)
			if err != nil {
				return nil, err
			}
			deps = append(deps, ids...)
			queue = append(queue, ids...)
		}

		// Inverted after-deps: any task S with parent in S.After becomes a
		// dependency of this id (flattening rule).
		for _, other := range b.file.Tasks {
			for _, target := range other.After {
				if target != parent {
					continue
				}
				ids, err := expandName(other.Name)
				if err != nil {
					return nil, err
				}
				deps = append(deps, ids...)
				queue = append(queue, ids...)
			}
		}

		// Forward trigger inclusion: this task's own After list pulls its
		// targets into the execution set (they will depend back on this
		// task via the inversion above).
		for _, target := range spec.After {
			ids, err := expandName(target)
			if err != nil {
				return nil, err
			}
			queue = append(queue, ids...)
		}

		exec.Deps = dedupe(deps)
		tasks[id] = exec
	}

	if cycle, ok := detectCycle(tasks); ok {
		return nil, errors.Errorf("dependency cycle detected: %s", strings.Join(cycle, " -> "))
	}

	acyclic := &dag.AcyclicGraph{}
	for id, t := range tasks {
		acyclic.Add(id)
		for _, dep := range t.Deps {
			acyclic.Add(dep)
			acyclic.Connect(dag.BasicEdge(id, dep))
		}
	}

	return &Graph{Tasks: tasks, Acyclic: acyclic}, nil
}

// materialize builds the ExecTask for one concrete (parent, item) pair,
// substituting the foreach item variable into the action and environment.
func (b *Builder) materialize(spec taskfile.TaskSpec, item string) (*ExecTask, error) {
	env := map[string]string{}
	for k, v := range spec.Env {
		env[k] = v
	}
	action := spec.Action
	name := spec.Name
	parallel := spec.Parallel
	if item != "" && spec.Foreach != nil {
		env[spec.Foreach.ItemVar] = item
		action = substituteItemVar(action, spec.Foreach.ItemVar, item)
		name = spec.Name + ":" + item
		parallel = spec.Foreach.Parallel
	}

	params := map[string]string{}
	for k, p := range spec.Params {
		params[k] = p.Default
	}

	var timeout time.Duration
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, errors.Wrapf(err, "task %q: invalid timeout %q", spec.Name, spec.Timeout)
		}
		timeout = d
	}

	return &ExecTask{
		Name:        name,
		Parent:      spec.Name,
		Item:        item,
		Env:         env,
		Params:      params,
		Input:       append([]string{}, spec.Input...),
		Output:      append([]string{}, spec.Output...),
		Action:      action,
		Interactive: spec.Interactive,
		Timeout:     timeout,
		Parallel:    parallel,
	}, nil
}

// substituteItemVar replaces ${VAR} and $VAR occurrences of the foreach item
// variable inside the action body with its concrete value for this subtask.
func substituteItemVar(action, varName, value string) string {
	action = strings.ReplaceAll(action, "${"+varName+"}", value)
	action = strings.ReplaceAll(action, "$"+varName, value)
	return action
}

func dedupe(in []string) []string {
	seen := util.NewSet()
	out := make([]string, 0, len(in))
	for _, v := range in {
		if seen.Includes(v) {
			continue
		}
		seen.Add(v)
		out = append(out, v)
	}
	return out
}

// detectCycle runs a DFS over the task dependency map and returns the first
// cycle found, named by its participating task ids, for a clear error
// message.
func detectCycle(tasks map[string]*ExecTask) ([]string, bool) {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(tasks))
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		color[id] = gray
		path = append(path, id)
		for _, dep := range tasks[id].Deps {
			switch color[dep] {
			case gray:
				// Found the cycle: trim path to start at dep.
				for i, p := range path {
					if p == dep {
						return append(append([]string{}, path[i:]...), dep), true
					}
				}
				return []string{dep, id, dep}, true
			case white:
				if cyc, found := visit(dep); found {
					return cyc, true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil, false
	}

	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if cyc, found := visit(id); found {
				return cyc, true
			}
		}
	}
	return nil, false
}
