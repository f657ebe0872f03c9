// Package builtin implements Otto's five built-in tasks: Graph,
// History, Stats, Clean, and Upgrade. They are injected into the
// dynamically-discovered task namespace alongside the task file's own
// tasks, rather than living on a separate cobra subcommand tree, so phase
// 2 partitioning treats them uniformly.
package builtin

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/pyr-sh/dag"

	"github.com/ottolang/otto/internal/taskgraph"
)

// RenderDOT renders a graph in Graphviz DOT notation: a DOT-format
// rendering of the resolved execution graph.
func RenderDOT(g *taskgraph.Graph) string {
	var b strings.Builder
	b.WriteString("digraph otto {\n")
	ids := make([]string, 0, len(g.Tasks))
	for id := range g.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.WriteString(fmt.Sprintf("  %q;\n", id))
	}
	for _, id := range ids {
		deps := append([]string{}, g.Tasks[id].Deps...)
		sort.Strings(deps)
		for _, dep := range deps {
			b.WriteString(fmt.Sprintf("  %q -> %q;\n", dep, id))
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// RenderASCII renders a simple topologically-ordered listing of the
// graph, one "task <- deps" line per task, a lighter alternative to the graphviz-backed image
// renderer below.
func RenderASCII(g *taskgraph.Graph) (string, error) {
	acyclic := g.Acyclic
	if acyclic == nil {
		acyclic = &dag.AcyclicGraph{}
		for id, t := range g.Tasks {
			acyclic.Add(id)
			for _, dep := range t.Deps {
				acyclic.Add(dep)
				acyclic.Connect(dag.BasicEdge(id, dep))
			}
		}
	}

	order, err := topoSort(g)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, id := range order {
		t := g.Tasks[id]
		b.WriteString(id)
		if len(t.Deps) > 0 {
			deps := append([]string{}, t.Deps...)
			sort.Strings(deps)
			b.WriteString(" <- ")
			b.WriteString(strings.Join(deps, ", "))
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// topoSort returns task ids in an order where every task follows all of
// its dependencies, breaking ties alphabetically for reproducible output.
func topoSort(g *taskgraph.Graph) ([]string, error) {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for id, t := range g.Tasks {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range t.Deps {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var newlyReady []string
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				newlyReady = append(newlyReady, dep)
			}
		}
		sort.Strings(newlyReady)
		ready = append(ready, newlyReady...)
		sort.Strings(ready)
	}

	if len(order) != len(g.Tasks) {
		return nil, errors.New("graph has a cycle, cannot topologically sort")
	}
	return order, nil
}

// RenderImage shells out to graphviz's `dot` to produce an image from DOT
// source, returning a clear error if it is not installed.
func RenderImage(dotSource, format, outPath string) error {
	if _, err := exec.LookPath("dot"); err != nil {
		return errors.New("graphviz 'dot' not found on PATH; install graphviz to render an image, or use the DOT/ASCII output directly")
	}
	cmd := exec.Command("dot", "-T"+format, "-o", outPath)
	cmd.Stdin = strings.NewReader(dotSource)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "dot failed: %s", string(out))
	}
	return nil
}
