// Package scheduler walks a built task graph and dispatches ready tasks
// onto one of two permit pools: a general pool sized by
// --jobs, and a singleton pool serializing interactive (PTY-attached)
// tasks so at most one holds the terminal at a time. It tracks task
// outcomes and poisons dependents of a failed task rather than running
// them, reporting them as skipped.
package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/semaphore"

	"github.com/ottolang/otto/internal/taskgraph"
)

// Status is a task's terminal disposition.
type Status string

const (
	Completed Status = "completed"
	Failed    Status = "failed"
	Skipped   Status = "skipped"
)

// Result is one task's outcome.
type Result struct {
	Task     *taskgraph.ExecTask
	Status   Status
	ExitCode int
	Err      error
}

// Runner executes a single task's script and reports its exit code. The
// scheduler itself never touches processes directly; that is procexec and
// ptyrun's job, wired in by the caller.
type Runner interface {
	Run(ctx context.Context, task *taskgraph.ExecTask) (exitCode int, err error)
}

// Options configures one scheduler run.
type Options struct {
	Jobs        int // size of the general permit pool
	Runner      Runner
	Logger      hclog.Logger
	OnTaskStart func(name string)
	OnTaskDone  func(r Result)
}

// Scheduler dispatches a Graph's tasks respecting dependency order and the
// two permit pools.
type Scheduler struct {
	graph  *taskgraph.Graph
	opts   Options
	logger hclog.Logger

	generalSem *semaphore.Weighted
	singleSem  *semaphore.Weighted // weight 1, held by interactive tasks

	mu         sync.Mutex
	indegree   map[string]int
	dependents map[string][]string
	results    map[string]Result
}

// New builds a Scheduler for graph with the given options.
func New(graph *taskgraph.Graph, opts Options) *Scheduler {
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	indegree := make(map[string]int, len(graph.Tasks))
	dependents := make(map[string][]string, len(graph.Tasks))
	for id, t := range graph.Tasks {
		indegree[id] = len(t.Deps)
		for _, dep := range t.Deps {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	return &Scheduler{
		graph:      graph,
		opts:       opts,
		logger:     logger.Named("scheduler"),
		generalSem: semaphore.NewWeighted(int64(jobs)),
		singleSem:  semaphore.NewWeighted(1),
		indegree:   indegree,
		dependents: dependents,
		results:    make(map[string]Result, len(graph.Tasks)),
	}
}

// Run dispatches every task in the graph to completion, cancellation, or
// poisoning, then returns every task's Result keyed by id. It returns a
// non-nil error only if the scheduler itself could not proceed (ctx
// canceled before every task finished); individual task failures are reported in
// the per-task Results instead, so a caller distinguishes "otto couldn't
// run" from "a task failed".
func (s *Scheduler) Run(ctx context.Context) (map[string]Result, error) {
	ready := s.initialReady()
	var wg sync.WaitGroup
	readyCh := make(chan string, len(s.graph.Tasks)+1)
	for _, id := range ready {
		readyCh <- id
	}

	pending := int64(len(s.graph.Tasks))
	if pending == 0 {
		return s.results, nil
	}

	var pendingMu sync.Mutex // guards pending and the channel-close decision

	for {
		select {
		case id, ok := <-readyCh:
			if !ok {
				wg.Wait()
				return s.results, nil
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				s.dispatch(ctx, id)

				pendingMu.Lock()
				newlyReady, skipped := s.advance(id)
				pending -= int64(1 + skipped)
				remaining := pending
				pendingMu.Unlock()

				for _, next := range newlyReady {
					readyCh <- next
				}
				if remaining == 0 {
					close(readyCh)
				}
			}(id)
		case <-ctx.Done():
			wg.Wait()
			return s.results, ctx.Err()
		}
	}
}

// initialReady returns every task id with no remaining dependencies, in a
// deterministic (sorted) order so scheduling is reproducible across runs
// with the same graph and job count.
func (s *Scheduler) initialReady() []string {
	var ready []string
	for id, n := range s.indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// advance records id's completion against its dependents' indegree and
// returns any dependents that became ready, plus the number of tasks it
// poisoned (marked skipped) because id failed.
func (s *Scheduler) advance(id string) ([]string, int) {
	s.mu.Lock()
	result := s.results[id]
	var ready []string
	var poisoned []Result
	for _, dep := range s.dependents[id] {
		if result.Status != Completed {
			s.poisonLocked(dep, &poisoned)
			continue
		}
		s.indegree[dep]--
		if s.indegree[dep] == 0 {
			ready = append(ready, dep)
		}
	}
	s.mu.Unlock()

	if s.opts.OnTaskDone != nil {
		for _, r := range poisoned {
			s.opts.OnTaskDone(r)
		}
	}
	sort.Strings(ready)
	return ready, len(poisoned)
}

// poisonLocked marks id and everything downstream of it as skipped
// without running them, appending each newly-skipped Result to done so
// the caller can invoke OnTaskDone once s.mu is released. Callers must
// hold s.mu.
func (s *Scheduler) poisonLocked(id string, done *[]Result) {
	if _, already := s.results[id]; already {
		return
	}
	t := s.graph.Tasks[id]
	result := Result{Task: t, Status: Skipped}
	s.results[id] = result
	*done = append(*done, result)
	for _, dep := range s.dependents[id] {
		s.poisonLocked(dep, done)
	}
}

// dispatch acquires the appropriate permit, runs the task via the caller's
// Runner, and records its result.
func (s *Scheduler) dispatch(ctx context.Context, id string) {
	s.mu.Lock()
	if _, already := s.results[id]; already {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	t := s.graph.Tasks[id]
	sem := s.generalSem
	if t.Interactive {
		sem = s.singleSem
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		s.recordError(t, err)
		return
	}
	defer sem.Release(1)

	if s.opts.OnTaskStart != nil {
		s.opts.OnTaskStart(t.Name)
	}

	code, err := s.opts.Runner.Run(ctx, t)
	status := Completed
	if err != nil || code != 0 {
		status = Failed
	}
	result := Result{Task: t, Status: status, ExitCode: code, Err: err}

	s.mu.Lock()
	s.results[id] = result
	s.mu.Unlock()

	if s.opts.OnTaskDone != nil {
		s.opts.OnTaskDone(result)
	}
}

func (s *Scheduler) recordError(t *taskgraph.ExecTask, err error) {
	result := Result{Task: t, Status: Failed, Err: err}
	s.mu.Lock()
	s.results[t.Name] = result
	s.mu.Unlock()
	if s.opts.OnTaskDone != nil {
		s.opts.OnTaskDone(result)
	}
}
