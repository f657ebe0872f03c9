package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ottolang/otto/internal/taskgraph"
)

type fakeRunner struct {
	mu        sync.Mutex
	started   []string
	exitCodes map[string]int
	delay     time.Duration
	maxInFlight int32
	inFlight    int32
}

func (f *fakeRunner) Run(ctx context.Context, t *taskgraph.ExecTask) (int, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}
	f.mu.Lock()
	f.started = append(f.started, t.Name)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	atomic.AddInt32(&f.inFlight, -1)

	code := 0
	if f.exitCodes != nil {
		code = f.exitCodes[t.Name]
	}
	return code, nil
}

func graphOf(tasks map[string][]string) *taskgraph.Graph {
	g := &taskgraph.Graph{Tasks: map[string]*taskgraph.ExecTask{}}
	for name, deps := range tasks {
		g.Tasks[name] = &taskgraph.ExecTask{Name: name, Deps: deps}
	}
	return g
}

func TestRunExecutesAllTasksInDependencyOrder(t *testing.T) {
	g := graphOf(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})
	runner := &fakeRunner{}
	s := New(g, Options{Jobs: 2, Runner: runner})

	results, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, name := range []string{"a", "b", "c"} {
		require.Equal(t, Completed, results[name].Status)
	}

	order := runner.started
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunRespectsJobsLimit(t *testing.T) {
	tasks := map[string][]string{}
	for i := 0; i < 10; i++ {
		tasks[string(rune('a'+i))] = nil
	}
	g := graphOf(tasks)
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	s := New(g, Options{Jobs: 3, Runner: runner})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	require.LessOrEqual(t, runner.maxInFlight, int32(3))
}

func TestRunPoisonsDependentsOfFailedTask(t *testing.T) {
	g := graphOf(map[string][]string{
		"build": nil,
		"test":  {"build"},
		"lint":  nil,
	})
	runner := &fakeRunner{exitCodes: map[string]int{"build": 1}}
	s := New(g, Options{Jobs: 2, Runner: runner})

	results, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Failed, results["build"].Status)
	require.Equal(t, Skipped, results["test"].Status)
	require.Equal(t, Completed, results["lint"].Status)
}

func TestRunInteractiveTasksAreSerialized(t *testing.T) {
	g := &taskgraph.Graph{Tasks: map[string]*taskgraph.ExecTask{
		"a": {Name: "a", Interactive: true},
		"b": {Name: "b", Interactive: true},
	}}
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	s := New(g, Options{Jobs: 4, Runner: runner})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), runner.maxInFlight)
}

func TestRunCancellationStopsDispatch(t *testing.T) {
	tasks := map[string][]string{}
	for i := 0; i < 5; i++ {
		tasks[string(rune('a'+i))] = nil
	}
	g := graphOf(tasks)
	runner := &fakeRunner{delay: 200 * time.Millisecond}
	s := New(g, Options{Jobs: 1, Runner: runner})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Run(ctx)
	require.Error(t, err)
}
