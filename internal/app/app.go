// Package app wires Otto's components into the end-to-end pipeline a CLI
// entry point drives: phase 1/2 parsing, graph building, workspace
// preparation, scheduling, and script execution (data flow).
package app

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ottolang/otto/internal/action"
	"github.com/ottolang/otto/internal/builtin"
	"github.com/ottolang/otto/internal/cliflags"
	"github.com/ottolang/otto/internal/dataio"
	"github.com/ottolang/otto/internal/procexec"
	"github.com/ottolang/otto/internal/ptyrun"
	"github.com/ottolang/otto/internal/scheduler"
	"github.com/ottolang/otto/internal/sigwatch"
	"github.com/ottolang/otto/internal/statestore"
	"github.com/ottolang/otto/internal/taskfile"
	"github.com/ottolang/otto/internal/taskgraph"
	"github.com/ottolang/otto/internal/taskparse"
	"github.com/ottolang/otto/internal/uiutil"
	"github.com/ottolang/otto/internal/workspace"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitTaskFailed  = 1
	ExitUsageError  = 2
	ExitInterrupted = 130
)

// Run is the single entry point cmd/otto's main calls. It never calls
// os.Exit itself, returning the process exit code instead, so it stays
// testable.
func Run(args []string) int {
	watcher := sigwatch.NewWatcher()

	doneCh := make(chan int, 1)
	go func() {
		doneCh <- run(args, watcher)
	}()

	select {
	case code := <-doneCh:
		watcher.Close()
		return code
	case <-watcher.Done():
		return ExitInterrupted
	}
}

func run(args []string, watcher *sigwatch.Watcher) int {
	global, remaining, err := cliflags.ParsePhase1(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "otto:", err)
		return ExitUsageError
	}
	logger := uiutil.NewLogger("otto", global.Verbosity)

	if global.Help {
		fmt.Println(usage())
		return ExitOK
	}
	if global.Version {
		fmt.Println("otto (development build)")
		return ExitOK
	}

	cwd, err := os.Getwd()
	if err != nil {
		logger.Error("resolving working directory", "error", err)
		return ExitUsageError
	}

	taskFilePath, err := taskfile.Find(global.Ottofile, os.Getenv, cwd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "otto:", err)
		return ExitUsageError
	}
	file, err := taskfile.Load(taskFilePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "otto:", err)
		return ExitUsageError
	}

	partitions, order, err := taskparse.Partition(remaining, file.Tasks)
	if err != nil {
		fmt.Fprintln(os.Stderr, "otto:", err)
		return ExitUsageError
	}

	argsByParent := map[string][]string{}
	for _, p := range partitions {
		parent := p.TaskName
		if i := strings.Index(parent, ":"); i >= 0 {
			parent = parent[:i]
		}
		spec, ok := file.Tasks[parent]
		if !ok {
			continue // built-in task name, dispatched separately
		}
		parsed, err := taskparse.Validate(p.TaskName, spec, p.Args)
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto:", err)
			return ExitUsageError
		}
		if parsed.Help {
			fmt.Println(usage())
			return ExitOK
		}
		argsByParent[parent] = p.Args
	}

	root, err := workspace.ResolveRoot("", os.Getenv)
	if err != nil {
		logger.Error("resolving workspace root", "error", err)
		return ExitUsageError
	}
	projectHash, err := workspace.ProjectHash(taskFilePath)
	if err != nil {
		logger.Error("hashing task file", "error", err)
		return ExitUsageError
	}

	if code, ok := dispatchBuiltin(partitions, order, root, projectHash, taskFilePath); ok {
		return code
	}

	builder := taskgraph.NewBuilder(file)
	graph, err := builder.Build(order)
	if err != nil {
		fmt.Fprintln(os.Stderr, "otto:", err)
		return ExitUsageError
	}

	layout, err := workspace.Create(root, taskFilePath, projectHash, workspace.Now())
	if err != nil {
		logger.Error("preparing workspace", "error", err)
		return ExitUsageError
	}

	lock, err := workspace.AcquireProjectLock(layout.ProjectDir)
	if err != nil {
		logger.Error("acquiring project lock", "error", err)
		return ExitUsageError
	}
	defer lock.Unlock()

	store, storeErr := statestore.Open(filepath.Join(layout.ProjectDir, "otto.db"))
	if storeErr != nil {
		logger.Warn("state store unavailable, degrading to filesystem-only", "error", storeErr)
	} else {
		defer store.Close()
		if n, err := store.RecoverOrphans(); err == nil && n > 0 {
			logger.Info("recovered orphaned runs", "count", n)
		}
	}

	if err := layout.WriteRunYAML(workspace.RunYAML{
		Timestamp:   layout.RunTimestamp,
		ProjectHash: projectHash,
		Ottofile:    taskFilePath,
		Cwd:         cwd,
		Args:        args,
	}); err != nil {
		logger.Warn("writing run.yaml", "error", err)
	}

	var projectID, runID int64
	if store != nil {
		projectID, _ = store.UpsertProject(projectHash, taskFilePath, layout.RunTimestamp)
		hostname, _ := os.Hostname()
		runID, _ = store.StartRun(projectID, layout.RunTimestamp, taskFilePath, cwd, os.Getenv("USER"), hostname, args)
	}

	runner := &taskRunner{layout: layout, store: store, runID: runID, logger: logger, argsByParent: argsByParent}

	sched := scheduler.New(graph, scheduler.Options{
		Jobs:   global.EffectiveJobs(),
		Runner: runner,
		Logger: logger,
		OnTaskStart: func(name string) {
			logger.Info("task starting", "task", name)
		},
		OnTaskDone: func(r scheduler.Result) {
			logger.Info("task finished", "task", r.Task.Name, "status", r.Status)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	watcher.AddOnClose(cancel)

	results, schedErr := sched.Run(ctx)
	endedAt := workspace.Now()
	totalDuration := float64(endedAt - layout.RunTimestamp)

	exitCode := ExitOK
	runStatus := "completed"
	for _, r := range results {
		if r.Status == scheduler.Failed {
			exitCode = ExitTaskFailed
			runStatus = "failed"
		}
	}
	if schedErr != nil {
		runStatus = "failed"
		exitCode = ExitInterrupted
	}

	if store != nil {
		sizeBytes, err := workspace.DirSize(layout.RunDir)
		if err != nil {
			logger.Warn("measuring run directory size", "error", err)
		}
		_ = store.EndRun(runID, runStatus, totalDuration, sizeBytes, endedAt)
	}

	return exitCode
}

// dispatchBuiltin handles the five built-in tasks, which never touch the
// scheduler or run directory layout, returning (exit code, true) if a
// built-in was invoked.
func dispatchBuiltin(partitions []taskparse.Partition, order []string, root, projectHash, taskFilePath string) (int, bool) {
	if len(partitions) != 1 {
		return 0, false
	}
	name := partitions[0].TaskName
	switch name {
	case "Upgrade":
		fmt.Fprintln(os.Stderr, "otto:", builtin.Upgrade())
		return ExitUsageError, true
	case "History":
		store, err := statestore.Open(filepath.Join(root, "otto-"+projectHash, "otto.db"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto: state store unavailable:", err)
			return ExitUsageError, true
		}
		defer store.Close()
		runs, err := store.History(statestore.HistoryFilter{Project: projectHash})
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto:", err)
			return ExitUsageError, true
		}
		fmt.Print(builtin.FormatHistory(runs))
		return ExitOK, true
	case "Stats":
		store, err := statestore.Open(filepath.Join(root, "otto-"+projectHash, "otto.db"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto: state store unavailable:", err)
			return ExitUsageError, true
		}
		defer store.Close()
		stats, err := store.TaskStats("")
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto:", err)
			return ExitUsageError, true
		}
		fmt.Print(builtin.FormatStats("", stats))
		return ExitOK, true
	case "Clean":
		store, err := statestore.Open(filepath.Join(root, "otto-"+projectHash, "otto.db"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto: state store unavailable:", err)
			return ExitUsageError, true
		}
		defer store.Close()
		result, err := builtin.Clean(store, builtin.CleanOptions{
			ProjectDir:  filepath.Join(root, "otto-"+projectHash),
			ProjectHash: projectHash,
			KeepDays:    7,
			KeepLast:    10,
			KeepFailed:  14,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto:", err)
			return ExitUsageError, true
		}
		fmt.Printf("removed %d runs, freed %d bytes\n", result.RunsRemoved, result.BytesFreed)
		return ExitOK, true
	case "Graph":
		file, err := taskfile.Load(taskFilePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto:", err)
			return ExitUsageError, true
		}
		builder := taskgraph.NewBuilder(file)
		var targets []string
		for _, name := range order {
			if name != "Graph" {
				targets = append(targets, name)
			}
		}
		if len(targets) == 0 {
			for name := range file.Tasks {
				targets = append(targets, name)
			}
		}
		graph, err := builder.Build(targets)
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto:", err)
			return ExitUsageError, true
		}
		ascii, err := builtin.RenderASCII(graph)
		if err != nil {
			fmt.Fprintln(os.Stderr, "otto:", err)
			return ExitUsageError, true
		}
		fmt.Print(ascii)
		return ExitOK, true
	}
	return 0, false
}

// taskRunner adapts Otto's action/workspace/process machinery to the
// scheduler.Runner interface.
type taskRunner struct {
	layout       *workspace.Layout
	store        *statestore.Store
	runID        int64
	argsByParent map[string][]string // parent task name -> CLI args to pass through
	logger       interface {
		Info(string, ...interface{})
		Warn(string, ...interface{})
		Error(string, ...interface{})
	}
}

func (r *taskRunner) Run(ctx context.Context, task *taskgraph.ExecTask) (int, error) {
	taskDir, err := r.layout.PrepareTaskDir(task.Name)
	if err != nil {
		return 0, errors.Wrap(err, "preparing task dir")
	}
	for _, dep := range task.Deps {
		if err := r.layout.LinkInput(task.Name, dep); err != nil {
			return 0, errors.Wrapf(err, "linking input %s", dep)
		}
	}

	var taskID int64
	if r.store != nil {
		taskID, _ = r.store.StartTask(r.runID, task.Name, task.Interactive, workspace.Now())
	}

	outputPath := r.layout.OutputPath(task.Name)
	script, lang, _ := action.Generate(action.GenerateOptions{
		Task:       task,
		DepNames:   task.Deps,
		GlobalEnv:  task.Env,
		TaskDir:    taskDir,
		OutputPath: outputPath,
	})
	hash := action.Hash(script)
	task.ActionHash = hash
	cachePath, err := action.WriteCache(r.layout.CacheDir, hash, lang, script)
	if err != nil {
		return 0, errors.Wrap(err, "caching script")
	}
	if err := action.SymlinkScript(taskDir, cachePath, lang); err != nil {
		return 0, errors.Wrap(err, "symlinking script")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	scriptPath := filepath.Join(taskDir, "script."+lang.Ext())
	scriptArgs := r.argsByParent[task.Parent]
	var code int
	var runErr error
	if task.Interactive {
		cmd := exec.Command(scriptPath, scriptArgs...)
		cmd.Dir = taskDir
		transcript := filepath.Join(taskDir, "interactive.log")
		code, _, runErr = ptyrun.Run(cmd, transcript)
	} else {
		cmd := exec.Command(scriptPath, scriptArgs...)
		cmd.Dir = taskDir
		stdout, createErr := os.Create(filepath.Join(taskDir, "stdout.log"))
		if createErr != nil {
			return 0, errors.Wrap(createErr, "creating stdout log")
		}
		defer stdout.Close()
		stderr, createErr := os.Create(filepath.Join(taskDir, "stderr.log"))
		if createErr != nil {
			return 0, errors.Wrap(createErr, "creating stderr log")
		}
		defer stderr.Close()
		cmd.Stdout = stdout
		cmd.Stderr = stderr

		child := procexec.New(procexec.NewInput{Cmd: cmd, Logger: nil})
		exitCh, startErr := child.Start()
		if startErr != nil {
			return 0, errors.Wrap(startErr, "starting task process")
		}
		code = child.StopWithContext(runCtx, exitCh)
		if code == procexec.ExitCodeKilled {
			runErr = errors.Errorf("task %q was cancelled or timed out", task.Name)
		}
	}

	if r.store != nil && taskID != 0 {
		status := "completed"
		if code != 0 || runErr != nil {
			status = "failed"
		}
		_ = r.store.EndTask(taskID, statestore.TaskResult{
			Status:     status,
			ExitCode:   code,
			EndedAt:    workspace.Now(),
			ScriptPath: scriptPath,
			ScriptHash: hash,
		})
	}

	if code == 0 && runErr == nil {
		if _, statErr := os.Stat(outputPath); statErr != nil {
			_ = dataio.WriteOutput(outputPath, dataio.Output{})
		}
	}

	return code, runErr
}

func usage() string {
	return `otto - a declarative, dependency-driven task runner

Usage:
  otto [global flags] <task> [task flags] [<task> [task flags] ...]

Global flags:
  -o, --ottofile <path>   path to the task file
  -j, --jobs <n>          maximum concurrent tasks (default: number of CPUs)
      --verbosity <n>     log verbosity (0-3)
  -v, -vv, -vvv           increase log verbosity
      --tui               use the interactive terminal UI
  -h, --help              show this help
      --version           show version information

Built-in tasks: Graph, History, Stats, Clean, Upgrade`
}
