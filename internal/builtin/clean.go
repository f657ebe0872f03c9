package builtin

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ottolang/otto/internal/statestore"
	"github.com/ottolang/otto/internal/workspace"
)

// CleanOptions configures a Clean built-in invocation.
type CleanOptions struct {
	ProjectDir  string // <root>/otto-<hash>
	ProjectHash string
	KeepDays    int
	KeepLast    int
	KeepFailed  int
	DryRun      bool
}

// CleanResult summarizes what Clean removed (or would remove, for a dry
// run), for the caller to report to the user.
type CleanResult struct {
	RunsRemoved int
	BytesFreed  int64
	DryRun      bool
}

// Clean computes the deletable run set from the state store's retention
// policy, measures their on-disk size, and removes both the database
// rows and the run directories unless DryRun is set.
func Clean(store *statestore.Store, opts CleanOptions) (*CleanResult, error) {
	plan, err := store.PlanCleanup(opts.ProjectHash, opts.KeepDays, opts.KeepLast, opts.KeepFailed)
	if err != nil {
		return nil, errors.Wrap(err, "planning cleanup")
	}

	result := &CleanResult{DryRun: opts.DryRun}
	var dirs []string
	for _, ts := range plan.Timestamps {
		dirs = append(dirs, filepath.Join(opts.ProjectDir, strconv.FormatInt(ts, 10)))
	}

	for _, dir := range dirs {
		size, err := workspace.DirSize(dir)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "measuring size of %s", dir)
		}
		result.BytesFreed += size
	}
	result.RunsRemoved = len(plan.RunIDs)

	if opts.DryRun {
		return result, nil
	}

	if err := store.DeleteRuns(plan.RunIDs); err != nil {
		return nil, errors.Wrap(err, "deleting run rows")
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return nil, errors.Wrapf(err, "removing run dir %s", dir)
		}
	}
	return result, nil
}
