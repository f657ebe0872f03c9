package workspace

import (
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"
)

// AcquireProjectLock takes an advisory lock on the project directory,
// retrying with backoff for up to 5 seconds before giving up. It does not
// cover the choice of run timestamp: the caller takes it after Create.
func AcquireProjectLock(projectDir string) (lockfile.Lockfile, error) {
	lf, err := lockfile.New(filepath.Join(projectDir, ".lock"))
	if err != nil {
		return "", errors.Wrap(err, "constructing project lock")
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Second
	b.InitialInterval = 10 * time.Millisecond

	err = backoff.Retry(func() error {
		return lf.TryLock()
	}, b)
	if err != nil {
		return "", errors.Wrap(err, "acquiring project lock")
	}
	return lf, nil
}
