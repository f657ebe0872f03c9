package builtin

import "github.com/pkg/errors"

// Upgrade is not implemented: otto ships no self-upgrade machinery. The
// built-in name is still reserved in the task namespace so task files
// cannot shadow it, and it reports a clear error rather than silently
// doing nothing.
func Upgrade() error {
	return errors.New("otto does not self-upgrade; install a new version through your package manager")
}
