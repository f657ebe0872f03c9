// Package cliflags implements phase 1 of Otto's two-phase command-line
// parser: recognizing the fixed set of global flags before the task
// file (and therefore the task namespace) is known.
package cliflags

import (
	"runtime"
	"strconv"

	"github.com/pkg/errors"
)

// GlobalOptions holds the values recognized by phase 1.
type GlobalOptions struct {
	Ottofile  string
	Jobs      int
	Verbosity int // number of repeated -v flags, or an explicit --verbosity N
	TUI       bool
	Help      bool
	Version   bool
}

// flagSpec describes one recognized global flag for the manual scanner
// below, used instead of a static flag-set library since phase 1 must
// tolerate the remaining argv containing arbitrary task names and
// task-specific flags it does not understand yet.
type flagSpec struct {
	long, short string
	takesValue  bool
}

var globalFlags = []flagSpec{
	{"--ottofile", "-o", true},
	{"--jobs", "-j", true},
	{"--verbosity", "", true},
	{"--tui", "", false},
	{"--help", "-h", false},
	{"--version", "", false},
}

// ParsePhase1 scans argv left to right, consuming recognized global flag
// tokens (and their values) and returning everything else untouched in
// order, for phase 2 to partition into per-task argument groups.
func ParsePhase1(args []string) (*GlobalOptions, []string, error) {
	opts := &GlobalOptions{Jobs: runtime.NumCPU()}
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			opts.Help = true
			continue
		case "--version":
			opts.Version = true
			continue
		case "--tui":
			opts.TUI = true
			continue
		case "-v", "-vv", "-vvv":
			opts.Verbosity += len(arg) - 1
			continue
		}

		spec, ok := matchFlag(arg)
		if !ok {
			remaining = append(remaining, arg)
			continue
		}
		if !spec.takesValue {
			continue
		}
		value, consumed, err := valueFor(arg, args, i, spec)
		if err != nil {
			return nil, nil, err
		}
		i += consumed

		switch spec.long {
		case "--ottofile":
			opts.Ottofile = value
		case "--jobs":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "--jobs must be an integer, got %q", value)
			}
			opts.Jobs = n
		case "--verbosity":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "--verbosity must be an integer, got %q", value)
			}
			opts.Verbosity = n
		}
	}

	return opts, remaining, nil
}

func matchFlag(arg string) (flagSpec, bool) {
	name, _, hasEq := splitEq(arg)
	for _, spec := range globalFlags {
		if name == spec.long || (spec.short != "" && name == spec.short) {
			return spec, true
		}
	}
	_ = hasEq
	return flagSpec{}, false
}

// valueFor resolves a flag's value either from "--flag=value" or from the
// next token "--flag value", returning how many extra args it consumed.
func valueFor(arg string, args []string, i int, spec flagSpec) (string, int, error) {
	if name, value, ok := splitEq(arg); ok {
		_ = name
		return value, 0, nil
	}
	if i+1 >= len(args) {
		return "", 0, errors.Errorf("flag %q requires a value", arg)
	}
	return args[i+1], 1, nil
}

func splitEq(arg string) (name, value string, hasEq bool) {
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:], true
		}
	}
	return arg, "", false
}

// EffectiveJobs clamps Jobs to the scheduler's usable range:
// min(--jobs, logical CPU count).
func (g *GlobalOptions) EffectiveJobs() int {
	if g.Jobs <= 0 || g.Jobs > runtime.NumCPU() {
		return runtime.NumCPU()
	}
	return g.Jobs
}
