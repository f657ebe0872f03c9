// Package uiutil sets up the logger and terminal UI primitives shared
// across Otto's built-in commands and scheduler output: an hclog.Logger
// leveled from -v/-vv/-vvv, color helpers that respect non-interactive
// output, and a progress spinner for long-running tasks when attached
// to a real terminal.
package uiutil

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"
)

// IsCI reports whether stdout is not a terminal, or the CI env var is
// set.
func IsCI() bool {
	return !isatty.IsTerminal(os.Stdout.Fd()) || os.Getenv("CI") != ""
}

// NewLogger builds the process-wide logger from a verbosity count (the
// number of repeated -v flags phase 1 parsed).
func NewLogger(name string, verbosity int) hclog.Logger {
	level := hclog.Warn
	switch {
	case verbosity >= 3:
		level = hclog.Trace
	case verbosity == 2:
		level = hclog.Debug
	case verbosity == 1:
		level = hclog.Info
	}

	var output io.Writer = os.Stderr
	colorOpt := hclog.ColorOff
	if !IsCI() {
		colorOpt = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  level,
		Color:  colorOpt,
		Output: output,
	})
}

// NewUI builds the mitchellh/cli Ui used for the non-task-output surface
// (help text, top-level errors), coloring only when attached to a
// terminal.
func NewUI() cli.Ui {
	base := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
	if IsCI() {
		return base
	}
	return &cli.ColoredUi{
		Ui:          base,
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColorNone,
		ErrorColor:  cli.UiColor{Code: int(color.FgRed), Bold: false},
		WarnColor:   cli.UiColor{Code: int(color.FgYellow), Bold: false},
	}
}

// TaskColor cycles a small fixed palette across concurrently-running
// tasks so their interleaved output stays visually distinguishable.
func TaskColor(index int) *color.Color {
	palette := []*color.Color{
		color.New(color.FgCyan),
		color.New(color.FgMagenta),
		color.New(color.FgGreen),
		color.New(color.FgYellow),
		color.New(color.FgBlue),
	}
	return palette[index%len(palette)]
}

// NewSpinner returns a started spinner for a single long-running task,
// or nil if output is non-interactive, so CI logs get no spinner noise.
func NewSpinner(suffix string) *spinner.Spinner {
	if IsCI() {
		return nil
	}
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond)
	s.Suffix = " " + suffix
	s.Start()
	return s
}

// StopSpinner stops s if it is non-nil, so callers don't need a nil check
// at every call site.
func StopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}
