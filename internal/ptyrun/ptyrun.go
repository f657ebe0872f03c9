// Package ptyrun runs an interactive task's script attached to a
// pseudo-terminal, so tools that detect an interactive session (progress
// bars, prompts, color) behave the same as they would run directly in
// the user's shell. Only one interactive task runs at a time; the
// scheduler's singleton permit enforces that before Run is ever called.
package ptyrun

import (
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

// Run executes cmd attached to a new pseudo-terminal, mirroring the
// controlling terminal's raw mode and size onto it, and tees all PTY
// output to transcriptPath in addition to the real terminal. The
// returned session id identifies this PTY session and is kept out of the
// transcript's byte-faithful capture of the child's output; the state
// store does not record it.
func Run(cmd *exec.Cmd, transcriptPath string) (exitCode int, sessionID string, err error) {
	sessionID = uuid.NewString()
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return 0, sessionID, errors.Wrap(err, "starting pty")
	}
	defer ptmx.Close()

	if err := os.MkdirAll(filepath.Dir(transcriptPath), 0o755); err != nil {
		return 0, sessionID, errors.Wrapf(err, "creating transcript dir for %s", transcriptPath)
	}
	transcript, err := os.Create(transcriptPath)
	if err != nil {
		return 0, sessionID, errors.Wrapf(err, "creating transcript %s", transcriptPath)
	}
	defer transcript.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	sigCh <- syscall.SIGWINCH // sync initial size

	var restore func()
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			restore = func() { _ = term.Restore(int(os.Stdin.Fd()), state) }
			defer restore()
		}
	}

	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	_, copyErr := io.Copy(io.MultiWriter(os.Stdout, transcript), ptmx)
	// A PTY read error at the slave's close is expected (EIO on Linux), not
	// a real failure, so it is deliberately swallowed here.
	_ = copyErr

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				return status.ExitStatus(), sessionID, nil
			}
		}
		return 1, sessionID, nil
	}
	return 0, sessionID, nil
}
