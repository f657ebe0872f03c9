// Package procexec manages the lifecycle of a task's running script
// process: starting it in its own process group, escalating from SIGTERM
// to SIGKILL on cancellation or timeout, and reporting a terminal exit code
// (cancellation and timeout contract).
//
// Adapted from the process-group and splay-free escalation pattern in
// consul-template's child package.
package procexec

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// ExitCodeKilled is reported when a task is terminated by cancellation or
// timeout rather than exiting on its own.
const ExitCodeKilled = -1

// Child wraps one running task script process.
type Child struct {
	mu sync.RWMutex

	cmd         *exec.Cmd
	killTimeout time.Duration
	logger      hclog.Logger

	exitCh  chan int
	doneCh  chan struct{} // closed once the exit code has been sent
	stopped bool
}

// NewInput configures a Child before Start.
type NewInput struct {
	Cmd         *exec.Cmd
	KillTimeout time.Duration // grace period between SIGTERM and SIGKILL
	Logger      hclog.Logger
}

// New constructs a Child. The command is not started.
func New(in NewInput) *Child {
	logger := in.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	killTimeout := in.KillTimeout
	if killTimeout <= 0 {
		killTimeout = 10 * time.Second
	}
	in.Cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return &Child{
		cmd:         in.Cmd,
		killTimeout: killTimeout,
		logger:      logger.Named("procexec"),
	}
}

// Start launches the process and returns a channel that receives exactly
// one value: its exit code (or ExitCodeKilled if it was terminated).
func (c *Child) Start() (<-chan int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "starting process")
	}

	exitCh := make(chan int, 1)
	c.exitCh = exitCh
	doneCh := make(chan struct{})
	c.doneCh = doneCh
	go func() {
		err := c.cmd.Wait()
		code := 0
		if err != nil {
			code = 1
			if exitErr, ok := err.(*exec.ExitError); ok {
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
					code = status.ExitStatus()
				}
			}
		}
		c.mu.RLock()
		killed := c.stopped
		c.mu.RUnlock()
		if killed {
			code = ExitCodeKilled
		}
		exitCh <- code
		close(exitCh)
		close(doneCh)
	}()
	return exitCh, nil
}

// Pid returns the child's process id, or 0 if it has not started.
func (c *Child) Pid() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Stop signals the process group with SIGTERM, then escalates to
// SIGKILL after killTimeout if it has not exited.
func (c *Child) Stop() {
	c.mu.Lock()
	if c.stopped || c.cmd.Process == nil {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	pid := c.cmd.Process.Pid
	c.mu.Unlock()

	c.signalGroup(pid, syscall.SIGTERM)

	select {
	case <-c.doneCh:
		return
	case <-time.After(c.killTimeout):
		c.logger.Debug("grace period elapsed, escalating to SIGKILL", "pid", pid)
		c.signalGroup(pid, syscall.SIGKILL)
	}
}

// StopWithContext calls Stop if ctx is canceled before the process exits on
// its own, otherwise returns once the process exits normally.
func (c *Child) StopWithContext(ctx context.Context, exitCh <-chan int) int {
	select {
	case code := <-exitCh:
		return code
	case <-ctx.Done():
		c.Stop()
		return <-exitCh
	}
}

func (c *Child) signalGroup(pid int, sig syscall.Signal) {
	// Negative pid signals the whole process group, since the child was
	// started with Setpgid: true.
	if err := syscall.Kill(-pid, sig); err != nil {
		c.logger.Debug("signaling process group failed", "pid", pid, "signal", sig, "error", err)
	}
}
