// Package runner spawns external commands with an explicit working
// directory and environment, streaming their output as it is produced.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/deixis/depbuild/internal/failure"
	"github.com/deixis/depbuild/internal/trace"
	"go.uber.org/zap"
)

// DefaultShell runs Command.Shell strings.
var DefaultShell = []string{"sh", "-c"}

// Command describes a single process to spawn. Exactly one of Argv or
// Shell is set.
type Command struct {
	Argv  []string // binary and arguments, the binary is resolved via PATH
	Shell string   // shell string run through the Runner's shell
	Dir   string   // working directory, empty means the current directory
	Env   []string // KEY=VALUE pairs, used as-is
}

// String returns a short form of the command for logs and errors.
func (c Command) String() string {
	if c.Shell != "" {
		return c.Shell
	}
	return strings.Join(c.Argv, " ")
}

// Runner executes commands and forwards their output.
type Runner struct {
	Stdout  io.Writer     // defaults to os.Stdout
	Stderr  io.Writer     // defaults to os.Stderr
	Timeout time.Duration // per process; zero disables the deadline
	Shell   []string      // defaults to DefaultShell
}

// Run spawns cmd and waits for it to exit. It returns nil iff the process
// exits with code 0. Failures are *failure.Error of kind SpawnError,
// NonZeroExit, Timeout or Canceled. On deadline or cancellation the whole
// process group is killed, not only the shell.
func (r *Runner) Run(ctx context.Context, log trace.Logger, cmd Command) error {
	argv, err := r.argv(cmd)
	if err != nil {
		return failure.New(failure.SpawnError, "run", err)
	}
	op := fmt.Sprintf("run `%s`", cmd)

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	if c.Env == nil {
		// exec treats nil as "inherit"; an empty slice keeps the
		// environment exactly what the caller asked for.
		c.Env = []string{}
	}
	c.Stdout = r.stdout()
	c.Stderr = r.stderr()
	c.WaitDelay = time.Second
	killProcessGroup(c)

	start := time.Now()
	if err := c.Start(); err != nil {
		return failure.New(failure.SpawnError, op, err)
	}
	log.Trace("Process started", zap.Int("pid", c.Process.Pid), zap.Strings("argv", argv), zap.String("dir", cmd.Dir))

	err = c.Wait()
	elapsed := time.Since(start)
	if err == nil {
		log.Trace("Process exited", zap.Int("code", 0), zap.Duration("duration", elapsed))
		return nil
	}

	// The deadline is ours only when the parent context is still alive.
	if r.Timeout > 0 && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return failure.New(failure.Timeout, op, fmt.Errorf("killed after %s: %w", r.Timeout, runCtx.Err()))
	}

	if ctx.Err() != nil {
		log.Trace("Process killed", zap.Duration("duration", elapsed), zap.Error(context.Cause(ctx)))
		return failure.New(failure.Canceled, op, context.Cause(ctx))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Trace("Process exited", zap.Int("code", exitErr.ExitCode()), zap.Duration("duration", elapsed))
		fe := failure.New(failure.NonZeroExit, op, nil)
		fe.ExitCode = exitErr.ExitCode()
		return fe
	}
	return failure.New(failure.SpawnError, op, err)
}

func (r *Runner) argv(cmd Command) ([]string, error) {
	switch {
	case cmd.Shell != "" && len(cmd.Argv) > 0:
		return nil, errors.New("command has both argv and shell")
	case cmd.Shell != "":
		shell := r.Shell
		if len(shell) == 0 {
			shell = DefaultShell
		}
		return append(append([]string{}, shell...), cmd.Shell), nil
	case len(cmd.Argv) > 0:
		return cmd.Argv, nil
	default:
		return nil, errors.New("empty command")
	}
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}
