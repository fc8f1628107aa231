package workflow

import (
	"context"

	"github.com/deixis/depbuild/internal/failure"
	"github.com/deixis/depbuild/internal/runner"
	"github.com/deixis/depbuild/internal/trace"
	"go.uber.org/zap"
)

// Linker registers the host package with the package manager and removes
// the registration afterwards.
type Linker struct {
	Runner CommandRunner
	Link   []string // argv, e.g. npm link
	Unlink []string // argv, e.g. npm unlink
	Env    []string
}

// LinkHost runs the link command in hostDir.
func (l *Linker) LinkHost(ctx context.Context, log trace.Logger, hostDir string) error {
	log.Info("Linking host package", zap.Strings("argv", l.Link))
	err := l.Runner.Run(ctx, log, runner.Command{Argv: l.Link, Dir: hostDir, Env: l.Env})
	if err != nil {
		return failure.New(failure.LinkFailed, "link host", err)
	}
	return nil
}

// UnlinkHost runs the unlink command in hostDir. It ignores cancellation
// of ctx so cleanup still happens after an interrupt.
func (l *Linker) UnlinkHost(ctx context.Context, log trace.Logger, hostDir string) error {
	log.Info("Unlinking host package", zap.Strings("argv", l.Unlink))
	err := l.Runner.Run(context.WithoutCancel(ctx), log, runner.Command{Argv: l.Unlink, Dir: hostDir, Env: l.Env})
	if err != nil {
		return failure.New(failure.UnlinkFailed, "unlink host", err)
	}
	return nil
}
