package workflow

import (
	"context"
	"time"

	"github.com/deixis/depbuild/internal/clone"
	"github.com/deixis/depbuild/internal/env"
	"github.com/deixis/depbuild/internal/failure"
	"github.com/deixis/depbuild/internal/report"
	"github.com/deixis/depbuild/internal/runner"
	"github.com/deixis/depbuild/internal/trace"
	"go.uber.org/zap"
)

// Sequencer runs scripts one after another and stops at the first failure.
type Sequencer struct {
	Runner CommandRunner
}

// RunAll runs scripts in dir with environ, substituting the host directory
// placeholder first. The returned results cover every script: attempted
// ones pass or fail, the rest are skipped. A failure carries the index of
// the script that caused it.
func (s *Sequencer) RunAll(ctx context.Context, log trace.Logger, scripts []string, dir string, environ []string, hostDir string) ([]report.ScriptResult, error) {
	results := make([]report.ScriptResult, len(scripts))
	for i, script := range scripts {
		results[i] = report.ScriptResult{Index: i, Script: script, Status: report.Skipped}
	}

	for i, script := range scripts {
		slog := log.DeriveIndex("script", i)
		command := env.Substitute(script, hostDir)
		results[i].Command = command

		slog.Info("Running script", zap.String("script", command))
		start := time.Now()
		err := s.Runner.Run(ctx, slog, runner.Command{Shell: command, Dir: dir, Env: environ})
		results[i].Duration = time.Since(start)

		if err != nil {
			results[i].Status = report.Fail
			results[i].ExitCode = failure.ExitCode(err)
			fe := failure.Wrap(failure.SpawnError, "scripts", err).WithScript(i)
			slog.Error("Script failed", zap.String("kind", string(fe.Kind)), zap.Error(err))
			return results, fe
		}
		results[i].Status = report.Pass
		slog.Debug("Script succeeded", zap.Duration("duration", results[i].Duration))
	}
	return results, nil
}

// BatchRunner runs one batch inside its checkout.
type BatchRunner struct {
	Sequencer *Sequencer
	BaseEnv   []string // inherited environment, PATH is extended
	BinDir    string   // project-local binary directory, see env.DefaultBinDir
}

// Run executes batch in repoDir/clone.DirName(batch.Repository). Failures
// are attributed to the batch's repository.
func (b *BatchRunner) Run(ctx context.Context, log trace.Logger, hostDir, repoDir string, batch Batch) (report.RepoResult, error) {
	dir := clone.Dir(repoDir, batch.Repository)
	res := report.RepoResult{Repository: batch.Repository, Dir: dir, Status: report.Skipped}

	environ := env.Build(hostDir, dir, b.BaseEnv, b.BinDir)
	log.Debug("Running batch", zap.String("dir", dir), zap.Int("scripts", len(batch.Scripts)))

	scripts, err := b.Sequencer.RunAll(ctx, log.Derive("scripts"), batch.Scripts, dir, environ, hostDir)
	res.Scripts = scripts
	if err != nil {
		res.Status = report.Fail
		return res, failure.Wrap(failure.SpawnError, "batch", err).WithRepository(batch.Repository)
	}
	res.Status = report.Pass
	return res, nil
}
