package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/depbuild/internal/clone"
	"github.com/deixis/depbuild/internal/config"
	"github.com/deixis/depbuild/internal/failure"
	"github.com/deixis/depbuild/internal/manifest"
	"github.com/deixis/depbuild/internal/report"
	"github.com/deixis/depbuild/internal/trace"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Orchestrator runs a complete dependent build.
type Orchestrator struct {
	Settings config.Settings
	Runner   CommandRunner
	Cloner   Cloner   // nil selects one from Settings.CloneMode
	BaseEnv  []string // nil inherits os.Environ()
	Progress io.Writer

	// NewID returns run IDs, defaults to random UUIDs.
	NewID func() string
}

// Run executes the stages in order and stops at the first failure:
// resolve config, create the clone directory, link the host (optional),
// clone every repository, run every batch, unlink the host.
//
// Unlink runs whenever link succeeded. When an earlier stage already
// failed, that failure is returned and an unlink failure is only logged
// and recorded in the report.
//
// The returned result is never nil.
func (o *Orchestrator) Run(ctx context.Context, log trace.Logger, hostDir string) (rr *report.RunResult, err error) {
	start := time.Now()
	rr = &report.RunResult{
		ID:        o.newID(),
		Kind:      report.Build,
		Status:    report.Fail,
		HostDir:   hostDir,
		StartedAt: start,
	}
	log = log.With(zap.String("run_id", rr.ID))

	defer func() {
		rr.Duration = time.Since(start)
		if err == nil {
			rr.Status = report.Pass
			return
		}
		rr.Failure = newFailure(err)
	}()

	if err := o.Settings.Validate(); err != nil {
		return rr, failure.New(failure.ConfigMalformed, "settings", err)
	}

	cfg, err := o.resolveConfig(log.Derive("resolveConfig"), hostDir, rr)
	if err != nil {
		rr.SetStage(report.StageResolveConfig, report.Fail, err.Error())
		return rr, err
	}
	rr.SetStage(report.StageResolveConfig, report.Pass, "")

	batches := Batches(cfg)
	rr.CloneDir = filepath.Join(rr.HostDir, o.Settings.CloneDirName())
	rr.Repos = make([]report.RepoResult, len(batches))
	for i, b := range batches {
		rr.Repos[i] = report.RepoResult{
			Repository: b.Repository,
			Dir:        clone.Dir(rr.CloneDir, b.Repository),
			Status:     report.Skipped,
		}
	}

	if err := o.createCloneDir(log.Derive("createFolder"), rr.CloneDir); err != nil {
		rr.SetStage(report.StageCreateDir, report.Fail, err.Error())
		return rr, err
	}
	rr.SetStage(report.StageCreateDir, report.Pass, "")

	if !o.Settings.Link {
		return rr, o.cloneAndRun(ctx, log, batches, rr)
	}

	linker, err := o.linker()
	if err != nil {
		return rr, err
	}
	if err := linker.LinkHost(ctx, log.Derive("link"), rr.HostDir); err != nil {
		rr.SetStage(report.StageLink, report.Fail, err.Error())
		return rr, err
	}
	rr.SetStage(report.StageLink, report.Pass, "")

	bodyErr := o.cloneAndRun(ctx, log, batches, rr)
	return rr, o.unlink(ctx, log.Derive("unlink"), linker, rr, bodyErr)
}

func (o *Orchestrator) resolveConfig(log trace.Logger, hostDir string, rr *report.RunResult) (*config.Config, error) {
	abs, err := filepath.Abs(hostDir)
	if err != nil {
		return nil, failure.New(failure.ConfigUnreadable, "resolve host directory", err)
	}
	rr.HostDir = abs

	cfg, err := config.Load(abs, o.Settings.FileName())
	if err != nil {
		return nil, err
	}
	log.Debug("Loaded build file",
		zap.String("file", o.Settings.FileName()),
		zap.Strings("repositories", cfg.Repositories()),
	)

	name, err := manifest.ReadName(abs)
	switch {
	case err == nil:
		rr.HostPackage = name
		log.Info("Resolved host package", zap.String("package", name), zap.String("dir", abs))
	case errors.Is(err, os.ErrNotExist):
		log.Debug("Host has no package manifest", zap.String("dir", abs))
	default:
		// The name only labels the run.
		log.Warn("Ignoring unusable host package manifest", zap.String("dir", abs), zap.Error(err))
	}
	return cfg, nil
}

func (o *Orchestrator) createCloneDir(log trace.Logger, dir string) error {
	log.Debug("Creating clone directory", zap.String("dir", dir))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return failure.New(failure.DirectoryCreateFailed, "create clone directory", err)
	}
	return nil
}

func (o *Orchestrator) cloneAndRun(ctx context.Context, log trace.Logger, batches []Batch, rr *report.RunResult) error {
	cloner := o.cloner()
	for i, b := range batches {
		clog := log.DeriveIndex("clone", i).With(zap.String("repository", b.Repository))
		clog.Info("Cloning repository")
		if err := cloner.Clone(ctx, clog, b.Repository, rr.CloneDir); err != nil {
			rr.Repos[i].Status = report.Fail
			rr.SetStage(report.StageClone, report.Fail, err.Error())
			return err
		}
		rr.Repos[i].Cloned = true
	}
	rr.SetStage(report.StageClone, report.Pass, "")

	br := &BatchRunner{
		Sequencer: &Sequencer{Runner: o.Runner},
		BaseEnv:   o.baseEnv(),
		BinDir:    o.Settings.BinDir,
	}
	for i, b := range batches {
		blog := log.DeriveIndex("batch", i).With(zap.String("repository", b.Repository))
		res, err := br.Run(ctx, blog, rr.HostDir, rr.CloneDir, b)
		res.Cloned = rr.Repos[i].Cloned
		rr.Repos[i] = res
		if err != nil {
			rr.SetStage(report.StageRunBatches, report.Fail, err.Error())
			return err
		}
	}
	rr.SetStage(report.StageRunBatches, report.Pass, "")
	return nil
}

func (o *Orchestrator) unlink(ctx context.Context, log trace.Logger, linker *Linker, rr *report.RunResult, bodyErr error) error {
	err := linker.UnlinkHost(ctx, log, rr.HostDir)
	if err == nil {
		rr.SetStage(report.StageUnlink, report.Pass, "")
		return bodyErr
	}
	rr.SetStage(report.StageUnlink, report.Fail, err.Error())
	if bodyErr == nil {
		return err
	}
	log.Error("Unlink failed after an earlier failure", zap.Error(err), zap.NamedError("cause", bodyErr))
	rr.CleanupError = err.Error()
	return bodyErr
}

func (o *Orchestrator) linker() (*Linker, error) {
	link, err := o.Settings.LinkArgv()
	if err != nil {
		return nil, failure.New(failure.ConfigMalformed, "settings", err)
	}
	unlink, err := o.Settings.UnlinkArgv()
	if err != nil {
		return nil, failure.New(failure.ConfigMalformed, "settings", err)
	}
	return &Linker{Runner: o.Runner, Link: link, Unlink: unlink, Env: o.baseEnv()}, nil
}

func (o *Orchestrator) cloner() Cloner {
	if o.Cloner != nil {
		return o.Cloner
	}
	if o.Settings.CloneMode == config.CloneNative {
		return &clone.NativeCloner{Depth: o.Settings.CloneDepth, Progress: o.Progress}
	}
	return &clone.ProcessCloner{Runner: o.Runner, Env: o.baseEnv(), Depth: o.Settings.CloneDepth}
}

func (o *Orchestrator) baseEnv() []string {
	if o.BaseEnv != nil {
		return o.BaseEnv
	}
	return os.Environ()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.New().String()
}

func newFailure(err error) *report.Failure {
	f := &report.Failure{Message: err.Error()}
	fe, ok := failure.As(err)
	if !ok {
		return f
	}
	f.Kind = string(fe.Kind)
	f.Repository = fe.Repository
	f.ExitCode = failure.ExitCode(err)
	if fe.Script != failure.NoScript {
		script := fe.Script
		f.Script = &script
	}
	return f
}

// Describe returns a one-line description of a failed run for logs.
func Describe(rr *report.RunResult) string {
	if rr == nil || rr.Failure == nil {
		return ""
	}
	f := rr.Failure
	switch {
	case f.Repository != "" && f.Script != nil:
		return fmt.Sprintf("%s in %s, script %d", f.Kind, f.Repository, *f.Script)
	case f.Repository != "":
		return fmt.Sprintf("%s in %s", f.Kind, f.Repository)
	default:
		return f.Kind
	}
}

// RemoveCloneDir deletes the clone directory of a previous run. It refuses
// directories outside hostDir.
func RemoveCloneDir(hostDir string, settings config.Settings) error {
	abs, err := filepath.Abs(hostDir)
	if err != nil {
		return err
	}
	dir := filepath.Join(abs, settings.CloneDirName())
	rel, err := filepath.Rel(abs, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("clone directory %s is not inside %s", dir, abs)
	}
	return os.RemoveAll(dir)
}
