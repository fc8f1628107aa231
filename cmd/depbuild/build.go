package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/deixis/depbuild/internal/config"
	"github.com/deixis/depbuild/internal/failure"
	"github.com/deixis/depbuild/internal/report"
	"github.com/deixis/depbuild/internal/runner"
	"github.com/deixis/depbuild/internal/trace"
	"github.com/deixis/depbuild/internal/workflow"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type buildOptions struct {
	settings  config.Settings
	clean     bool
	reportDir string
	jsonOut   bool
	logLevel  string
	logFormat string
}

// newLogger builds the process logger from the log flags. Records go to w.
func (o *buildOptions) newLogger(w io.Writer) (trace.Logger, error) {
	level, err := trace.ParseLevel(o.logLevel)
	if err != nil {
		return trace.Logger{}, usageError{err}
	}
	log, err := trace.New(trace.Options{
		Level:   level,
		Format:  o.logFormat,
		Writer:  w,
		NoColor: color.NoColor,
	})
	if err != nil {
		return trace.Logger{}, usageError{err}
	}
	return log, nil
}

func runBuild(cmd *cobra.Command, args []string, opts *buildOptions) error {
	hostDir := "."
	if len(args) == 1 {
		hostDir = args[0]
	}
	if err := opts.settings.Validate(); err != nil {
		return usageError{err}
	}

	log, err := opts.newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if opts.clean {
		if err := workflow.RemoveCloneDir(hostDir, opts.settings); err != nil {
			return fmt.Errorf("removing clone directory: %w", err)
		}
	}

	// --json keeps stdout for the report.
	stdout := cmd.OutOrStdout()
	if opts.jsonOut {
		stdout = cmd.ErrOrStderr()
	}
	o := &workflow.Orchestrator{
		Settings: opts.settings,
		Runner: &runner.Runner{
			Stdout:  stdout,
			Stderr:  cmd.ErrOrStderr(),
			Timeout: opts.settings.Timeout,
		},
		Progress: cmd.ErrOrStderr(),
	}
	rr, runErr := o.Run(cmd.Context(), log, hostDir)

	if opts.reportDir != "" {
		store := report.NewDiskStore(opts.reportDir)
		if err := store.Save(rr); err != nil {
			log.Warn("Could not save run report", zap.Error(err))
		} else {
			log.Debug("Saved run report", zap.String("path", filepath.Join(opts.reportDir, rr.ID+".json")))
		}
	}

	if runErr != nil {
		log.Error("Dependent build failed", failureFields(rr, runErr)...)
	} else {
		log.Info("Dependent build successfully", zap.Duration("duration", rr.Duration))
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(rr); err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
	} else {
		printSummary(cmd.ErrOrStderr(), rr)
	}

	if runErr != nil {
		return buildFailed{runErr}
	}
	return nil
}

func failureFields(rr *report.RunResult, err error) []zap.Field {
	fields := []zap.Field{
		zap.String("kind", string(failure.KindOf(err))),
		zap.Error(err),
	}
	if f := rr.Failure; f != nil {
		if f.Repository != "" {
			fields = append(fields, zap.String("repository", f.Repository))
		}
		if f.Script != nil {
			fields = append(fields, zap.Int("script", *f.Script))
		}
		if f.ExitCode != 0 {
			fields = append(fields, zap.Int("exit_code", f.ExitCode))
		}
	}
	if rr.CleanupError != "" {
		fields = append(fields, zap.String("cleanup_error", rr.CleanupError))
	}
	return fields
}

func printSummary(w io.Writer, rr *report.RunResult) {
	bold := color.New(color.Bold)
	pass := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	faint := color.New(color.Faint)

	fmt.Fprintln(w)
	for _, repo := range rr.Repos {
		mark := faint.Sprint("-")
		switch repo.Status {
		case report.Pass:
			mark = pass.Sprint("✓")
		case report.Fail:
			mark = fail.Sprint("✗")
		}
		fmt.Fprintf(w, "%s %s\n", mark, bold.Sprint(repo.Repository))
		for _, s := range repo.Scripts {
			line := fmt.Sprintf("    [%d] %s", s.Index, s.Script)
			switch s.Status {
			case report.Fail:
				fmt.Fprintln(w, fail.Sprint(line))
			case report.Skipped:
				fmt.Fprintln(w, faint.Sprint(line))
			default:
				fmt.Fprintln(w, line)
			}
		}
	}

	if rr.Status == report.Pass {
		fmt.Fprintf(w, "%s %d repositories in %s\n", pass.Sprint("PASS"), len(rr.Repos), rr.Duration.Round(10*time.Millisecond))
		return
	}
	fmt.Fprintf(w, "%s %s\n", fail.Sprint("FAIL"), workflow.Describe(rr))
}
