// Package workflow drives a dependent build: it resolves the build file,
// prepares the clone directory, optionally links the host package, clones
// every dependent repository and runs its scripts in order. It is consumed
// by both the MCP server and the CLI.
package workflow

import (
	"context"

	"github.com/deixis/depbuild/internal/config"
	"github.com/deixis/depbuild/internal/runner"
	"github.com/deixis/depbuild/internal/trace"
)

// CommandRunner executes commands. Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, log trace.Logger, cmd runner.Command) error
}

// Cloner fetches repo into parentDir/clone.DirName(repo).
// Implemented by clone.ProcessCloner and clone.NativeCloner.
type Cloner interface {
	Clone(ctx context.Context, log trace.Logger, repo, parentDir string) error
}

// Batch is one dependent repository and the scripts run against it.
type Batch struct {
	Repository string
	Scripts    []string
}

// Batches returns one Batch per configured repository, in file order.
func Batches(cfg *config.Config) []Batch {
	out := make([]Batch, len(cfg.Entries))
	for i, e := range cfg.Entries {
		out[i] = Batch{
			Repository: e.Repository,
			Scripts:    append([]string(nil), e.Scripts...),
		}
	}
	return out
}
