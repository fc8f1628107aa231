// Package clone fetches dependent repositories into the clone directory.
//
// Two backends exist: ProcessCloner shells out to the git binary through
// the process runner, NativeCloner clones in-process with go-git. Both
// place the checkout at parentDir/DirName(repo), so callers can resolve a
// repository's directory without asking the cloner.
package clone

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deixis/depbuild/internal/failure"
	"github.com/deixis/depbuild/internal/runner"
	"github.com/deixis/depbuild/internal/trace"
	"go.uber.org/zap"
)

// CommandRunner executes commands. Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, log trace.Logger, cmd runner.Command) error
}

// DirName returns the directory name git would pick for repo:
// the last path segment with any ".git" or ".bundle" suffix removed.
//
//	https://example.com/org/foo.git -> foo
//	git@example.com:org/foo         -> foo
//	../local/bar/.git               -> bar
func DirName(repo string) string {
	s := strings.TrimSpace(repo)
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, "/.git")
	s = strings.TrimRight(s, "/")

	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimSuffix(s, ".bundle")
	return s
}

// Dir returns the checkout directory of repo under parentDir.
func Dir(parentDir, repo string) string {
	return filepath.Join(parentDir, DirName(repo))
}

// ProcessCloner clones with `git clone` through a CommandRunner.
type ProcessCloner struct {
	Runner CommandRunner
	Env    []string // environment for the git process
	Depth  int      // shallow clone depth, 0 for a full clone
	Git    string   // git binary, defaults to "git"
}

// Clone runs git clone with parentDir as working directory.
func (c *ProcessCloner) Clone(ctx context.Context, log trace.Logger, repo, parentDir string) error {
	bin := c.Git
	if bin == "" {
		bin = "git"
	}
	argv := []string{bin, "clone"}
	if c.Depth > 0 {
		argv = append(argv, "--depth", strconv.Itoa(c.Depth))
	}
	argv = append(argv, "--", repo, DirName(repo))

	log.Debug("Cloning repository", zap.String("repository", repo), zap.Strings("argv", argv))
	err := c.Runner.Run(ctx, log, runner.Command{Argv: argv, Dir: parentDir, Env: c.Env})
	if err != nil {
		return failure.Wrap(failure.SpawnError, "clone", err).WithRepository(repo)
	}
	return nil
}
