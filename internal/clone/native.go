package clone

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/deixis/depbuild/internal/failure"
	"github.com/deixis/depbuild/internal/trace"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/zap"
)

// NativeCloner clones in-process with go-git. It does not need a git
// binary on PATH.
type NativeCloner struct {
	Depth    int       // shallow clone depth, 0 for a full clone
	Progress io.Writer // sideband progress, nil to discard
}

// Clone clones repo into parentDir/DirName(repo).
func (c *NativeCloner) Clone(ctx context.Context, log trace.Logger, repo, parentDir string) error {
	dest := Dir(parentDir, repo)
	log.Debug("Cloning repository", zap.String("repository", repo), zap.String("dest", dest))

	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:      repo,
		Depth:    c.Depth,
		Progress: c.Progress,
	})
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired):
		err = wrapf(err, "authentication required")
	case errors.Is(err, transport.ErrRepositoryNotFound):
		err = wrapf(err, "repository not found")
	case errors.Is(err, git.ErrRepositoryAlreadyExists):
		err = wrapf(err, "destination %s already exists", dest)
	}
	return failure.New(failure.CloneFailed, "clone", err).WithRepository(repo)
}

// wrapf adds context to err while keeping errors.Is matches.
func wrapf(err error, format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, err)...)
}
