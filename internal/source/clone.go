package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/splax/manifestor/internal/errs"
	"github.com/splax/manifestor/internal/workspace"
)

var ErrCloneFailed = errors.New("source: clone failed")

// Clone fetches a snapshot by shallow-cloning into a scratch workspace. It
// works for any https git host.
type Clone struct {
	ws     *workspace.Manager
	token  string
	logger *slog.Logger
}

// NewClone returns a clone-based fetcher. token may be empty for public
// repositories.
func NewClone(ws *workspace.Manager, token string, log *slog.Logger) *Clone {
	if log == nil {
		log = slog.Default()
	}
	return &Clone{ws: ws, token: strings.TrimSpace(token), logger: log}
}

func (c *Clone) Fetch(ctx context.Context, ref Ref) (Snapshot, error) {
	dir, revision, release, err := c.Checkout(ctx, ref)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() {
		if err := release(); err != nil {
			c.logger.Warn("cleanup clone workspace", "dir", dir, "error", err)
		}
	}()
	snap, err := ReadDir(dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read clone: %w", err)
	}
	snap.Revision = revision
	return snap, nil
}

// Checkout shallow-clones ref into a scratch directory and returns it with
// the checked out commit. The caller must invoke release when done.
func (c *Clone) Checkout(ctx context.Context, ref Ref) (string, string, func() error, error) {
	dir, release, err := c.ws.Scratch("clone")
	if err != nil {
		return "", "", nil, err
	}
	opts := &git.CloneOptions{
		URL:          ref.CloneURL(),
		Depth:        1,
		SingleBranch: true,
		Progress:     io.Discard,
	}
	if ref.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref.Branch)
	}
	if c.token != "" {
		opts.Auth = &http.BasicAuth{Username: "git", Password: c.token}
	}
	c.logger.Info("cloning repository", "repo", ref.String())
	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		_ = release()
		switch {
		case errors.Is(err, transport.ErrRepositoryNotFound),
			errors.Is(err, transport.ErrAuthenticationRequired),
			errors.Is(err, plumbing.ErrReferenceNotFound):
			return "", "", nil, errs.Wrap(ErrNotFound, err)
		}
		return "", "", nil, errs.Wrap(ErrCloneFailed, err)
	}
	var revision string
	if head, err := repo.Head(); err == nil {
		revision = head.Hash().String()
	}
	return dir, revision, release, nil
}
