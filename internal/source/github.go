package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/splax/manifestor/internal/errs"
	"github.com/splax/manifestor/internal/signals"
	"github.com/splax/manifestor/pkg/config"
)

// GitHub reads snapshots through the GitHub REST API without cloning.
type GitHub struct {
	client  *github.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewGitHub builds an API fetcher. A token is optional but unauthenticated
// clients hit the rate limit quickly.
func NewGitHub(cfg config.GitHubConfig, log *slog.Logger) (*GitHub, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), src)
		httpClient.Timeout = cfg.Timeout
	}
	client := github.NewClient(httpClient)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		client.BaseURL = u
	}
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GitHub{client: client, logger: log, timeout: timeout}, nil
}

// Fetch lists the repository tree and downloads allow-listed root files.
// Individual files that cannot be read are left out of Contents so the
// extractor records them as degraded.
func (g *GitHub) Fetch(ctx context.Context, ref Ref) (Snapshot, error) {
	if ref.Owner == "" || ref.Repo == "" {
		return Snapshot{}, fmt.Errorf("%w: owner and repo are required", ErrInvalidRef)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	branch := ref.Branch
	if branch == "" {
		repo, _, err := g.client.Repositories.Get(ctx, ref.Owner, ref.Repo)
		if err != nil {
			return Snapshot{}, mapGitHubError("get repository", err)
		}
		branch = repo.GetDefaultBranch()
	}

	tree, _, err := g.client.Git.GetTree(ctx, ref.Owner, ref.Repo, branch, true)
	if err != nil {
		return Snapshot{}, mapGitHubError("get tree", err)
	}
	if tree.GetTruncated() {
		g.logger.Warn("repository tree truncated", "repo", ref.String())
	}

	snap := Snapshot{Contents: map[string][]byte{}, Revision: tree.GetSHA()}
	for _, entry := range tree.Entries {
		p := entry.GetPath()
		if entry.GetType() != "blob" || !signals.WithinDepth(p) {
			continue
		}
		snap.Paths = append(snap.Paths, p)
		if !signals.Interesting(p) {
			continue
		}
		if entry.GetSize() > 4*signals.MaxContentSize {
			g.logger.Warn("skipping oversized manifest", "repo", ref.String(), "path", p, "size", entry.GetSize())
			continue
		}
		data, err := g.content(ctx, ref, branch, p)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				return Snapshot{}, err
			}
			g.logger.Warn("manifest content unavailable", "repo", ref.String(), "path", p, "error", err)
			continue
		}
		snap.Contents[p] = data
	}
	return snap, nil
}

func (g *GitHub) content(ctx context.Context, ref Ref, branch, p string) ([]byte, error) {
	file, _, _, err := g.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, p, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		return nil, mapGitHubError("get "+p, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is not a file", p)
	}
	text, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	return []byte(text), nil
}

func mapGitHubError(op string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return errs.WrapMsg(ErrRateLimited, op, err)
	case errors.As(err, &respErr) && respErr.Response != nil:
		switch respErr.Response.StatusCode {
		case http.StatusNotFound:
			return errs.WrapMsg(ErrNotFound, op, err)
		case http.StatusTooManyRequests:
			return errs.WrapMsg(ErrRateLimited, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
