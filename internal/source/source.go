// Package source retrieves the file listing and manifest contents of a
// repository, either through the GitHub API, a shallow git clone or a local
// directory.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrNotFound    = errors.New("source: repository not found")
	ErrRateLimited = errors.New("source: rate limited")
	ErrInvalidRef  = errors.New("source: invalid repository reference")
)

// Ref identifies a repository and optional branch. URL is set when the
// repository lives outside github.com.
type Ref struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
	URL    string `json:"url,omitempty"`
}

// ParseRef accepts owner/repo, owner/repo@branch and http(s) clone URLs.
func ParseRef(s string) (Ref, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Ref{}, fmt.Errorf("%w: empty reference", ErrInvalidRef)
	}
	var ref Ref
	if at := strings.LastIndex(raw, "@"); at > 0 && !strings.Contains(raw[at:], "/") {
		ref.Branch = raw[at+1:]
		raw = raw[:at]
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: %v", ErrInvalidRef, err)
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 2 {
			return Ref{}, fmt.Errorf("%w: %q has no owner/repo path", ErrInvalidRef, s)
		}
		ref.Owner = parts[len(parts)-2]
		ref.Repo = strings.TrimSuffix(parts[len(parts)-1], ".git")
		if !strings.EqualFold(u.Host, "github.com") {
			ref.URL = raw
		}
	} else {
		owner, repo, ok := strings.Cut(raw, "/")
		if !ok || strings.Contains(repo, "/") {
			return Ref{}, fmt.Errorf("%w: expected owner/repo, got %q", ErrInvalidRef, s)
		}
		ref.Owner, ref.Repo = owner, strings.TrimSuffix(repo, ".git")
	}
	if ref.Owner == "" || ref.Repo == "" {
		return Ref{}, fmt.Errorf("%w: expected owner/repo, got %q", ErrInvalidRef, s)
	}
	return ref, nil
}

func (r Ref) String() string {
	s := r.Owner + "/" + r.Repo
	if r.URL != "" {
		s = r.URL
	}
	if r.Branch != "" {
		s += "@" + r.Branch
	}
	return s
}

// CloneURL returns the https clone URL of the repository.
func (r Ref) CloneURL() string {
	if r.URL != "" {
		return r.URL
	}
	return fmt.Sprintf("https://github.com/%s/%s.git", r.Owner, r.Repo)
}

// Snapshot is the subset of a repository the signal extractor consumes:
// paths at depth one or less and the contents of allow-listed files.
type Snapshot struct {
	Paths    []string          `json:"paths"`
	Contents map[string][]byte `json:"contents"`
	Revision string            `json:"revision,omitempty"`
}

// Fetcher retrieves a repository snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, ref Ref) (Snapshot, error)
}
