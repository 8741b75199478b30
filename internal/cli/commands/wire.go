package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/manifestor/internal/classify"
	"github.com/splax/manifestor/internal/dockerfile"
	"github.com/splax/manifestor/internal/manifest"
	"github.com/splax/manifestor/internal/repository"
	"github.com/splax/manifestor/internal/repository/postgres"
	"github.com/splax/manifestor/internal/service/generate"
	"github.com/splax/manifestor/internal/sink"
	"github.com/splax/manifestor/internal/source"
	"github.com/splax/manifestor/internal/workspace"
)

// wiring selects the backends a command builds its service from.
type wiring struct {
	// Clone fetches through git instead of the GitHub API.
	Clone bool
	// Database uses Postgres when DATABASE_URL is set.
	Database bool
	// ObjectStore writes to S3 when configured instead of OutputDir.
	ObjectStore bool
	OutputDir   string
}

// services holds the built service together with what must be released.
type services struct {
	svc     *generate.Service
	sink    sink.Sink
	ping    func(context.Context) error
	closers []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (a *app) classifier() (*classify.Classifier, error) {
	path := strings.TrimSpace(a.cfg.Generator.PolicyFile)
	if path == "" {
		return classify.New(), nil
	}
	policy, err := classify.LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	a.logger.Info("classification policy loaded", "path", path)
	return classify.New(classify.WithPolicy(policy)), nil
}

func (a *app) fetcher(clone bool) (source.Fetcher, error) {
	if clone {
		ws, err := workspace.New(a.cfg.Generator.Workdir)
		if err != nil {
			return nil, err
		}
		return source.NewClone(ws, a.cfg.GitHub.Token, a.logger), nil
	}
	gh, err := source.NewGitHub(a.cfg.GitHub, a.logger)
	if err != nil {
		return nil, err
	}
	return gh, nil
}

func (a *app) defaults() manifest.DeploymentParams {
	return manifest.DeploymentParams{
		Namespace:     a.cfg.Generator.Namespace,
		Replicas:      int32(a.cfg.Generator.Replicas),
		ResourceScale: a.cfg.Generator.ResourceScale,
	}
}

func (a *app) build(ctx context.Context, w wiring) (*services, error) {
	out := &services{}
	classifier, err := a.classifier()
	if err != nil {
		return nil, err
	}
	fetcher, err := a.fetcher(w.Clone)
	if err != nil {
		return nil, err
	}

	var repo repository.GenerationRepository = repository.NewMemory()
	if dsn := strings.TrimSpace(a.cfg.Storage.DatabaseURL); w.Database && dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		out.closers = append(out.closers, pool.Close)
		runner, err := postgres.NewRunner(pool, dsn, a.logger)
		if err != nil {
			out.Close()
			return nil, err
		}
		if err := runner.Ensure(ctx); err != nil {
			out.Close()
			return nil, err
		}
		repo = postgres.New(pool)
		out.ping = pool.Ping
		a.logger.Info("using postgres generation repository")
	}

	switch {
	case w.ObjectStore && a.cfg.Storage.S3Enabled():
		s3, err := sink.NewS3(a.cfg.Storage)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.sink = s3
		a.logger.Info("using s3 artifact sink", "bucket", a.cfg.Storage.S3Bucket)
	default:
		dir := w.OutputDir
		if dir == "" {
			dir = a.cfg.Generator.OutputDir
		}
		d, err := sink.NewDir(dir)
		if err != nil {
			out.Close()
			return nil, err
		}
		out.sink = d
	}

	svc, err := generate.New(generate.Options{
		Fetcher:    fetcher,
		Classifier: classifier,
		Registry:   dockerfile.NewRegistry(),
		Repository: repo,
		Sink:       out.sink,
		Logger:     a.logger,
		CacheSize:  a.cfg.Generator.CacheSize,
		Defaults:   a.defaults(),
	})
	if err != nil {
		out.Close()
		return nil, err
	}
	out.svc = svc
	return out, nil
}
