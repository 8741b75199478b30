// Package generate runs the analysis pipeline: fetch a repository snapshot,
// extract signals, classify, compose the Dockerfile and manifests, then
// persist the generation and write its artifacts.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/splax/manifestor/internal/classify"
	"github.com/splax/manifestor/internal/dockerfile"
	"github.com/splax/manifestor/internal/manifest"
	"github.com/splax/manifestor/internal/refine"
	"github.com/splax/manifestor/internal/repository"
	"github.com/splax/manifestor/internal/signals"
	"github.com/splax/manifestor/internal/sink"
	"github.com/splax/manifestor/internal/source"
)

var (
	// ErrInvalidRequest reports a request that names no usable source.
	ErrInvalidRequest = errors.New("generate: invalid request")
	// ErrSink wraps failures to write artifacts after the generation was stored.
	ErrSink = errors.New("generate: artifact sink failed")
)

const defaultCacheSize = 1024

// Request selects the repository to analyze. Exactly one of Source, Dir or
// Paths must be set.
type Request struct {
	Source   string                    `json:"source,omitempty"`
	Dir      string                    `json:"dir,omitempty"`
	Paths    []string                  `json:"paths,omitempty"`
	Contents map[string]string         `json:"contents,omitempty"`
	Params   manifest.DeploymentParams `json:"params"`
}

// Analysis is the outcome of extraction and classification.
type Analysis struct {
	Source         string                    `json:"source"`
	Revision       string                    `json:"revision,omitempty"`
	Signals        signals.RepositorySignals `json:"signals"`
	Classification classify.Classification   `json:"classification"`
	Cached         bool                      `json:"cached"`
	Report         Report                    `json:"report"`

	appName string
}

// Result describes a stored generation.
type Result struct {
	ID             string                    `json:"id"`
	Revision       int                       `json:"revision"`
	Source         string                    `json:"source"`
	Classification classify.Classification   `json:"classification"`
	Params         manifest.DeploymentParams `json:"params"`
	Files          map[string]string         `json:"files"`
	Report         Report                    `json:"report"`
	CreatedAt      time.Time                 `json:"createdAt"`
	UpdatedAt      time.Time                 `json:"updatedAt"`

	Artifacts refine.Artifacts `json:"-"`
}

// Options wires the collaborators of a Service. Repository is required;
// Fetcher and Sink are optional.
type Options struct {
	Fetcher    source.Fetcher
	Classifier *classify.Classifier
	Registry   *dockerfile.Registry
	Repository repository.GenerationRepository
	Sink       sink.Sink
	Logger     *slog.Logger
	CacheSize  int
	Defaults   manifest.DeploymentParams
}

// Service coordinates a generation end to end.
type Service struct {
	fetcher    source.Fetcher
	classifier *classify.Classifier
	registry   *dockerfile.Registry
	repo       repository.GenerationRepository
	sink       sink.Sink
	cache      *lru.Cache[string, classify.Classification]
	logger     *slog.Logger
	defaults   manifest.DeploymentParams
	newID      func() string
}

// New creates a generation service.
func New(opts Options) (*Service, error) {
	if opts.Repository == nil {
		return nil, errors.New("generation repository is required")
	}
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, classify.Classification](size)
	if err != nil {
		return nil, fmt.Errorf("create classification cache: %w", err)
	}
	svc := &Service{
		fetcher:    opts.Fetcher,
		classifier: opts.Classifier,
		registry:   opts.Registry,
		repo:       opts.Repository,
		sink:       opts.Sink,
		cache:      cache,
		logger:     opts.Logger,
		defaults:   opts.Defaults,
		newID:      uuid.NewString,
	}
	if svc.classifier == nil {
		svc.classifier = classify.New()
	}
	if svc.registry == nil {
		svc.registry = dockerfile.NewRegistry()
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc, nil
}

// Analyze extracts signals and classifies the requested repository. Fetch
// failures are reported as warnings and analysis continues on an empty
// snapshot.
func (s *Service) Analyze(ctx context.Context, req Request) (Analysis, error) {
	var report Report
	snap, label, name, err := s.snapshot(ctx, req, &report)
	if err != nil {
		return Analysis{}, err
	}
	contents := make(map[string][]byte, len(snap.Contents))
	for k, v := range snap.Contents {
		contents[k] = v
	}
	sigs := signals.Extract(snap.Paths, contents)
	report.addSignals(sigs)

	key := sigs.Digest()
	c, cached := s.cache.Get(key)
	if !cached {
		c = s.classifier.Classify(sigs)
		s.cache.Add(key, c)
	}
	report.addClassification(c)

	s.logger.Info("repository classified",
		"source", label,
		"language", c.Language,
		"framework", c.Framework,
		"rule", c.Rule,
		"cached", cached,
		"warnings", len(report.Warnings),
	)
	return Analysis{
		Source:         label,
		Revision:       snap.Revision,
		Signals:        sigs,
		Classification: c,
		Cached:         cached,
		Report:         report,
		appName:        name,
	}, nil
}

// Generate analyzes the repository, composes every artifact, stores the
// generation and then writes its files to the sink.
func (s *Service) Generate(ctx context.Context, req Request) (Result, error) {
	analysis, err := s.Analyze(ctx, req)
	if err != nil {
		return Result{}, err
	}
	params := s.params(req.Params, analysis.appName)
	artifacts, err := s.compose(analysis.Classification, params)
	if err != nil {
		return Result{}, err
	}
	report := analysis.Report
	report.addDockerfile(artifacts.Dockerfile)

	gen := &repository.Generation{
		ID:             s.newID(),
		Source:         analysis.Source,
		Classification: analysis.Classification,
		Params:         params,
		Warnings:       report.Strings(),
		Artifacts:      artifacts,
	}
	if err := s.repo.CreateGeneration(ctx, gen); err != nil {
		return Result{}, fmt.Errorf("store generation: %w", err)
	}
	s.logger.Info("generation stored", "generation_id", gen.ID, "app", params.AppName, "unverified", artifacts.Dockerfile.Unverified)

	result, err := s.result(gen, report)
	if err != nil {
		return Result{}, err
	}
	if err := s.write(ctx, gen, result.Files); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) compose(c classify.Classification, params manifest.DeploymentParams) (refine.Artifacts, error) {
	set, err := manifest.Compose(c, params)
	if err != nil {
		return refine.Artifacts{}, err
	}
	art := s.registry.Compose(c)
	if art.HealthCheckPath != params.HealthCheckPath {
		spec := art.Spec
		spec.HealthCheckPath = params.HealthCheckPath
		art = art.WithSpec(spec)
	}
	artifacts := refine.Artifacts{Dockerfile: art, Manifests: set}
	if err := artifacts.Check(); err != nil {
		return refine.Artifacts{}, fmt.Errorf("compose artifacts: %w", err)
	}
	return artifacts, nil
}

// params fills request parameters from the service defaults.
func (s *Service) params(p manifest.DeploymentParams, name string) manifest.DeploymentParams {
	if strings.TrimSpace(p.AppName) == "" {
		p.AppName = name
	}
	if p.Replicas == 0 {
		p.Replicas = s.defaults.Replicas
	}
	if p.Replicas == 0 {
		p.Replicas = 1
	}
	if strings.TrimSpace(p.Namespace) == "" {
		p.Namespace = s.defaults.Namespace
	}
	if p.ResourceScale == 0 {
		p.ResourceScale = s.defaults.ResourceScale
	}
	return p.WithDefaults()
}

func (s *Service) snapshot(ctx context.Context, req Request, report *Report) (source.Snapshot, string, string, error) {
	set := 0
	for _, ok := range []bool{strings.TrimSpace(req.Source) != "", strings.TrimSpace(req.Dir) != "", len(req.Paths) > 0} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return source.Snapshot{}, "", "", fmt.Errorf("%w: exactly one of source, dir or paths is required", ErrInvalidRequest)
	}

	switch {
	case len(req.Paths) > 0:
		snap := source.Snapshot{Paths: append([]string(nil), req.Paths...), Contents: make(map[string][]byte, len(req.Contents))}
		for k, v := range req.Contents {
			snap.Contents[k] = []byte(v)
		}
		return snap, "inline", "app", nil
	case strings.TrimSpace(req.Dir) != "":
		snap, err := source.ReadDir(req.Dir)
		if err != nil {
			report.add(CodeFetchFailed, req.Dir, err)
			s.logger.Warn("read directory failed", "dir", req.Dir, "error", err)
			return source.Snapshot{}, req.Dir, dirAppName(req.Dir), nil
		}
		return snap, req.Dir, dirAppName(req.Dir), nil
	}

	ref, err := source.ParseRef(req.Source)
	if err != nil {
		return source.Snapshot{}, "", "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if s.fetcher == nil {
		report.add(CodeFetchFailed, ref.String(), errors.New("no repository fetcher configured"))
		return source.Snapshot{}, ref.String(), appName(ref.Repo), nil
	}
	snap, err := s.fetcher.Fetch(ctx, ref)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return source.Snapshot{}, "", "", ctxErr
		}
		report.add(CodeFetchFailed, ref.String(), err)
		s.logger.Warn("repository fetch failed", "repo", ref.String(), "error", err)
		return source.Snapshot{}, ref.String(), appName(ref.Repo), nil
	}
	return snap, ref.String(), appName(ref.Repo), nil
}
