package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/splax/manifestor/internal/refine"
	"github.com/splax/manifestor/internal/repository"
)

// StateFile is written next to the artifacts so a later run can restore the
// generation and keep refining it.
const StateFile = ".manifestor.json"

// Refine applies edits to the latest revision of a generation. Edits before
// the first rejected one are persisted as a new revision; the rejection is
// returned as a *refine.ValidationError alongside the stored result.
func (s *Service) Refine(ctx context.Context, id string, edits []refine.EditOperation) (Result, error) {
	if len(edits) == 0 {
		return Result{}, fmt.Errorf("%w: no edits supplied", ErrInvalidRequest)
	}
	gen, err := s.repo.GetGeneration(ctx, id)
	if err != nil {
		return Result{}, err
	}
	next, applyErr := refine.Apply(gen.Artifacts, edits)
	accepted := edits
	var verr *refine.ValidationError
	if applyErr != nil {
		if !errors.As(applyErr, &verr) {
			return Result{}, applyErr
		}
		accepted = edits[:verr.Index]
	}

	if len(accepted) > 0 {
		updated, err := s.repo.AppendRevision(ctx, id, gen.Revision, accepted, next)
		if err != nil {
			return Result{}, fmt.Errorf("store revision: %w", err)
		}
		gen = updated
		s.logger.Info("generation refined", "generation_id", id, "revision", gen.Revision, "edits", len(accepted))
	}

	report := reportFrom(gen)
	if verr != nil {
		report.Warnings = append(report.Warnings, Warning{Code: CodeEditRejected, Path: verr.Path, Message: verr.Reason})
		s.logger.Warn("edit rejected", "generation_id", id, "index", verr.Index, "path", verr.Path, "reason", verr.Reason)
	}
	result, err := s.result(gen, report)
	if err != nil {
		return Result{}, err
	}
	if len(accepted) > 0 {
		if err := s.write(ctx, gen, result.Files); err != nil {
			return result, err
		}
	}
	if verr != nil {
		return result, verr
	}
	return result, nil
}

// Get returns the latest revision of a generation.
func (s *Service) Get(ctx context.Context, id string) (Result, error) {
	gen, err := s.repo.GetGeneration(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return s.result(gen, reportFrom(gen))
}

// Revisions lists the edit history of a generation.
func (s *Service) Revisions(ctx context.Context, id string) ([]repository.Revision, error) {
	return s.repo.ListRevisions(ctx, id)
}

// Restore loads the generation recorded under prefix in the sink and makes
// sure the repository knows it. It returns the generation id.
func (s *Service) Restore(ctx context.Context, prefix string) (string, error) {
	if s.sink == nil {
		return "", errors.New("no artifact sink configured")
	}
	data, err := s.sink.Get(ctx, prefix, StateFile)
	if err != nil {
		return "", fmt.Errorf("read generation state: %w", err)
	}
	var gen repository.Generation
	if err := json.Unmarshal(data, &gen); err != nil {
		return "", fmt.Errorf("decode generation state: %w", err)
	}
	if gen.ID == "" {
		return "", fmt.Errorf("%w: state file has no generation id", ErrInvalidRequest)
	}
	if err := gen.Artifacts.Check(); err != nil {
		return "", fmt.Errorf("restore %s: %w", gen.ID, err)
	}
	_, err = s.repo.GetGeneration(ctx, gen.ID)
	switch {
	case err == nil:
		return gen.ID, nil
	case !errors.Is(err, repository.ErrNotFound):
		return "", err
	}
	if err := s.repo.CreateGeneration(ctx, &gen); err != nil {
		return "", fmt.Errorf("import generation: %w", err)
	}
	return gen.ID, nil
}

func (s *Service) result(gen *repository.Generation, report Report) (Result, error) {
	files, err := gen.Artifacts.Files()
	if err != nil {
		return Result{}, fmt.Errorf("render artifacts: %w", err)
	}
	if report.Warnings == nil {
		report.Warnings = []Warning{}
	}
	return Result{
		ID:             gen.ID,
		Revision:       gen.Revision,
		Source:         gen.Source,
		Classification: gen.Classification,
		Params:         gen.Params,
		Files:          files,
		Report:         report,
		CreatedAt:      gen.CreatedAt,
		UpdatedAt:      gen.UpdatedAt,
		Artifacts:      gen.Artifacts,
	}, nil
}

// write runs only after the repository accepted the generation.
func (s *Service) write(ctx context.Context, gen *repository.Generation, files map[string]string) error {
	if s.sink == nil {
		return nil
	}
	state, err := json.MarshalIndent(gen, "", "  ")
	if err != nil {
		return fmt.Errorf("encode generation state: %w", err)
	}
	out := make(map[string]string, len(files)+1)
	for k, v := range files {
		out[k] = v
	}
	out[StateFile] = string(state)
	if err := s.sink.Put(ctx, gen.Params.AppName, out); err != nil {
		s.logger.Error("artifact write failed", "generation_id", gen.ID, "app", gen.Params.AppName, "error", err)
		return fmt.Errorf("%w: %w", ErrSink, err)
	}
	return nil
}

// reportFrom rebuilds a report from the warnings stored with a generation.
func reportFrom(gen *repository.Generation) Report {
	var r Report
	for _, w := range gen.Warnings {
		code, msg, _ := strings.Cut(w, ": ")
		r.Warnings = append(r.Warnings, Warning{Code: code, Message: msg})
	}
	return r
}
