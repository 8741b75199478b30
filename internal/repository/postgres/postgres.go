// Package postgres implements the generation repository on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/manifestor/internal/refine"
	"github.com/splax/manifestor/internal/repository"
)

// Repository implements repository.GenerationRepository.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.GenerationRepository = (*Repository)(nil)

const (
	generationInsert = `INSERT INTO generations (
		id, source, classification, params, warnings, revision, artifacts, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,0,$6,$7,$7)`
	generationSelect = `SELECT id, source, classification, params, warnings, revision, artifacts, created_at, updated_at
		FROM generations WHERE id = $1`
	revisionInsert = `INSERT INTO generation_revisions (generation_id, number, edits, artifacts, created_at)
		VALUES ($1,$2,$3,$4,$5)`
	revisionSelect = `SELECT generation_id, number, edits, artifacts, created_at
		FROM generation_revisions WHERE generation_id = $1 ORDER BY number`
	generationAdvance = `UPDATE generations SET revision = revision + 1, artifacts = $3, updated_at = $4
		WHERE id = $1 AND revision = $2`
)

// CreateGeneration stores gen and its initial revision in one transaction.
func (r *Repository) CreateGeneration(ctx context.Context, gen *repository.Generation) error {
	if gen == nil || strings.TrimSpace(gen.ID) == "" {
		return repository.ErrInvalidArgument
	}
	classification, err := json.Marshal(gen.Classification)
	if err != nil {
		return fmt.Errorf("encode classification: %w", err)
	}
	params, err := json.Marshal(gen.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	warnings, err := json.Marshal(nonNil(gen.Warnings))
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	artifacts, err := json.Marshal(gen.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	now := time.Now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, generationInsert, gen.ID, gen.Source, classification, params, warnings, artifacts, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: generation %s exists", repository.ErrInvalidArgument, gen.ID)
		}
		return fmt.Errorf("insert generation: %w", err)
	}
	if _, err := tx.Exec(ctx, revisionInsert, gen.ID, 0, []byte("[]"), artifacts, now); err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit generation: %w", err)
	}
	gen.Revision = 0
	gen.CreatedAt, gen.UpdatedAt = now, now
	return nil
}

// GetGeneration fetches a generation by id.
func (r *Repository) GetGeneration(ctx context.Context, id string) (*repository.Generation, error) {
	row := r.pool.QueryRow(ctx, generationSelect, strings.TrimSpace(id))
	return scanGeneration(row)
}

// AppendRevision advances the generation only if it is still at expected.
func (r *Repository) AppendRevision(ctx context.Context, id string, expected int, edits []refine.EditOperation, artifacts refine.Artifacts) (*repository.Generation, error) {
	encodedEdits, err := json.Marshal(nonNil(edits))
	if err != nil {
		return nil, fmt.Errorf("encode edits: %w", err)
	}
	encodedArtifacts, err := json.Marshal(artifacts)
	if err != nil {
		return nil, fmt.Errorf("encode artifacts: %w", err)
	}
	now := time.Now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, generationAdvance, id, expected, encodedArtifacts, now)
	if err != nil {
		return nil, fmt.Errorf("advance generation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := scanGeneration(tx.QueryRow(ctx, generationSelect, id)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: generation %s moved past revision %d", repository.ErrConflict, id, expected)
	}
	if _, err := tx.Exec(ctx, revisionInsert, id, expected+1, encodedEdits, encodedArtifacts, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("insert revision: %w", err)
	}
	gen, err := scanGeneration(tx.QueryRow(ctx, generationSelect, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit revision: %w", err)
	}
	return gen, nil
}

// ListRevisions returns every revision of a generation, oldest first.
func (r *Repository) ListRevisions(ctx context.Context, id string) ([]repository.Revision, error) {
	rows, err := r.pool.Query(ctx, revisionSelect, strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()
	var out []repository.Revision
	for rows.Next() {
		var (
			rev              repository.Revision
			edits, artifacts []byte
		)
		if err := rows.Scan(&rev.GenerationID, &rev.Number, &edits, &artifacts, &rev.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(edits, &rev.Edits); err != nil {
			return nil, fmt.Errorf("decode edits: %w", err)
		}
		if err := json.Unmarshal(artifacts, &rev.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func scanGeneration(row pgx.Row) (*repository.Generation, error) {
	var (
		gen                                         repository.Generation
		classification, params, warnings, artifacts []byte
	)
	err := row.Scan(&gen.ID, &gen.Source, &classification, &params, &warnings, &gen.Revision, &artifacts, &gen.CreatedAt, &gen.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(classification, &gen.Classification); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	if err := json.Unmarshal(params, &gen.Params); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	if err := json.Unmarshal(warnings, &gen.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	if err := json.Unmarshal(artifacts, &gen.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	return &gen, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
