// Package repository persists generations and their edit history.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/splax/manifestor/internal/classify"
	"github.com/splax/manifestor/internal/manifest"
	"github.com/splax/manifestor/internal/refine"
)

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when a revision was appended concurrently.
	ErrConflict = errors.New("repository: revision conflict")
	// ErrInvalidArgument reports a record that cannot be stored.
	ErrInvalidArgument = errors.New("repository: invalid argument")
)

// Generation is one analyzed repository and its current artifacts.
type Generation struct {
	ID             string                    `json:"id"`
	Source         string                    `json:"source"`
	Classification classify.Classification   `json:"classification"`
	Params         manifest.DeploymentParams `json:"params"`
	Warnings       []string                  `json:"warnings,omitempty"`
	Revision       int                       `json:"revision"`
	Artifacts      refine.Artifacts          `json:"artifacts"`
	CreatedAt      time.Time                 `json:"createdAt"`
	UpdatedAt      time.Time                 `json:"updatedAt"`
}

// Revision records the edits that produced one accepted state. Revision 0 is
// the composed output.
type Revision struct {
	GenerationID string                 `json:"generationId"`
	Number       int                    `json:"number"`
	Edits        []refine.EditOperation `json:"edits,omitempty"`
	Artifacts    refine.Artifacts       `json:"artifacts"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// GenerationRepository stores generations.
type GenerationRepository interface {
	CreateGeneration(ctx context.Context, gen *Generation) error
	GetGeneration(ctx context.Context, id string) (*Generation, error)
	// AppendRevision stores artifacts as revision expected+1. It fails with
	// ErrConflict if the generation is no longer at revision expected.
	AppendRevision(ctx context.Context, id string, expected int, edits []refine.EditOperation, artifacts refine.Artifacts) (*Generation, error)
	ListRevisions(ctx context.Context, id string) ([]Revision, error)
}
