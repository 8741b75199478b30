package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/splax/manifestor/internal/refine"
)

// Memory keeps generations in process. It is used by the CLI and tests.
type Memory struct {
	mu          sync.RWMutex
	generations map[string]*Generation
	revisions   map[string][]Revision
	now         func() time.Time
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		generations: make(map[string]*Generation),
		revisions:   make(map[string][]Revision),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ GenerationRepository = (*Memory)(nil)

// CreateGeneration stores gen as revision 0.
func (m *Memory) CreateGeneration(_ context.Context, gen *Generation) error {
	if gen == nil || strings.TrimSpace(gen.ID) == "" {
		return ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.generations[gen.ID]; ok {
		return fmt.Errorf("%w: generation %s exists", ErrInvalidArgument, gen.ID)
	}
	now := m.now()
	gen.Revision = 0
	gen.CreatedAt, gen.UpdatedAt = now, now
	stored := copyGeneration(gen)
	m.generations[gen.ID] = stored
	m.revisions[gen.ID] = []Revision{{
		GenerationID: gen.ID,
		Artifacts:    stored.Artifacts.Clone(),
		CreatedAt:    now,
	}}
	return nil
}

// GetGeneration returns a copy of the latest state of a generation.
func (m *Memory) GetGeneration(_ context.Context, id string) (*Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gen, ok := m.generations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGeneration(gen), nil
}

// AppendRevision records a new revision when the generation is still at expected.
func (m *Memory) AppendRevision(_ context.Context, id string, expected int, edits []refine.EditOperation, artifacts refine.Artifacts) (*Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen, ok := m.generations[id]
	if !ok {
		return nil, ErrNotFound
	}
	if gen.Revision != expected {
		return nil, fmt.Errorf("%w: generation %s is at revision %d, expected %d", ErrConflict, id, gen.Revision, expected)
	}
	now := m.now()
	gen.Revision++
	gen.Artifacts = artifacts.Clone()
	gen.UpdatedAt = now
	m.revisions[id] = append(m.revisions[id], Revision{
		GenerationID: id,
		Number:       gen.Revision,
		Edits:        append([]refine.EditOperation(nil), edits...),
		Artifacts:    artifacts.Clone(),
		CreatedAt:    now,
	})
	return copyGeneration(gen), nil
}

// ListRevisions returns every revision of a generation, oldest first.
func (m *Memory) ListRevisions(_ context.Context, id string) ([]Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	revs, ok := m.revisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Revision, len(revs))
	for i, r := range revs {
		r.Edits = append([]refine.EditOperation(nil), r.Edits...)
		r.Artifacts = r.Artifacts.Clone()
		out[i] = r
	}
	return out, nil
}

func copyGeneration(gen *Generation) *Generation {
	out := *gen
	out.Warnings = append([]string(nil), gen.Warnings...)
	out.Artifacts = gen.Artifacts.Clone()
	return &out
}
