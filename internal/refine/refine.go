// Package refine applies structured edits to generated artifacts.
//
// Each edit runs against a deep copy of the current state. The copy replaces
// the state only when the edit validates and every cross-document invariant
// still holds afterwards, so a rejected edit never leaves a partial change
// behind.
package refine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/splax/manifestor/internal/dockerfile"
	"github.com/splax/manifestor/internal/manifest"
)

var (
	// ErrEditValidation is wrapped by every rejected edit.
	ErrEditValidation = errors.New("refine: edit rejected")
	// ErrInconsistent reports artifacts whose documents disagree.
	ErrInconsistent = errors.New("refine: artifacts inconsistent")
)

// Operation is the verb of an edit.
type Operation string

const (
	OpSet       Operation = "set"
	OpIncrement Operation = "increment"
	OpAppend    Operation = "append"
	OpRemove    Operation = "remove"
)

// EditOperation changes one field addressed by a dot-path.
type EditOperation struct {
	Target    string    `json:"target" yaml:"target"`
	Operation Operation `json:"operation" yaml:"operation"`
	Value     any       `json:"value,omitempty" yaml:"value,omitempty"`
}

func (e EditOperation) String() string {
	return fmt.Sprintf("%s=%s:%v", e.Target, e.Operation, e.Value)
}

// ValidationError describes why the edit at Index was rejected.
type ValidationError struct {
	Index  int
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("refine: edit %d (%s) rejected: %s", e.Index, e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrEditValidation
}

// Artifacts is the full generated output for one application.
type Artifacts struct {
	Dockerfile dockerfile.Artifact `json:"dockerfile"`
	Manifests  manifest.Set        `json:"manifests"`
}

// Clone returns a deep copy of a.
func (a Artifacts) Clone() Artifacts {
	return Artifacts{
		Dockerfile: a.Dockerfile,
		Manifests:  a.Manifests.DeepCopy(),
	}
}

// Check verifies the invariants that span the Dockerfile and the manifests.
func (a Artifacts) Check() error {
	if err := a.Manifests.Validate(); err != nil {
		return err
	}
	if port := a.Manifests.ContainerPort(); a.Dockerfile.ExposedPort != port {
		return fmt.Errorf("%w: dockerfile exposes %d but containerPort is %d", ErrInconsistent, a.Dockerfile.ExposedPort, port)
	}
	if c := a.Manifests.Container(); c.ReadinessProbe != nil && c.ReadinessProbe.HTTPGet != nil {
		if c.ReadinessProbe.HTTPGet.Path != a.Dockerfile.HealthCheckPath {
			return fmt.Errorf("%w: probe path %q differs from dockerfile health check %q", ErrInconsistent, c.ReadinessProbe.HTTPGet.Path, a.Dockerfile.HealthCheckPath)
		}
	}
	if a.Dockerfile.Text != dockerfile.Render(a.Dockerfile.Spec) {
		return fmt.Errorf("%w: dockerfile text does not match its fields", ErrInconsistent)
	}
	return nil
}

// Files renders every artifact keyed by its output filename.
func (a Artifacts) Files() (map[string]string, error) {
	files, err := a.Manifests.Render()
	if err != nil {
		return nil, err
	}
	files[FileDockerfile] = a.Dockerfile.Text
	return files, nil
}

// FileDockerfile is the output filename of the rendered Dockerfile.
const FileDockerfile = "Dockerfile"

// Apply runs edits in order. It stops at the first rejected edit and returns
// the state after the last accepted one together with a *ValidationError. The
// input is never modified.
func Apply(a Artifacts, edits []EditOperation) (Artifacts, error) {
	current := a.Clone()
	for i, edit := range edits {
		next, err := applyOne(current, edit)
		if err != nil {
			return current, &ValidationError{Index: i, Path: edit.Target, Reason: err.Error()}
		}
		current = next
	}
	return current, nil
}

func applyOne(state Artifacts, edit EditOperation) (Artifacts, error) {
	path := canonicalTarget(edit.Target)
	f, ok := schema[path]
	if !ok {
		return state, fmt.Errorf("unknown target %q", edit.Target)
	}
	op := Operation(strings.ToLower(strings.TrimSpace(string(edit.Operation))))
	if op == "" {
		op = OpSet
	}
	if !f.allows(op) {
		return state, fmt.Errorf("operation %q not supported, use one of %s", op, joinOps(f.ops))
	}
	if state.Manifests.Container() == nil {
		return state, errors.New("manifest set has no deployment container")
	}
	next := state.Clone()
	if err := f.apply(&next, op, edit.Value); err != nil {
		return state, err
	}
	next.Dockerfile = next.Dockerfile.WithSpec(next.Dockerfile.Spec)
	if err := next.Check(); err != nil {
		return state, err
	}
	return next, nil
}

// Target describes one editable path.
type Target struct {
	Path       string      `json:"path"`
	Operations []Operation `json:"operations"`
	Value      string      `json:"value"`
}

// Targets lists every editable path in lexical order.
func Targets() []Target {
	out := make([]Target, 0, len(schema))
	for path, f := range schema {
		out = append(out, Target{Path: path, Operations: append([]Operation(nil), f.ops...), Value: f.value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func canonicalTarget(target string) string {
	key := strings.ToLower(strings.TrimSpace(target))
	if alias, ok := aliases[key]; ok {
		return alias
	}
	if path, ok := schemaIndex[key]; ok {
		return path
	}
	return key
}

func joinOps(ops []Operation) string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}
