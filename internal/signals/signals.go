package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
)

// ErrExtractionDegraded marks a manifest that was present but could not be parsed.
var ErrExtractionDegraded = errors.New("signals: extraction degraded")

// Property keys recorded in Manifest.Properties.
const (
	PropPackageManager = "packageManager"
	PropBuildSystem    = "buildSystem"
	PropModule         = "module"
	PropMain           = "main"
	PropPort           = "port"
)

// Version keys recorded in Manifest.Versions.
const (
	VersionPython = "python"
	VersionNode   = "node"
	VersionJava   = "java"
	VersionGo     = "go"
)

// Manifest holds the key fields parsed from one well-known descriptor file.
type Manifest struct {
	Path         string            `json:"path"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
	Scripts      map[string]string `json:"scripts,omitempty"`
	Versions     map[string]string `json:"versions,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
	Degraded     bool              `json:"degraded,omitempty"`
}

// HasDependency reports whether name is declared. Names are compared case-insensitively.
func (m Manifest) HasDependency(name string) bool {
	_, ok := m.Dependencies[normalizeName(name)]
	return ok
}

// Degradation records why a present file contributed no fields.
type Degradation struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (d Degradation) Error() string {
	return ErrExtractionDegraded.Error() + ": " + d.Path + ": " + d.Reason
}

func (d Degradation) Unwrap() error { return ErrExtractionDegraded }

// RepositorySignals is an immutable snapshot of what a repository declares.
// Callers must treat the maps as read-only; Extract is the only writer.
type RepositorySignals struct {
	Files     []string            `json:"files"`
	Manifests map[string]Manifest `json:"manifests,omitempty"`
	Degraded  []Degradation       `json:"degraded,omitempty"`
}

// HasFile reports whether path was present in the scanned listing.
func (s RepositorySignals) HasFile(path string) bool {
	i := sort.SearchStrings(s.Files, path)
	return i < len(s.Files) && s.Files[i] == path
}

// Manifest returns the parsed manifest for a well-known filename at the root.
func (s RepositorySignals) Manifest(name string) (Manifest, bool) {
	m, ok := s.Manifests[name]
	return m, ok
}

// Empty reports whether the snapshot carries no files at all.
func (s RepositorySignals) Empty() bool {
	return len(s.Files) == 0
}

// Digest returns a stable hash of the snapshot, used as a cache key.
func (s RepositorySignals) Digest() string {
	// encoding/json sorts map keys, so the encoding is canonical.
	payload, _ := json.Marshal(s)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
