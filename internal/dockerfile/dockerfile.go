// Package dockerfile renders two-stage Dockerfiles from a classification.
//
// Every rendered file builds in a builder stage, copies the result into a
// slim runtime stage, runs as UID 1000, exposes the application port and
// declares a HEALTHCHECK against it. The structured Spec is the source of
// truth; Text is always Render(Spec).
package dockerfile

import (
	"errors"
	"fmt"

	"github.com/splax/manifestor/internal/classify"
)

// ErrTemplateMissing is reported when no template is registered for a
// classification and the generic template was used instead.
var ErrTemplateMissing = errors.New("dockerfile: no template for classification, generic template used")

// RuntimeUID is the numeric user every image runs as.
const RuntimeUID = 1000

// Spec carries the structured fields a Dockerfile is rendered from.
type Spec struct {
	Template         string             `json:"template"`
	Language         classify.Language  `json:"language"`
	Framework        classify.Framework `json:"framework,omitempty"`
	BuildTool        classify.BuildTool `json:"buildTool,omitempty"`
	RuntimeVersion   string             `json:"runtimeVersion,omitempty"`
	BaseImageBuilder string             `json:"baseImageBuilder"`
	BaseImageRuntime string             `json:"baseImageRuntime"`
	ExposedPort      int                `json:"exposedPort"`
	HealthCheckPath  string             `json:"healthCheckPath"`
	ManifestFile     string             `json:"manifestFile,omitempty"`
	EntryPoint       string             `json:"entryPoint,omitempty"`
	BuildCommand     string             `json:"buildCommand,omitempty"`
	StartCommand     string             `json:"startCommand,omitempty"`
}

// Artifact is a rendered Dockerfile together with its structured fields.
type Artifact struct {
	Spec
	Text       string `json:"text"`
	Unverified bool   `json:"unverified"`
}

// Warning returns ErrTemplateMissing for artifacts produced by the generic
// fallback.
func (a Artifact) Warning() error {
	if a.Unverified {
		return ErrTemplateMissing
	}
	return nil
}

// WithSpec returns a copy of a re-rendered from s.
func (a Artifact) WithSpec(s Spec) Artifact {
	a.Spec = s
	a.Text = Render(s)
	return a
}

// WithRuntimeVersion sets the runtime version and retags both base images
// to match s.Template.
func (s Spec) WithRuntimeVersion(version string) Spec {
	s.RuntimeVersion = version
	s.BaseImageBuilder, s.BaseImageRuntime = lookupTemplate(s.Template).images(s)
	return s
}

type registryKey struct {
	lang classify.Language
	fw   classify.Framework
}

// Registry maps (language, framework) pairs to template names.
type Registry struct {
	entries map[registryKey]string
}

// NewRegistry returns a registry holding the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[registryKey]string)}
	for _, fw := range []classify.Framework{classify.FrameworkNone, classify.FrameworkFlask, classify.FrameworkFastAPI, classify.FrameworkDjango} {
		r.entries[registryKey{classify.LanguagePython, fw}] = templatePython
	}
	for _, fw := range []classify.Framework{classify.FrameworkNone, classify.FrameworkExpress, classify.FrameworkNextJS, classify.FrameworkReact, classify.FrameworkVue} {
		r.entries[registryKey{classify.LanguageNodeJS, fw}] = templateNode
	}
	for _, fw := range []classify.Framework{classify.FrameworkNone, classify.FrameworkSpringBoot} {
		r.entries[registryKey{classify.LanguageJava, fw}] = templateJava
	}
	for _, fw := range []classify.Framework{classify.FrameworkNone, classify.FrameworkGin, classify.FrameworkEcho, classify.FrameworkFiber, classify.FrameworkChi} {
		r.entries[registryKey{classify.LanguageGo, fw}] = templateGo
	}
	return r
}

// Register binds (lang, fw) to a built-in template.
func (r *Registry) Register(lang classify.Language, fw classify.Framework, template string) error {
	if _, ok := templates[template]; !ok {
		return fmt.Errorf("register template %q: unknown template", template)
	}
	r.entries[registryKey{lang, fw}] = template
	return nil
}

// Unregister removes the binding for (lang, fw) so it falls back to the
// generic template.
func (r *Registry) Unregister(lang classify.Language, fw classify.Framework) {
	delete(r.entries, registryKey{lang, fw})
}

// Lookup returns the template bound to (lang, fw).
func (r *Registry) Lookup(lang classify.Language, fw classify.Framework) (string, bool) {
	name, ok := r.entries[registryKey{lang, fw}]
	return name, ok
}

// Compose renders the Dockerfile for c. It never fails: unknown combinations
// use the generic template and are marked Unverified.
func (r *Registry) Compose(c classify.Classification) Artifact {
	name, ok := r.Lookup(c.Language, c.Framework)
	if !ok {
		name = templateGeneric
	}
	version := c.RuntimeVersion
	if version == "" {
		version = classify.RuntimeVersion(c.Language)
	}
	port := c.Port
	if port <= 0 || port > 65535 {
		port = classify.DefaultPort
	}
	spec := Spec{
		Template:        name,
		Language:        c.Language,
		Framework:       c.Framework,
		BuildTool:       c.BuildTool,
		ExposedPort:     port,
		HealthCheckPath: classify.DefaultHealthCheckPath,
		ManifestFile:    c.ManifestFile,
		EntryPoint:      c.EntryPoint,
		BuildCommand:    c.BuildCommand,
		StartCommand:    c.StartCommand,
	}.WithRuntimeVersion(version)
	return Artifact{Spec: spec, Text: Render(spec), Unverified: !ok}
}

var defaultRegistry = NewRegistry()

// Compose renders c with the built-in registry.
func Compose(c classify.Classification) Artifact {
	return defaultRegistry.Compose(c)
}
