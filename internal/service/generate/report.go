package generate

import (
	"errors"

	"github.com/splax/manifestor/internal/classify"
	"github.com/splax/manifestor/internal/dockerfile"
	"github.com/splax/manifestor/internal/signals"
)

// Warning codes carried in a Report.
const (
	CodeExtractionDegraded      = "extraction_degraded"
	CodeClassificationUnknown   = "classification_unknown"
	CodeComposerTemplateMissing = "composer_template_missing"
	CodeFetchFailed             = "fetch_failed"
	CodeEditRejected            = "edit_rejected"
)

// Warning is a non-fatal condition encountered while generating.
type Warning struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// Report collects the warnings of one run.
type Report struct {
	Warnings []Warning `json:"warnings"`
}

func (r *Report) add(code, path string, err error) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Path: path, Message: err.Error()})
}

// Has reports whether a warning with code was recorded.
func (r Report) Has(code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Strings flattens the report for storage.
func (r Report) Strings() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.Code+": "+w.Message)
	}
	return out
}

func (r *Report) addSignals(s signals.RepositorySignals) {
	for _, d := range s.Degraded {
		r.add(CodeExtractionDegraded, d.Path, d)
	}
}

func (r *Report) addClassification(c classify.Classification) {
	if err := c.Warning(); err != nil {
		r.add(CodeClassificationUnknown, "", err)
	}
}

func (r *Report) addDockerfile(a dockerfile.Artifact) {
	if err := a.Warning(); errors.Is(err, dockerfile.ErrTemplateMissing) {
		r.add(CodeComposerTemplateMissing, "", err)
	}
}
