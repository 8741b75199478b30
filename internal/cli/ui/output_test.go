package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/splax/manifestor/internal/service/generate"
)

func TestWarningsPlain(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	Warnings(&buf, generate.Report{Warnings: []generate.Warning{
		{Code: generate.CodeExtractionDegraded, Path: "package.json", Message: "invalid JSON"},
		{Code: generate.CodeClassificationUnknown, Message: "no known language"},
	}})
	got := buf.String()
	want := "⚠ extraction_degraded (package.json): invalid JSON\n⚠ classification_unknown: no known language\n"
	if got != want {
		t.Fatalf("expected %q got %q", want, got)
	}
}

func TestFilesSorted(t *testing.T) {
	var buf bytes.Buffer
	Files(&buf, "out/shop", map[string]string{"k8s-service.yaml": "", "Dockerfile": "", "k8s-deployment.yaml": ""})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || strings.TrimSpace(lines[0]) != "out/shop/Dockerfile" {
		t.Fatalf("unexpected listing %q", buf.String())
	}
}
