package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	httpx "github.com/splax/manifestor/internal/http"
	"github.com/splax/manifestor/internal/manifest"
	"github.com/splax/manifestor/internal/repository"
	"github.com/splax/manifestor/internal/service/generate"
	"github.com/splax/manifestor/pkg/config"
)

func testConfig(t *testing.T) func() config.Config {
	t.Helper()
	work := t.TempDir()
	return func() config.Config {
		return config.Config{
			LogLevel: "error",
			Generator: config.GeneratorConfig{
				OutputDir:     filepath.Join(work, "output"),
				Workdir:       filepath.Join(work, "scratch"),
				Namespace:     "default",
				Replicas:      3,
				ResourceScale: 1,
				CacheSize:     16,
			},
		}
	}
}

func flaskRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "shop-api")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		"requirements.txt": "flask==3.0.0\n",
		"app.py":           "from flask import Flask\napp = Flask(__name__)\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func run(t *testing.T, load func() config.Config, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	root := NewRootCommand(load)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, testConfig(t), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "manifestor version dev\n" {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestAnalyzeDir(t *testing.T) {
	out, err := run(t, testConfig(t), "analyze", "--dir", flaskRepo(t))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"Python", "Flask", "5000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output %q", want, out)
		}
	}
}

func TestAnalyzeShowsStartScript(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "web")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	pkg := `{"dependencies":{"express":"4"},"scripts":{"start":"NODE_ENV=production node index.js"}}`
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := run(t, testConfig(t), "analyze", "--dir", dir)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"npm start", "NODE_ENV=production node index.js"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output %q", want, out)
		}
	}
}

func TestAnalyzeRequiresOneSource(t *testing.T) {
	if _, err := run(t, testConfig(t), "analyze"); err == nil {
		t.Fatalf("expected error without a source")
	}
	if _, err := run(t, testConfig(t), "analyze", "--dir", ".", "--source", "acme/shop"); err == nil {
		t.Fatalf("expected error with two sources")
	}
}

func TestGenerateRefineApplyDryRun(t *testing.T) {
	load := testConfig(t)
	outDir := filepath.Join(t.TempDir(), "deploy")

	out, err := run(t, load, "generate", "--dir", flaskRepo(t), "--out", outDir)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "generated shop-api (Python/Flask) revision 0") {
		t.Fatalf("unexpected generate output %q", out)
	}
	artifactDir := filepath.Join(outDir, "shop-api")
	for _, name := range []string{"Dockerfile", manifest.FileDeployment, manifest.FileService, manifest.FileConfigMap, manifest.FileHPA, generate.StateFile} {
		if _, err := os.Stat(filepath.Join(artifactDir, name)); err != nil {
			t.Fatalf("expected %s written: %v", name, err)
		}
	}

	out, err = run(t, load, "refine", artifactDir, "--edit", "deployment.replicas=set:5", "--edit", "deployment.env=append:LOG_LEVEL=debug")
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if !strings.Contains(out, "applied 2 of 2 edits, revision 1") {
		t.Fatalf("unexpected refine output %q", out)
	}
	data, err := os.ReadFile(filepath.Join(artifactDir, manifest.FileDeployment))
	if err != nil {
		t.Fatalf("read deployment: %v", err)
	}
	if !strings.Contains(string(data), "replicas: 5") || !strings.Contains(string(data), "LOG_LEVEL") {
		t.Fatalf("expected refined deployment got %s", data)
	}

	out, err = run(t, load, "apply", artifactDir, "--dry-run")
	if err != nil {
		t.Fatalf("apply dry run: %v", err)
	}
	if !strings.Contains(out, "would apply deployment shop-api") || !strings.Contains(out, "would apply hpa shop-api") {
		t.Fatalf("unexpected apply output %q", out)
	}
}

func TestGenerateAutoscaleFollowsReplicas(t *testing.T) {
	load := testConfig(t)
	outDir := t.TempDir()
	if _, err := run(t, load, "generate", "--dir", flaskRepo(t), "--out", outDir, "--replicas", "1"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "shop-api", manifest.FileHPA)); !os.IsNotExist(err) {
		t.Fatalf("expected no hpa for a single replica, stat err %v", err)
	}

	outDir = t.TempDir()
	if _, err := run(t, load, "generate", "--dir", flaskRepo(t), "--out", outDir, "--replicas", "1", "--autoscale"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "shop-api", manifest.FileHPA)); err != nil {
		t.Fatalf("expected hpa when --autoscale is set: %v", err)
	}
}

func TestRefineRejectedEditKeepsPrefix(t *testing.T) {
	load := testConfig(t)
	outDir := t.TempDir()
	if _, err := run(t, load, "generate", "--dir", flaskRepo(t), "--out", outDir); err != nil {
		t.Fatalf("generate: %v", err)
	}
	artifactDir := filepath.Join(outDir, "shop-api")

	out, err := run(t, load, "refine", artifactDir, "--edit", "deployment.replicas=set:4", "--edit", "deployment.replicas=set:0")
	if err == nil || !strings.Contains(err.Error(), "edit 2 (deployment.replicas) rejected") {
		t.Fatalf("expected second edit rejected got %v", err)
	}
	if !strings.Contains(out, "applied 1 of 2 edits") {
		t.Fatalf("unexpected refine output %q", out)
	}
	data, err := os.ReadFile(filepath.Join(artifactDir, manifest.FileDeployment))
	if err != nil {
		t.Fatalf("read deployment: %v", err)
	}
	if !strings.Contains(string(data), "replicas: 4") {
		t.Fatalf("expected accepted edit persisted got %s", data)
	}
}

func TestRefineEditFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edits.yaml")
	body := "edits:\n  - target: service.port\n    operation: set\n    value: 8080\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write edits: %v", err)
	}
	ops, err := collectEdits([]string{"ingress.host=shop.example.com"}, path)
	if err != nil {
		t.Fatalf("collect edits: %v", err)
	}
	if len(ops) != 2 || ops[0].Target != "service.port" || ops[1].Target != "ingress.host" {
		t.Fatalf("unexpected edits %+v", ops)
	}
}

func TestMigrateRequiresDatabase(t *testing.T) {
	_, err := run(t, testConfig(t), "migrate", "up")
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error got %v", err)
	}
}

func TestRemoteGenerateEditRevisions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := generate.New(generate.Options{Repository: repository.NewMemory(), Logger: logger})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	router := httpx.New(svc, httpx.Options{Logger: logger})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		router.Close()
	})
	base := testConfig(t)
	load := func() config.Config {
		cfg := base()
		cfg.Remote.URL = srv.URL
		return cfg
	}

	// A source that cannot be fetched still yields a generation with a
	// fetch_failed warning.
	out, err := run(t, load, "remote", "generate", "--source", "acme/shop", "--json")
	if err != nil {
		t.Fatalf("remote generate: %v", err)
	}
	var result generate.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if result.ID == "" || !result.Report.Has(generate.CodeFetchFailed) {
		t.Fatalf("unexpected generation %+v", result)
	}

	out, err = run(t, load, "remote", "edit", result.ID, "--edit", "deployment.replicas=set:6")
	if err != nil {
		t.Fatalf("remote edit: %v", err)
	}
	if !strings.Contains(out, "applied 1 of 1 edits, revision 1") {
		t.Fatalf("unexpected edit output %q", out)
	}

	out, err = run(t, load, "remote", "revisions", result.ID)
	if err != nil {
		t.Fatalf("remote revisions: %v", err)
	}
	if !strings.Contains(out, "revision 1") || !strings.Contains(out, "deployment.replicas") {
		t.Fatalf("unexpected revisions output %q", out)
	}

	out, err = run(t, load, "remote", "get", result.ID, "--file", "Dockerfile")
	if err != nil {
		t.Fatalf("remote get: %v", err)
	}
	if !strings.Contains(out, "FROM ") {
		t.Fatalf("expected dockerfile text got %q", out)
	}
}
