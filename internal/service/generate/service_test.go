package generate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/splax/manifestor/internal/classify"
	"github.com/splax/manifestor/internal/manifest"
	"github.com/splax/manifestor/internal/refine"
	"github.com/splax/manifestor/internal/repository"
	"github.com/splax/manifestor/internal/sink"
	"github.com/splax/manifestor/internal/source"
)

type stubFetcher struct {
	snap  source.Snapshot
	err   error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, _ source.Ref) (source.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func newTestService(t *testing.T, fetcher source.Fetcher, out sink.Sink) *Service {
	t.Helper()
	svc, err := New(Options{
		Fetcher:    fetcher,
		Repository: repository.NewMemory(),
		Sink:       out,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Defaults:   manifest.DeploymentParams{Replicas: 2, Namespace: "apps"},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func newDirSink(t *testing.T) *sink.Dir {
	t.Helper()
	d, err := sink.NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir sink: %v", err)
	}
	return d
}

func flaskRequest() Request {
	return Request{
		Paths:    []string{"requirements.txt", "app.py"},
		Contents: map[string]string{"requirements.txt": "flask==3.0.0\n"},
		Params:   manifest.DeploymentParams{AppName: "shop"},
	}
}

func TestGenerateFlaskInline(t *testing.T) {
	out := newDirSink(t)
	svc := newTestService(t, nil, out)

	res, err := svc.Generate(context.Background(), flaskRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Classification.Language != classify.LanguagePython || res.Classification.Framework != classify.FrameworkFlask {
		t.Fatalf("unexpected classification %+v", res.Classification)
	}
	if res.Params.Replicas != 2 || res.Params.Namespace != "apps" {
		t.Fatalf("expected service defaults applied, got %+v", res.Params)
	}
	if len(res.Report.Warnings) != 0 {
		t.Fatalf("expected no warnings got %+v", res.Report.Warnings)
	}
	for _, name := range []string{"Dockerfile", "k8s-deployment.yaml", "k8s-service.yaml", "k8s-configmap.yaml"} {
		if _, ok := res.Files[name]; !ok {
			t.Fatalf("expected %s in files", name)
		}
	}
	if _, ok := res.Files["k8s-hpa.yaml"]; ok {
		t.Fatalf("did not expect an hpa without autoscale")
	}
	if !strings.Contains(res.Files["Dockerfile"], "EXPOSE 5000") {
		t.Fatalf("expected EXPOSE 5000 in dockerfile:\n%s", res.Files["Dockerfile"])
	}

	names, err := out.List(context.Background(), "shop")
	if err != nil {
		t.Fatalf("list sink: %v", err)
	}
	if len(names) != 5 {
		t.Fatalf("expected 4 artifacts and the state file, got %v", names)
	}
}

func TestAnalyzeCachesClassification(t *testing.T) {
	svc := newTestService(t, nil, nil)
	first, err := svc.Analyze(context.Background(), flaskRequest())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	second, err := svc.Analyze(context.Background(), flaskRequest())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if first.Cached || !second.Cached {
		t.Fatalf("expected second analysis to hit the cache, got %v then %v", first.Cached, second.Cached)
	}
	if first.Classification != second.Classification {
		t.Fatalf("cached classification differs")
	}
}

func TestGenerateFetchFailureProceeds(t *testing.T) {
	fetcher := &stubFetcher{err: source.ErrRateLimited}
	svc := newTestService(t, fetcher, nil)

	res, err := svc.Generate(context.Background(), Request{Source: "acme/Shop_API"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one fetch got %d", fetcher.calls)
	}
	for _, code := range []string{CodeFetchFailed, CodeClassificationUnknown, CodeComposerTemplateMissing} {
		if !res.Report.Has(code) {
			t.Fatalf("expected %s warning in %+v", code, res.Report.Warnings)
		}
	}
	if res.Params.AppName != "shop-api" {
		t.Fatalf("expected app name shop-api got %q", res.Params.AppName)
	}
	if !res.Artifacts.Dockerfile.Unverified {
		t.Fatalf("expected unverified dockerfile")
	}
}

func TestGenerateRejectsInvalidRequests(t *testing.T) {
	svc := newTestService(t, nil, nil)
	cases := []Request{
		{},
		{Source: "acme/shop", Dir: "."},
		{Source: "not-a-ref"},
	}
	for _, req := range cases {
		if _, err := svc.Generate(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v got %v", req, err)
		}
	}
	req := flaskRequest()
	req.Params.Replicas = -1
	if _, err := svc.Generate(context.Background(), req); !errors.Is(err, manifest.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams got %v", err)
	}
}

func TestGenerateFromDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "my-web")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	pkg := `{"name":"web","scripts":{"start":"node server.js"},"dependencies":{"express":"^4.18.0"}}`
	if err := os.WriteFile(filepath.Join(root, "package.json"), []byte(pkg), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc := newTestService(t, nil, nil)
	res, err := svc.Generate(context.Background(), Request{Dir: root})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Classification.Framework != classify.FrameworkExpress {
		t.Fatalf("expected Express got %q", res.Classification.Framework)
	}
	if res.Params.AppName != "my-web" {
		t.Fatalf("expected app name from directory got %q", res.Params.AppName)
	}
}

func TestRefinePersistsAcceptedPrefix(t *testing.T) {
	ctx := context.Background()
	out := newDirSink(t)
	svc := newTestService(t, nil, out)
	gen, err := svc.Generate(ctx, flaskRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	edits := []refine.EditOperation{
		{Target: "deployment.replicas", Operation: refine.OpSet, Value: 4},
		{Target: "deployment.replicas", Operation: refine.OpSet, Value: 0},
	}
	res, err := svc.Refine(ctx, gen.ID, edits)
	var verr *refine.ValidationError
	if !errors.As(err, &verr) || verr.Index != 1 {
		t.Fatalf("expected rejection of edit 1 got %v", err)
	}
	if res.Revision != 1 {
		t.Fatalf("expected revision 1 got %d", res.Revision)
	}
	if got := *res.Artifacts.Manifests.Deployment.Spec.Replicas; got != 4 {
		t.Fatalf("expected 4 replicas got %d", got)
	}
	if !res.Report.Has(CodeEditRejected) {
		t.Fatalf("expected edit_rejected warning")
	}
	revs, err := svc.Revisions(ctx, gen.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if len(revs) != 2 || len(revs[1].Edits) != 1 {
		t.Fatalf("unexpected revisions %+v", revs)
	}
	data, err := out.Get(ctx, "shop", "k8s-deployment.yaml")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(string(data), "replicas: 4") {
		t.Fatalf("expected sink to hold the refined deployment:\n%s", data)
	}

	if _, err := svc.Refine(ctx, "missing", edits[:1]); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestRestoreImportsState(t *testing.T) {
	ctx := context.Background()
	out := newDirSink(t)
	first := newTestService(t, nil, out)
	gen, err := first.Generate(ctx, flaskRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	second := newTestService(t, nil, out)
	id, err := second.Restore(ctx, "shop")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if id != gen.ID {
		t.Fatalf("expected id %s got %s", gen.ID, id)
	}
	res, err := second.Refine(ctx, id, []refine.EditOperation{{Target: "port", Value: 9000}})
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if !strings.Contains(res.Files["Dockerfile"], "EXPOSE 9000") {
		t.Fatalf("expected port change in dockerfile:\n%s", res.Files["Dockerfile"])
	}
}

func TestAppName(t *testing.T) {
	cases := map[string]string{
		"Shop_API":   "shop-api",
		"--x--":      "x",
		"":           "app",
		"hello.web":  "hello-web",
		"ÄÖ":         "app",
		"service 01": "service-01",
	}
	for in, want := range cases {
		if got := appName(in); got != want {
			t.Fatalf("appName(%q): expected %q got %q", in, want, got)
		}
	}
}
