package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/splax/manifestor/internal/repository"
	"github.com/splax/manifestor/internal/service/generate"
	"github.com/splax/manifestor/pkg/jwt"
)

const flaskBody = `{"paths":["requirements.txt","app.py"],"contents":{"requirements.txt":"flask==3.0.0\n"},"params":{"appName":"shop","replicas":2}}`

func newTestRouter(t *testing.T, opts Options) *Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := generate.New(generate.Options{Repository: repository.NewMemory(), Logger: logger})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	opts.Logger = logger
	r := New(svc, opts)
	t.Cleanup(r.Close)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, Options{})
	rec := do(t, r, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/healthz", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rec.Code)
	}
}

func TestAnalyzeInline(t *testing.T) {
	r := newTestRouter(t, Options{})
	rec := do(t, r, http.MethodPost, "/analyze", flaskBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Classification struct {
			Language  string `json:"language"`
			Framework string `json:"framework"`
			Port      int    `json:"port"`
		} `json:"classification"`
	}
	decode(t, rec, &body)
	if body.Classification.Language != "Python" || body.Classification.Framework != "Flask" || body.Classification.Port != 5000 {
		t.Fatalf("unexpected classification %+v", body.Classification)
	}
}

func TestGenerateRefineLifecycle(t *testing.T) {
	r := newTestRouter(t, Options{})

	rec := do(t, r, http.MethodPost, "/generate", flaskBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var created generate.Result
	decode(t, rec, &created)
	if created.ID == "" || created.Files["Dockerfile"] == "" {
		t.Fatalf("expected id and dockerfile, got %+v", created)
	}

	rec = do(t, r, http.MethodGet, "/generations/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = do(t, r, http.MethodPost, "/generations/"+created.ID+"/edits", `{"edits":[{"target":"deployment.replicas","operation":"set","value":5}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var refined generate.Result
	decode(t, rec, &refined)
	if refined.Revision != 1 || !strings.Contains(refined.Files["k8s-deployment.yaml"], "replicas: 5") {
		t.Fatalf("expected revision 1 with 5 replicas, got revision %d", refined.Revision)
	}

	rec = do(t, r, http.MethodPost, "/generations/"+created.ID+"/edits", "- target: deployment.replicas\n  operation: set\n  value: 0\n")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d: %s", rec.Code, rec.Body.String())
	}
	var rejected struct {
		Path  string `json:"path"`
		Index int    `json:"index"`
	}
	decode(t, rec, &rejected)
	if rejected.Path != "deployment.replicas" || rejected.Index != 0 {
		t.Fatalf("unexpected rejection %+v", rejected)
	}

	rec = do(t, r, http.MethodGet, "/generations/"+created.ID+"/revisions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var revs []revisionView
	decode(t, rec, &revs)
	if len(revs) != 2 || revs[1].Number != 1 {
		t.Fatalf("unexpected revisions %+v", revs)
	}
}

func TestGenerationErrors(t *testing.T) {
	r := newTestRouter(t, Options{})
	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/generations/missing", "", http.StatusNotFound},
		{http.MethodGet, "/generations/", "", http.StatusNotFound},
		{http.MethodGet, "/generations/x/unknown", "", http.StatusNotFound},
		{http.MethodPost, "/generations/missing/edits", `[{"target":"replicas","value":2}]`, http.StatusNotFound},
		{http.MethodPost, "/generations/missing/edits", ``, http.StatusBadRequest},
		{http.MethodPost, "/generate", `{"dir":"/etc"}`, http.StatusBadRequest},
		{http.MethodPost, "/generate", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/generate", `{"bogus":true}`, http.StatusBadRequest},
		{http.MethodGet, "/generate", "", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		rec := do(t, r, tc.method, tc.path, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: expected %d got %d: %s", tc.method, tc.path, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestJWTScopes(t *testing.T) {
	const secret = "test-secret"
	r := newTestRouter(t, Options{JWTSecret: secret})

	if rec := do(t, r, http.MethodPost, "/analyze", flaskBody); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", rec.Code)
	}
	generateToken, err := jwt.GenerateToken("ci", []string{jwt.ScopeGenerate}, secret, time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	rec := do(t, r, http.MethodPost, "/generate", flaskBody, "Authorization", "Bearer "+generateToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	var created generate.Result
	decode(t, rec, &created)

	edits := `[{"target":"replicas","value":3}]`
	if rec := do(t, r, http.MethodPost, "/generations/"+created.ID+"/edits", edits, "Authorization", "Bearer "+generateToken); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for generate scope got %d", rec.Code)
	}
	refineToken, err := jwt.GenerateToken("ci", []string{jwt.ScopeRefine}, secret, time.Minute)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if rec := do(t, r, http.MethodPost, "/generations/"+created.ID+"/edits", edits, "Authorization", "Bearer "+refineToken); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for refine scope got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	r := newTestRouter(t, Options{RateLimit: 1, RateWindow: time.Minute})
	first := do(t, r, http.MethodPost, "/analyze", flaskBody)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", first.Code)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("expected rate limit headers")
	}
	second := do(t, r, http.MethodPost, "/analyze", flaskBody)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", second.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, Options{})
	do(t, r, http.MethodGet, "/healthz", "")
	rec := do(t, r, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("manifestor_api_http_requests_total")) {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()
	if !rl.Allow("k", 2, time.Minute).allowed || !rl.Allow("k", 2, time.Minute).allowed {
		t.Fatalf("expected first two requests allowed")
	}
	if rl.Allow("k", 2, time.Minute).allowed {
		t.Fatalf("expected third request rejected")
	}
	if !rl.Allow("other", 2, time.Minute).allowed {
		t.Fatalf("expected separate key allowed")
	}
}
