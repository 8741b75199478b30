package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/splax/manifestor/internal/workspace"
	"github.com/splax/manifestor/pkg/config"
)

func TestParseRef(t *testing.T) {
	cases := []struct {
		in   string
		want Ref
	}{
		{"acme/shop", Ref{Owner: "acme", Repo: "shop"}},
		{"acme/shop@develop", Ref{Owner: "acme", Repo: "shop", Branch: "develop"}},
		{"https://github.com/acme/shop.git", Ref{Owner: "acme", Repo: "shop"}},
		{"https://gitlab.com/group/shop.git", Ref{Owner: "group", Repo: "shop", URL: "https://gitlab.com/group/shop.git"}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRef(tc.in)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %+v got %+v", tc.want, got)
			}
		})
	}
	for _, bad := range []string{"", "shop", "a/b/c"} {
		if _, err := ParseRef(bad); !errors.Is(err, ErrInvalidRef) {
			t.Fatalf("expected ErrInvalidRef for %q got %v", bad, err)
		}
	}
}

func TestReadDir(t *testing.T) {
	root := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("package.json", `{"dependencies":{"express":"4"}}`)
	write("index.js", "require('express')")
	write("src/server.js", "")
	write("src/lib/deep.js", "")
	write("node_modules/express/package.json", "{}")

	snap, err := ReadDir(root)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	want := map[string]bool{"package.json": true, "index.js": true, "src/server.js": true}
	if len(snap.Paths) != len(want) {
		t.Fatalf("expected paths %v got %v", want, snap.Paths)
	}
	for _, p := range snap.Paths {
		if !want[p] {
			t.Fatalf("unexpected path %q", p)
		}
	}
	if _, ok := snap.Contents["package.json"]; !ok {
		t.Fatalf("expected package.json contents")
	}
	if _, ok := snap.Contents["index.js"]; ok {
		t.Fatalf("did not expect non-manifest contents")
	}

	if _, err := ReadDir(filepath.Join(root, "missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func newGitHubServer(t *testing.T) *httptest.Server {
	t.Helper()
	encoded := base64.StdEncoding.EncodeToString([]byte("flask==3.0.0\n"))
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/shop", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"shop","default_branch":"main"}`)
	})
	mux.HandleFunc("/repos/acme/shop/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("recursive") != "1" {
			t.Errorf("expected recursive tree request")
		}
		fmt.Fprint(w, `{"sha":"abc123","truncated":false,"tree":[
			{"path":"requirements.txt","type":"blob","size":13},
			{"path":"runtime.txt","type":"blob","size":12},
			{"path":"app.py","type":"blob","size":40},
			{"path":"src","type":"tree"},
			{"path":"src/views.py","type":"blob","size":10},
			{"path":"src/a/deep.py","type":"blob","size":10}
		]}`)
	})
	mux.HandleFunc("/repos/acme/shop/contents/requirements.txt", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ref") != "main" {
			t.Errorf("expected ref=main got %q", r.URL.Query().Get("ref"))
		}
		fmt.Fprintf(w, `{"type":"file","name":"requirements.txt","path":"requirements.txt","encoding":"base64","content":%q}`, encoded)
	})
	mux.HandleFunc("/repos/acme/shop/contents/runtime.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"message":"boom"}`)
	})
	mux.HandleFunc("/repos/acme/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	mux.HandleFunc("/repos/acme/limited", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"message":"API rate limit exceeded for 127.0.0.1."}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGitHub(t *testing.T, srv *httptest.Server) *GitHub {
	t.Helper()
	g, err := NewGitHub(config.GitHubConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new github: %v", err)
	}
	return g
}

func TestGitHubFetch(t *testing.T) {
	srv := newGitHubServer(t)
	g := newTestGitHub(t, srv)

	snap, err := g.Fetch(context.Background(), Ref{Owner: "acme", Repo: "shop"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if snap.Revision != "abc123" {
		t.Fatalf("expected revision abc123 got %q", snap.Revision)
	}
	if len(snap.Paths) != 4 {
		t.Fatalf("expected 4 shallow blobs got %v", snap.Paths)
	}
	if got := string(snap.Contents["requirements.txt"]); got != "flask==3.0.0\n" {
		t.Fatalf("unexpected requirements contents %q", got)
	}
	if _, ok := snap.Contents["runtime.txt"]; ok {
		t.Fatalf("expected failed file to be left out")
	}
}

func TestGitHubFetchErrors(t *testing.T) {
	srv := newGitHubServer(t)
	g := newTestGitHub(t, srv)

	if _, err := g.Fetch(context.Background(), Ref{Owner: "acme", Repo: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if _, err := g.Fetch(context.Background(), Ref{Owner: "acme", Repo: "limited"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited got %v", err)
	}
	if _, err := g.Fetch(context.Background(), Ref{Owner: "acme"}); !errors.Is(err, ErrInvalidRef) {
		t.Fatalf("expected ErrInvalidRef got %v", err)
	}
}

func TestCloneFailureReleasesWorkspace(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	c := NewClone(ws, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	_, err = c.Fetch(context.Background(), Ref{Owner: "acme", Repo: "shop", URL: missing})
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrCloneFailed) {
		t.Fatalf("expected clone error got %v", err)
	}
	entries, err := os.ReadDir(ws.Root())
	if err != nil {
		t.Fatalf("read workspace: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch directory to be released, found %d entries", len(entries))
	}
}
