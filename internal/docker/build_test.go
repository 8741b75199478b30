package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

type fakeAPI struct {
	client.APIClient
	output  string
	files   map[string]string
	opts    types.ImageBuildOptions
	removed []string
}

func (f *fakeAPI) ImageBuild(_ context.Context, buildContext io.Reader, opts types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.opts = opts
	f.files = map[string]string{}
	tr := tar.NewReader(buildContext)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.ImageBuildResponse{}, err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return types.ImageBuildResponse{}, err
		}
		f.files[strings.TrimPrefix(hdr.Name, "./")] = string(data)
	}
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.output))}, nil
}

func (f *fakeAPI) ImageRemove(_ context.Context, ref string, _ image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.removed = append(f.removed, ref)
	return nil, nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestVerifyBuildMergesDockerfile(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.go":                 "package main\n",
		DockerfileName:            "FROM stale\n",
		"node_modules/x/index.js": "x",
		".git/HEAD":               "ref: refs/heads/main\n",
	})
	api := &fakeAPI{output: `{"stream":"Step 1/4 : FROM golang:1.22-alpine\n"}
{"aux":{"ID":"sha256:abc"}}
`}
	c := &Client{inner: api}

	var lines []string
	res, err := c.VerifyBuild(context.Background(), dir, "FROM golang:1.22-alpine\n", "manifestor-verify:test", false, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("verify build: %v", err)
	}
	if res.ImageID != "sha256:abc" {
		t.Fatalf("expected image id sha256:abc got %q", res.ImageID)
	}
	if api.opts.Dockerfile != DockerfileName {
		t.Fatalf("expected dockerfile %q got %q", DockerfileName, api.opts.Dockerfile)
	}
	if got := api.files[DockerfileName]; got != "FROM golang:1.22-alpine\n" {
		t.Fatalf("expected generated dockerfile in context got %q", got)
	}
	if _, ok := api.files["main.go"]; !ok {
		t.Fatalf("expected main.go in build context")
	}
	for name := range api.files {
		if strings.HasPrefix(name, "node_modules") || strings.HasPrefix(name, ".git") {
			t.Fatalf("expected %s to be excluded", name)
		}
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 output lines got %d", len(lines))
	}
	if len(api.removed) != 1 || api.removed[0] != "manifestor-verify:test" {
		t.Fatalf("expected verification image removed got %v", api.removed)
	}
}

func TestVerifyBuildReportsDaemonError(t *testing.T) {
	dir := writeTree(t, map[string]string{"app.py": "print('hi')\n"})
	api := &fakeAPI{output: `{"errorDetail":{"message":"pip install failed"},"error":"pip install failed"}` + "\n"}
	c := &Client{inner: api}

	_, err := c.VerifyBuild(context.Background(), dir, "FROM python:3.12-slim\n", "t:1", false, nil)
	if !errors.Is(err, ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed got %v", err)
	}
	if !strings.Contains(err.Error(), "pip install failed") {
		t.Fatalf("expected daemon message in error got %q", err)
	}
	if len(api.removed) != 0 {
		t.Fatalf("expected no removal after failed build")
	}
}

func TestVerifyBuildValidation(t *testing.T) {
	var nilClient *Client
	if _, err := nilClient.VerifyBuild(context.Background(), "x", "", "t", false, nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized got %v", err)
	}
	c := &Client{inner: &fakeAPI{}}
	if _, err := c.VerifyBuild(context.Background(), "", "", "t", false, nil); err == nil {
		t.Fatalf("expected error for empty dir")
	}
	if _, err := c.VerifyBuild(context.Background(), t.TempDir(), "", " ", false, nil); err == nil {
		t.Fatalf("expected error for empty tag")
	}
}

func TestImageBuildMessageRender(t *testing.T) {
	cases := []struct {
		msg  imageBuildMessage
		want string
	}{
		{imageBuildMessage{Stream: "Step 1/2\n"}, "Step 1/2\n"},
		{imageBuildMessage{ID: "abc", Status: "Downloading", Progress: "[==>  ]"}, "abc Downloading [==>  ]"},
		{imageBuildMessage{Status: "Extracting", ProgressDetail: progressDetail{Current: 3, Total: 10}}, "Extracting 3/10"},
		{imageBuildMessage{Aux: map[string]any{"ID": "sha256:1"}}, "image id: sha256:1"},
		{imageBuildMessage{}, ""},
	}
	for _, tc := range cases {
		if got := tc.msg.render(); got != tc.want {
			t.Fatalf("expected %q got %q", tc.want, got)
		}
	}
}

func TestWithDockerfileEmptyTree(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	r := withDockerfile(io.NopCloser(&buf), []byte("FROM scratch\n"))
	defer r.Close()
	tr := tar.NewReader(r)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if hdr.Name != DockerfileName {
		t.Fatalf("expected %q got %q", DockerfileName, hdr.Name)
	}
	if _, err := tr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected single entry got %v", err)
	}
}
