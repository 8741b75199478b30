package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/splax/manifestor/pkg/config"
)

func TestDirPutGetList(t *testing.T) {
	d, err := NewDir(filepath.Join(t.TempDir(), "output"))
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	ctx := context.Background()
	files := map[string]string{
		"Dockerfile":          "FROM scratch\n",
		"k8s-deployment.yaml": "kind: Deployment\n",
	}
	if err := d.Put(ctx, "shop", files); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := d.Get(ctx, "shop", "Dockerfile")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "FROM scratch\n" {
		t.Fatalf("expected dockerfile contents got %q", data)
	}
	names, err := d.List(ctx, "shop")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "Dockerfile" || names[1] != "k8s-deployment.yaml" {
		t.Fatalf("unexpected names %v", names)
	}
	entries, err := os.ReadDir(filepath.Join(d.Root(), "shop"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestDirOverwrite(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	ctx := context.Background()
	if err := d.Put(ctx, "shop", map[string]string{"Dockerfile": "old"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := d.Put(ctx, "shop", map[string]string{"Dockerfile": "new"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := d.Get(ctx, "shop", "Dockerfile")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "new" {
		t.Fatalf("expected %q got %q", "new", data)
	}
}

func TestDirRejectsEscapes(t *testing.T) {
	d, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	ctx := context.Background()
	if err := d.Put(ctx, "../up", map[string]string{"a": "b"}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for prefix, got %v", err)
	}
	if err := d.Put(ctx, "shop", map[string]string{"../../etc/passwd": "x"}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for name, got %v", err)
	}
	if _, err := d.Get(ctx, "shop", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if _, err := d.List(ctx, "nothing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestNewS3Validation(t *testing.T) {
	cases := []config.StorageConfig{
		{},
		{S3Endpoint: "localhost:9000"},
		{S3Endpoint: "localhost:9000", S3AccessKey: "a", S3SecretKey: "b"},
	}
	for _, cfg := range cases {
		if _, err := NewS3(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
	s, err := NewS3(config.StorageConfig{S3Endpoint: "localhost:9000", S3AccessKey: "a", S3SecretKey: "b", S3Bucket: "artifacts"})
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}
	if s.region != "us-east-1" {
		t.Fatalf("expected default region got %q", s.region)
	}
	if got := objectKey("shop", "/Dockerfile"); got != "shop/Dockerfile" {
		t.Fatalf("unexpected key %q", got)
	}
}
