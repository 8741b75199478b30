package config

import (
	"testing"
	"time"
)

func TestGetDuration(t *testing.T) {
	t.Setenv("TEST_DURATION_SECS", "45")
	if got := GetDuration("TEST_DURATION_SECS", time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s got %s", got)
	}

	t.Setenv("TEST_DURATION_STR", "2m")
	if got := GetDuration("TEST_DURATION_STR", time.Second); got != 2*time.Minute {
		t.Fatalf("expected 2m got %s", got)
	}

	t.Setenv("TEST_DURATION_BAD", "soon")
	if got := GetDuration("TEST_DURATION_BAD", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback got %s", got)
	}
}

func TestGetIntFallsBackOnBlank(t *testing.T) {
	t.Setenv("TEST_INT_BLANK", "  ")
	if got := GetInt("TEST_INT_BLANK", 7); got != 7 {
		t.Fatalf("expected fallback 7 got %d", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MANIFESTOR_REPLICAS", "5")
	t.Setenv("S3_ENDPOINT", "")
	cfg := Load()
	if cfg.Generator.Replicas != 5 {
		t.Fatalf("expected replicas 5 got %d", cfg.Generator.Replicas)
	}
	if cfg.Generator.Namespace != "default" {
		t.Fatalf("expected default namespace got %q", cfg.Generator.Namespace)
	}
	if cfg.Storage.S3Enabled() {
		t.Fatalf("expected s3 disabled without endpoint")
	}
}
