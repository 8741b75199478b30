package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("ci-bot", []string{ScopeRefine}, "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != "ci-bot" {
		t.Fatalf("expected subject ci-bot got %q", claims.Subject)
	}
	if !claims.Allows(ScopeGenerate) {
		t.Fatalf("expected refine scope to imply generate")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken("ci-bot", []string{ScopeGenerate}, "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := Parse(token, "other"); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestGenerateScopeDoesNotAllowRefine(t *testing.T) {
	claims := &Claims{Scopes: []string{ScopeGenerate}}
	if claims.Allows(ScopeRefine) {
		t.Fatalf("generate scope must not allow refine")
	}
}
