// Package sink persists generated artifacts under a per-application prefix.
package sink

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("sink: artifact not found")
	ErrInvalidKey = errors.New("sink: invalid key")
)

// Sink stores a batch of named artifacts under prefix.
type Sink interface {
	Put(ctx context.Context, prefix string, files map[string]string) error
	Get(ctx context.Context, prefix, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// cleanName rejects names that would escape their prefix.
func cleanName(name string) (string, error) {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidKey)
	}
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}
	return cleaned, nil
}

func cleanPrefix(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || strings.ContainsAny(prefix, `/\`) || prefix == "." || prefix == ".." {
		return "", fmt.Errorf("%w: prefix %q", ErrInvalidKey, prefix)
	}
	return prefix, nil
}
