package source

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/splax/manifestor/internal/signals"
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"vendor":       true,
}

// ReadDir snapshots a local checkout. Only the root and its immediate
// subdirectories are listed and only allow-listed root files are read.
func ReadDir(root string) (Snapshot, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
		return Snapshot{}, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return Snapshot{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidRef, root)
	}
	snap := Snapshot{Contents: map[string][]byte{}}
	entries, err := os.ReadDir(root)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", root, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if skippedDirs[name] {
				continue
			}
			children, err := os.ReadDir(filepath.Join(root, name))
			if err != nil {
				continue
			}
			for _, child := range children {
				if child.Type().IsRegular() {
					snap.Paths = append(snap.Paths, path.Join(name, child.Name()))
				}
			}
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		snap.Paths = append(snap.Paths, name)
		if !signals.Interesting(name) {
			continue
		}
		data, err := readBounded(filepath.Join(root, name), entry)
		if err != nil {
			continue
		}
		snap.Contents[name] = data
	}
	return snap, nil
}

// readBounded skips files far beyond the parse limit; the extractor reports
// them as unavailable.
func readBounded(p string, entry fs.DirEntry) ([]byte, error) {
	info, err := entry.Info()
	if err != nil {
		return nil, err
	}
	if info.Size() > 4*signals.MaxContentSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", p, 4*signals.MaxContentSize)
	}
	return os.ReadFile(p)
}
