package signals

import (
	"sort"
)

// Extract normalises a file listing and the contents of allow-listed files
// into RepositorySignals. It never fails: a file that cannot be parsed is
// recorded as degraded and contributes presence only.
func Extract(paths []string, contents map[string][]byte) RepositorySignals {
	seen := make(map[string]struct{}, len(paths))
	files := make([]string, 0, len(paths))
	for _, p := range paths {
		p = normalizePath(p)
		if !WithinDepth(p) {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}
	sort.Strings(files)

	byPath := make(map[string][]byte, len(contents))
	for p, data := range contents {
		if n := normalizePath(p); n != "" {
			byPath[n] = data
		}
	}

	out := RepositorySignals{
		Files:     files,
		Manifests: map[string]Manifest{},
	}
	for _, e := range allowList {
		if _, present := seen[e.name]; !present || e.parse == nil {
			continue
		}
		data, ok := byPath[e.name]
		if !ok {
			out.degrade(e.name, "content unavailable")
			continue
		}
		if len(data) > MaxContentSize {
			out.degrade(e.name, "file too large")
			continue
		}
		m, err := e.parse(data)
		if err != nil {
			out.degrade(e.name, err.Error())
			continue
		}
		m.Path = e.name
		out.Manifests[e.name] = m
	}
	return out
}

func (s *RepositorySignals) degrade(name, reason string) {
	s.Manifests[name] = Manifest{Path: name, Degraded: true}
	s.Degraded = append(s.Degraded, Degradation{Path: name, Reason: reason})
}
