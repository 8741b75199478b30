package refine

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

// ParseEdit reads the compact form target=op:value. The operation may be
// omitted, in which case the whole right-hand side is the value of a set:
//
//	deployment.replicas=set:5
//	deployment.env=append:LOG_LEVEL=debug
//	deployment.image=registry.local/shop:1.2
func ParseEdit(s string) (EditOperation, error) {
	target, rest, ok := strings.Cut(s, "=")
	target = strings.TrimSpace(target)
	if !ok || target == "" {
		return EditOperation{}, fmt.Errorf("parse edit %q: expected target=op:value", s)
	}
	edit := EditOperation{Target: target, Operation: OpSet}
	if verb, value, found := strings.Cut(rest, ":"); found && isOperation(verb) {
		edit.Operation = Operation(strings.ToLower(verb))
		rest = value
	} else if isOperation(rest) {
		edit.Operation = Operation(strings.ToLower(rest))
		rest = ""
	}
	if rest != "" {
		edit.Value = rest
	}
	return edit, nil
}

func isOperation(s string) bool {
	switch Operation(strings.ToLower(strings.TrimSpace(s))) {
	case OpSet, OpIncrement, OpAppend, OpRemove:
		return true
	}
	return false
}

type editDocument struct {
	Edits []EditOperation `yaml:"edits"`
}

// ParseEdits decodes a YAML or JSON edit file. Both a bare list and a
// document with an edits key are accepted.
func ParseEdits(data []byte) ([]EditOperation, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var edits []EditOperation
	if trimmed[0] == '[' || trimmed[0] == '-' {
		if err := yaml.Unmarshal(trimmed, &edits); err != nil {
			return nil, fmt.Errorf("decode edits: %w", err)
		}
	} else {
		var doc editDocument
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode edits: %w", err)
		}
		edits = doc.Edits
	}
	for i, e := range edits {
		if strings.TrimSpace(e.Target) == "" {
			return nil, fmt.Errorf("decode edits: edit %d has no target", i)
		}
	}
	return edits, nil
}
