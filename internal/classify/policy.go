package classify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPolicy is returned when a priority policy names an unknown
// framework or pairs a framework with the wrong language.
var ErrInvalidPolicy = errors.New("classify: invalid framework policy")

// Policy orders the frameworks considered for each language. When a
// repository declares markers for several frameworks the earliest entry wins.
// Ports replaces the default listening port of a framework.
type Policy struct {
	Node   []Framework       `yaml:"node" json:"node"`
	Python []Framework       `yaml:"python" json:"python"`
	Go     []Framework       `yaml:"go" json:"go"`
	Ports  map[Framework]int `yaml:"ports,omitempty" json:"ports,omitempty"`
}

// DefaultPolicy returns the built-in framework priority.
func DefaultPolicy() Policy {
	return Policy{
		Node:   []Framework{FrameworkNextJS, FrameworkExpress, FrameworkReact, FrameworkVue},
		Python: []Framework{FrameworkDjango, FrameworkFastAPI, FrameworkFlask},
		Go:     []Framework{FrameworkGin, FrameworkEcho, FrameworkFiber, FrameworkChi},
	}
}

// Validate checks every entry belongs to its language and appears once, and
// that port overrides name a known framework and a valid port.
func (p Policy) Validate() error {
	groups := []struct {
		lang Language
		fws  []Framework
	}{
		{LanguageNodeJS, p.Node},
		{LanguagePython, p.Python},
		{LanguageGo, p.Go},
	}
	for _, g := range groups {
		seen := make(map[Framework]bool, len(g.fws))
		for _, fw := range g.fws {
			if fw == FrameworkNone || !ValidFramework(g.lang, fw) {
				return fmt.Errorf("%w: %q is not a %s framework", ErrInvalidPolicy, fw, g.lang)
			}
			if seen[fw] {
				return fmt.Errorf("%w: %q listed twice", ErrInvalidPolicy, fw)
			}
			seen[fw] = true
		}
	}
	for fw, port := range p.Ports {
		if fw == FrameworkNone || frameworkLanguage(fw) == LanguageUnknown {
			return fmt.Errorf("%w: port override for unknown framework %q", ErrInvalidPolicy, fw)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: port %d for %s out of range", ErrInvalidPolicy, port, fw)
		}
	}
	return nil
}

// port returns the policy port for fw, or fallback when none is set.
func (p Policy) port(fw Framework, fallback int) int {
	if port, ok := p.Ports[fw]; ok && fw != FrameworkNone {
		return port
	}
	return fallback
}

func frameworkLanguage(fw Framework) Language {
	for lang, fws := range languageFrameworks {
		for _, candidate := range fws {
			if candidate == fw {
				return lang
			}
		}
	}
	return LanguageUnknown
}

type policyFile struct {
	Frameworks struct {
		Node   []string `yaml:"node"`
		Python []string `yaml:"python"`
		Go     []string `yaml:"go"`
	} `yaml:"frameworks"`
	Ports map[string]int `yaml:"ports"`
}

// ParsePolicy decodes a YAML policy document. Languages the document omits keep
// the default order.
//
//	frameworks:
//	  node: [express, nextjs, react, vue]
//	  python: [fastapi, django, flask]
//	ports:
//	  flask: 9000
//
// Unknown top-level keys are rejected.
func ParsePolicy(data []byte) (Policy, error) {
	var doc policyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("%w: decode: %v", ErrInvalidPolicy, err)
	}
	p := DefaultPolicy()
	var err error
	if doc.Frameworks.Node != nil {
		if p.Node, err = parseFrameworks(doc.Frameworks.Node); err != nil {
			return Policy{}, err
		}
	}
	if doc.Frameworks.Python != nil {
		if p.Python, err = parseFrameworks(doc.Frameworks.Python); err != nil {
			return Policy{}, err
		}
	}
	if doc.Frameworks.Go != nil {
		if p.Go, err = parseFrameworks(doc.Frameworks.Go); err != nil {
			return Policy{}, err
		}
	}
	if len(doc.Ports) > 0 {
		p.Ports = make(map[Framework]int, len(doc.Ports))
		for name, port := range doc.Ports {
			fw, err := ParseFramework(name)
			if err != nil {
				return Policy{}, err
			}
			p.Ports[fw] = port
		}
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicy reads a policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParseFramework resolves a framework name case-insensitively.
func ParseFramework(name string) (Framework, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || strings.EqualFold(trimmed, "none") {
		return FrameworkNone, nil
	}
	for _, fws := range languageFrameworks {
		for _, fw := range fws {
			if strings.EqualFold(string(fw), trimmed) {
				return fw, nil
			}
		}
	}
	return FrameworkNone, fmt.Errorf("%w: unknown framework %q", ErrInvalidPolicy, name)
}

func parseFrameworks(names []string) ([]Framework, error) {
	out := make([]Framework, 0, len(names))
	for _, name := range names {
		fw, err := ParseFramework(name)
		if err != nil {
			return nil, err
		}
		out = append(out, fw)
	}
	return out, nil
}
