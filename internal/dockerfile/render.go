package dockerfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const shellMeta = "&|;<>()$`*?\"'\\"

// Render produces the Dockerfile text for s. The output always has exactly two
// FROM lines and one USER line.
func Render(s Spec) string {
	t := lookupTemplate(s.Template)
	var b strings.Builder
	b.WriteString("# syntax=docker/dockerfile:1\n")
	fmt.Fprintf(&b, "FROM %s AS builder\n", s.BaseImageBuilder)
	t.build(&b, s)
	b.WriteString("\n")
	fmt.Fprintf(&b, "FROM %s\n", s.BaseImageRuntime)
	b.WriteString("WORKDIR /app\n")
	t.runtime(&b, s)
	fmt.Fprintf(&b, "ENV PORT=%d\n", s.ExposedPort)
	fmt.Fprintf(&b, "EXPOSE %d\n", s.ExposedPort)
	fmt.Fprintf(&b, "HEALTHCHECK --interval=30s --timeout=5s --start-period=15s --retries=3 CMD %s\n", healthCommand(t.probe, s))
	fmt.Fprintf(&b, "USER %d\n", RuntimeUID)
	fmt.Fprintf(&b, "CMD %s\n", execForm(s.StartCommand))
	return b.String()
}

func healthURL(s Spec) string {
	path := s.HealthCheckPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.ExposedPort, path)
}

func healthCommand(kind probeKind, s Spec) string {
	url := healthURL(s)
	switch kind {
	case probePython:
		return fmt.Sprintf("python -c \"import urllib.request; urllib.request.urlopen('%s', timeout=4)\" || exit 1", url)
	case probeNode:
		return fmt.Sprintf("node -e \"require('http').get('%s', r => process.exit(r.statusCode < 400 ? 0 : 1)).on('error', () => process.exit(1))\"", url)
	default:
		return fmt.Sprintf("curl -fsS %s || exit 1", url)
	}
}

// envPrefixed reports whether command starts with a NAME=value assignment,
// which only a shell understands.
func envPrefixed(command string) bool {
	fields := strings.Fields(command)
	return len(fields) > 0 && strings.Contains(fields[0], "=")
}

// execForm renders command as a JSON exec-form array. Commands that rely on a
// shell are wrapped in sh -c.
func execForm(command string) string {
	command = strings.TrimSpace(command)
	var argv []string
	switch {
	case command == "":
		argv = []string{"sh", "-c", "echo 'no start command detected, override CMD' >&2; exit 1"}
	case strings.ContainsAny(command, shellMeta), envPrefixed(command):
		argv = []string{"sh", "-c", command}
	default:
		argv = strings.Fields(command)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(argv); err != nil {
		return `["sh","-c","exit 1"]`
	}
	return strings.TrimSpace(buf.String())
}
