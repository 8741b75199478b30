package signals

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"
)

var errNotText = errors.New("not valid utf-8 text")

func newManifest() Manifest {
	return Manifest{
		Dependencies: map[string]string{},
		Scripts:      map[string]string{},
		Versions:     map[string]string{},
		Properties:   map[string]string{},
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// pythonName applies PEP 503 normalisation.
func pythonName(name string) string {
	name = normalizeName(name)
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}

func textLines(data []byte) ([]string, error) {
	if !utf8.Valid(data) {
		return nil, errNotText
	}
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxContentSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan lines: %w", err)
	}
	return lines, nil
}

func firstLine(data []byte) (string, error) {
	lines, err := textLines(data)
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			return trimmed, nil
		}
	}
	return "", nil
}

// parseRequirementSpec splits a PEP 508 requirement into name and constraint.
// It returns ok=false for options, paths and bare URLs.
func parseRequirementSpec(line string) (string, string, bool) {
	if idx := strings.Index(line, " #"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
		return "", "", false
	}
	end := strings.IndexAny(line, "[<>=!~; @")
	name, rest := line, ""
	if end >= 0 {
		name, rest = line[:end], line[end:]
	}
	if name == "" || strings.ContainsAny(name, ":/") {
		return "", "", false
	}
	if strings.HasPrefix(rest, "[") {
		if close := strings.Index(rest, "]"); close >= 0 {
			rest = rest[close+1:]
		}
	}
	if semi := strings.Index(rest, ";"); semi >= 0 {
		rest = rest[:semi]
	}
	return pythonName(name), strings.TrimSpace(rest), true
}

func parseRequirements(data []byte) (Manifest, error) {
	lines, err := textLines(data)
	if err != nil {
		return Manifest{}, err
	}
	m := newManifest()
	m.Properties[PropBuildSystem] = "pip"
	for _, line := range lines {
		if name, constraint, ok := parseRequirementSpec(line); ok {
			m.Dependencies[name] = constraint
		}
	}
	return m, nil
}

type pyprojectFile struct {
	Project struct {
		Dependencies   []string          `toml:"dependencies"`
		RequiresPython string            `toml:"requires-python"`
		Scripts        map[string]string `toml:"scripts"`
	} `toml:"project"`
	Tool struct {
		Poetry *struct {
			Dependencies map[string]any    `toml:"dependencies"`
			Scripts      map[string]string `toml:"scripts"`
		} `toml:"poetry"`
	} `toml:"tool"`
	BuildSystem struct {
		Requires     []string `toml:"requires"`
		BuildBackend string   `toml:"build-backend"`
	} `toml:"build-system"`
}

func parsePyproject(data []byte) (Manifest, error) {
	var doc pyprojectFile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Manifest{}, fmt.Errorf("decode pyproject: %w", err)
	}
	m := newManifest()
	m.Properties[PropBuildSystem] = "pep621"
	for _, dep := range doc.Project.Dependencies {
		if name, constraint, ok := parseRequirementSpec(dep); ok {
			m.Dependencies[name] = constraint
		}
	}
	for name, cmd := range doc.Project.Scripts {
		m.Scripts[name] = cmd
	}
	if v := strings.TrimSpace(doc.Project.RequiresPython); v != "" {
		m.Versions[VersionPython] = v
	}
	poetry := doc.Tool.Poetry != nil || strings.Contains(doc.BuildSystem.BuildBackend, "poetry")
	if doc.Tool.Poetry != nil {
		for name, spec := range doc.Tool.Poetry.Dependencies {
			constraint := tomlConstraint(spec)
			if pythonName(name) == "python" {
				m.Versions[VersionPython] = constraint
				continue
			}
			m.Dependencies[pythonName(name)] = constraint
		}
		for name, cmd := range doc.Tool.Poetry.Scripts {
			m.Scripts[name] = cmd
		}
	}
	if poetry {
		m.Properties[PropBuildSystem] = "poetry"
	}
	return m, nil
}

// tomlConstraint reads either `"^1.0"` or `{ version = "^1.0", ... }`.
func tomlConstraint(spec any) string {
	switch v := spec.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["version"].(string); ok {
			return s
		}
	}
	return ""
}

type pipfile struct {
	Packages    map[string]any `toml:"packages"`
	DevPackages map[string]any `toml:"dev-packages"`
	Requires    struct {
		PythonVersion     string `toml:"python_version"`
		PythonFullVersion string `toml:"python_full_version"`
	} `toml:"requires"`
}

func parsePipfile(data []byte) (Manifest, error) {
	var doc pipfile
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Manifest{}, fmt.Errorf("decode Pipfile: %w", err)
	}
	m := newManifest()
	m.Properties[PropBuildSystem] = "pipenv"
	for name, spec := range doc.Packages {
		m.Dependencies[pythonName(name)] = tomlConstraint(spec)
	}
	for name, spec := range doc.DevPackages {
		if _, ok := m.Dependencies[pythonName(name)]; !ok {
			m.Dependencies[pythonName(name)] = tomlConstraint(spec)
		}
	}
	switch {
	case doc.Requires.PythonFullVersion != "":
		m.Versions[VersionPython] = doc.Requires.PythonFullVersion
	case doc.Requires.PythonVersion != "":
		m.Versions[VersionPython] = doc.Requires.PythonVersion
	}
	return m, nil
}

func parseRuntimeTxt(data []byte) (Manifest, error) {
	line, err := firstLine(data)
	if err != nil {
		return Manifest{}, err
	}
	m := newManifest()
	if v := strings.TrimPrefix(strings.ToLower(line), "python-"); v != "" {
		m.Versions[VersionPython] = v
	}
	return m, nil
}

func parsePythonVersion(data []byte) (Manifest, error) {
	line, err := firstLine(data)
	if err != nil {
		return Manifest{}, err
	}
	m := newManifest()
	if line != "" {
		m.Versions[VersionPython] = line
	}
	return m, nil
}

type npmManifest struct {
	Main            string            `json:"main"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	PackageManager  string            `json:"packageManager"`
	Scripts         map[string]string `json:"scripts"`
	Engines         map[string]string `json:"engines"`
}

func parsePackageJSON(data []byte) (Manifest, error) {
	var pkg npmManifest
	if err := json.Unmarshal(data, &pkg); err != nil {
		return Manifest{}, fmt.Errorf("decode package.json: %w", err)
	}
	m := newManifest()
	for name, constraint := range pkg.DevDependencies {
		m.Dependencies[normalizeName(name)] = constraint
	}
	for name, constraint := range pkg.Dependencies {
		m.Dependencies[normalizeName(name)] = constraint
	}
	for name, cmd := range pkg.Scripts {
		m.Scripts[name] = cmd
	}
	if v := strings.TrimSpace(pkg.Engines["node"]); v != "" {
		m.Versions[VersionNode] = v
	}
	if pm := strings.TrimSpace(pkg.PackageManager); pm != "" {
		m.Properties[PropPackageManager] = pm
	}
	if main := strings.TrimSpace(pkg.Main); main != "" {
		m.Properties[PropMain] = main
	}
	return m, nil
}

func parseNvmrc(data []byte) (Manifest, error) {
	line, err := firstLine(data)
	if err != nil {
		return Manifest{}, err
	}
	m := newManifest()
	line = strings.TrimPrefix(line, "v")
	if line != "" && line[0] >= '0' && line[0] <= '9' {
		m.Versions[VersionNode] = line
	}
	return m, nil
}

type pomArtifact struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

type pomProperty struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type pomProject struct {
	Parent     pomArtifact `xml:"parent"`
	Properties struct {
		Entries []pomProperty `xml:",any"`
	} `xml:"properties"`
	Dependencies []pomArtifact `xml:"dependencies>dependency"`
	Managed      []pomArtifact `xml:"dependencyManagement>dependencies>dependency"`
	Plugins      []pomArtifact `xml:"build>plugins>plugin"`
}

func parsePom(data []byte) (Manifest, error) {
	var pom pomProject
	if err := xml.Unmarshal(data, &pom); err != nil {
		return Manifest{}, fmt.Errorf("decode pom.xml: %w", err)
	}
	m := newManifest()
	m.Properties[PropBuildSystem] = "maven"
	props := make(map[string]string, len(pom.Properties.Entries))
	for _, p := range pom.Properties.Entries {
		props[p.XMLName.Local] = strings.TrimSpace(p.Value)
	}
	add := func(a pomArtifact) {
		if a.GroupID == "" && a.ArtifactID == "" {
			return
		}
		m.Dependencies[normalizeName(a.GroupID+":"+a.ArtifactID)] = resolvePomValue(a.Version, props)
	}
	add(pom.Parent)
	for _, group := range [][]pomArtifact{pom.Dependencies, pom.Managed, pom.Plugins} {
		for _, a := range group {
			add(a)
		}
	}
	for _, key := range []string{"java.version", "maven.compiler.release", "maven.compiler.source"} {
		if v := resolvePomValue(props[key], props); v != "" {
			m.Versions[VersionJava] = v
			break
		}
	}
	return m, nil
}

// resolvePomValue expands a single ${property} reference.
func resolvePomValue(value string, props map[string]string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		return props[value[2:len(value)-1]]
	}
	return value
}

var (
	gradleDependency = regexp.MustCompile(`(?m)^\s*(?:implementation|api|compileOnly|runtimeOnly|developmentOnly|annotationProcessor|testImplementation)\s*\(?\s*["']([^"':\s]+):([^"':\s]+)(?::([^"'\s]+))?["']`)
	gradlePlugin     = regexp.MustCompile(`(?m)\bid\s*\(?\s*["']([^"']+)["']\s*\)?(?:\s*version\s*\(?\s*["']([^"']+)["'])?`)
	gradleSource     = regexp.MustCompile(`(?m)sourceCompatibility\s*=\s*["']?(?:JavaVersion\.VERSION_)?([0-9][0-9_.]*)`)
	gradleToolchain  = regexp.MustCompile(`JavaLanguageVersion\.of\(\s*(\d+)\s*\)`)
)

func parseGradle(data []byte) (Manifest, error) {
	if !utf8.Valid(data) {
		return Manifest{}, errNotText
	}
	text := string(data)
	m := newManifest()
	m.Properties[PropBuildSystem] = "gradle"
	for _, match := range gradleDependency.FindAllStringSubmatch(text, -1) {
		m.Dependencies[normalizeName(match[1]+":"+match[2])] = match[3]
	}
	for _, match := range gradlePlugin.FindAllStringSubmatch(text, -1) {
		m.Dependencies[normalizeName(match[1])] = match[2]
	}
	if match := gradleToolchain.FindStringSubmatch(text); match != nil {
		m.Versions[VersionJava] = match[1]
	} else if match := gradleSource.FindStringSubmatch(text); match != nil {
		m.Versions[VersionJava] = strings.ReplaceAll(match[1], "_", ".")
	}
	return m, nil
}

func parseGoMod(data []byte) (Manifest, error) {
	f, err := modfile.ParseLax(FileGoMod, data, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("decode go.mod: %w", err)
	}
	m := newManifest()
	m.Properties[PropBuildSystem] = "go"
	if f.Module != nil {
		m.Properties[PropModule] = f.Module.Mod.Path
	}
	if f.Go != nil {
		m.Versions[VersionGo] = f.Go.Version
	}
	for _, req := range f.Require {
		m.Dependencies[normalizeName(req.Mod.Path)] = req.Mod.Version
	}
	return m, nil
}

func parseEnvExample(data []byte) (Manifest, error) {
	if !utf8.Valid(data) {
		return Manifest{}, errNotText
	}
	values, err := godotenv.UnmarshalBytes(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("decode env file: %w", err)
	}
	m := newManifest()
	if port, err := strconv.Atoi(strings.TrimSpace(values["PORT"])); err == nil && port > 0 && port <= 65535 {
		m.Properties[PropPort] = strconv.Itoa(port)
	}
	return m, nil
}
