package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/splax/manifestor/internal/signals"
)

// Rule is one row of the ordered rule table. Match reports whether the rule
// fully applies and, if so, the classification it produces.
type Rule struct {
	Name  string
	Match func(s signals.RepositorySignals, p Policy) (Classification, bool)
}

// DefaultRules returns the rule table in evaluation order. The last row always
// matches.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "go-module", Match: matchGo},
		{Name: "java-spring-boot", Match: matchSpringBoot},
		{Name: "node-package", Match: matchNode},
		{Name: "python-dependencies", Match: matchPython},
		{Name: "java-build", Match: matchJava},
		{Name: "unknown", Match: matchUnknown},
	}
}

type marker struct {
	deps   []string
	prefix bool
}

// frameworkMarkers lists the dependencies that must all be declared for a
// framework to match. Prefix markers accept versioned module paths.
var frameworkMarkers = map[Framework]marker{
	FrameworkNextJS:  {deps: []string{"next"}},
	FrameworkExpress: {deps: []string{"express"}},
	FrameworkReact:   {deps: []string{"react", "react-scripts"}},
	FrameworkVue:     {deps: []string{"vue"}},
	FrameworkDjango:  {deps: []string{"django"}},
	FrameworkFastAPI: {deps: []string{"fastapi"}},
	FrameworkFlask:   {deps: []string{"flask"}},
	FrameworkGin:     {deps: []string{"github.com/gin-gonic/gin"}, prefix: true},
	FrameworkEcho:    {deps: []string{"github.com/labstack/echo"}, prefix: true},
	FrameworkFiber:   {deps: []string{"github.com/gofiber/fiber"}, prefix: true},
	FrameworkChi:     {deps: []string{"github.com/go-chi/chi"}, prefix: true},
}

func (mk marker) matches(deps map[string]string) bool {
	if len(mk.deps) == 0 {
		return false
	}
	for _, want := range mk.deps {
		if !declares(deps, want, mk.prefix) {
			return false
		}
	}
	return true
}

func declares(deps map[string]string, name string, prefix bool) bool {
	if _, ok := deps[name]; ok {
		return true
	}
	if !prefix {
		return false
	}
	for dep := range deps {
		if strings.HasPrefix(dep, name+"/") {
			return true
		}
	}
	return false
}

// firstFramework walks priority in order and returns the first framework whose
// markers are all declared.
func firstFramework(priority []Framework, deps map[string]string) Framework {
	for _, fw := range priority {
		if frameworkMarkers[fw].matches(deps) {
			return fw
		}
	}
	return FrameworkNone
}

// fromDefaults seeds a classification from the defaults table. A policy port
// replaces the table port, and a PORT in .env.example replaces both.
func fromDefaults(s signals.RepositorySignals, p Policy, lang Language, fw Framework) Classification {
	d := lookupDefaults(lang, fw)
	c := Classification{
		Language:       lang,
		Framework:      fw,
		RuntimeVersion: RuntimeVersion(lang),
		EntryPoint:     d.EntryPoint,
		Port:           d.Port,
		BuildCommand:   d.BuildCommand,
		StartCommand:   d.StartCommand,
	}
	if port := p.port(fw, c.Port); port != c.Port {
		c.StartCommand = RetargetPort(c.StartCommand, c.Port, port)
		c.Port = port
	}
	if port, ok := portOverride(s); ok {
		c.StartCommand = RetargetPort(c.StartCommand, c.Port, port)
		c.Port = port
	}
	return c
}

func portOverride(s signals.RepositorySignals) (int, bool) {
	m, ok := s.Manifest(signals.FileEnvExample)
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(m.Properties[signals.PropPort])
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

func matchGo(s signals.RepositorySignals, p Policy) (Classification, bool) {
	m, ok := s.Manifest(signals.FileGoMod)
	if !ok {
		return Classification{}, false
	}
	c := fromDefaults(s, p, LanguageGo, firstFramework(p.Go, m.Dependencies))
	c.BuildTool = BuildToolGo
	c.ManifestFile = signals.FileGoMod
	c.RuntimeVersion = pinnedVersion(LanguageGo, m.Versions[signals.VersionGo])
	return c, true
}

func javaDescriptors(s signals.RepositorySignals) (pom signals.Manifest, hasPom bool, gradle signals.Manifest, hasGradle bool) {
	pom, hasPom = s.Manifest(signals.FilePom)
	gradle, hasGradle = s.Manifest(signals.FileGradle)
	if !hasGradle {
		gradle, hasGradle = s.Manifest(signals.FileGradleKts)
	}
	return pom, hasPom, gradle, hasGradle
}

func declaresSpringBoot(m signals.Manifest) bool {
	for dep := range m.Dependencies {
		if dep == "org.springframework.boot" || strings.HasPrefix(dep, "org.springframework.boot:") {
			return true
		}
	}
	return false
}

func matchSpringBoot(s signals.RepositorySignals, p Policy) (Classification, bool) {
	pom, hasPom, gradle, hasGradle := javaDescriptors(s)
	if !(hasPom && declaresSpringBoot(pom)) && !(hasGradle && declaresSpringBoot(gradle)) {
		return Classification{}, false
	}
	return javaClassification(s, p, FrameworkSpringBoot, pom, hasPom, gradle), true
}

func matchJava(s signals.RepositorySignals, p Policy) (Classification, bool) {
	pom, hasPom, gradle, hasGradle := javaDescriptors(s)
	if !hasPom && !hasGradle {
		return Classification{}, false
	}
	return javaClassification(s, p, FrameworkNone, pom, hasPom, gradle), true
}

// javaClassification picks the Maven variant whenever a pom.xml is present.
func javaClassification(s signals.RepositorySignals, p Policy, fw Framework, pom signals.Manifest, hasPom bool, gradle signals.Manifest) Classification {
	c := fromDefaults(s, p, LanguageJava, fw)
	primary, secondary := gradle, pom
	c.BuildTool = BuildToolGradle
	c.ManifestFile = gradle.Path
	c.BuildCommand = gradleBuildCommand
	if hasPom {
		primary, secondary = pom, gradle
		c.BuildTool = BuildToolMaven
		c.ManifestFile = signals.FilePom
		c.BuildCommand = lookupDefaults(LanguageJava, fw).BuildCommand
	}
	version := primary.Versions[signals.VersionJava]
	if version == "" {
		version = secondary.Versions[signals.VersionJava]
	}
	c.RuntimeVersion = pinnedVersion(LanguageJava, version)
	return c
}

func matchNode(s signals.RepositorySignals, p Policy) (Classification, bool) {
	m, ok := s.Manifest(signals.FilePackageJSON)
	if !ok {
		return Classification{}, false
	}
	fw := firstFramework(p.Node, m.Dependencies)
	c := fromDefaults(s, p, LanguageNodeJS, fw)
	pm := nodePackageManager(s, m)
	c.BuildTool = pm
	c.ManifestFile = signals.FilePackageJSON
	version := m.Versions[signals.VersionNode]
	if nvm, ok := s.Manifest(signals.FileNvmrc); ok && nvm.Versions[signals.VersionNode] != "" {
		version = nvm.Versions[signals.VersionNode]
	}
	c.RuntimeVersion = pinnedVersion(LanguageNodeJS, version)

	switch fw {
	case FrameworkNextJS:
		c.BuildCommand = scriptCommand(pm, "build")
		c.StartCommand = scriptCommand(pm, "start")
	case FrameworkReact, FrameworkVue:
		c.BuildCommand = scriptCommand(pm, "build")
	default:
		entry := m.Properties[signals.PropMain]
		if entry == "" {
			entry = firstPresent(s, c.EntryPoint, "index.js", "server.js", "app.js", "src/index.js")
		}
		c.EntryPoint = entry
		c.StartCommand = "node " + entry
		if start := strings.TrimSpace(m.Scripts["start"]); start != "" {
			c.StartCommand = scriptCommand(pm, "start")
			c.StartScript = start
		}
		if strings.TrimSpace(m.Scripts["build"]) != "" {
			c.BuildCommand = scriptCommand(pm, "build")
		}
	}
	return c, true
}

func nodePackageManager(s signals.RepositorySignals, m signals.Manifest) BuildTool {
	declared := strings.ToLower(strings.TrimSpace(m.Properties[signals.PropPackageManager]))
	if idx := strings.Index(declared, "@"); idx > 0 {
		declared = declared[:idx]
	}
	switch declared {
	case "yarn":
		return BuildToolYarn
	case "pnpm":
		return BuildToolPNPM
	case "npm":
		return BuildToolNPM
	}
	switch {
	case s.HasFile(signals.FileYarnLock):
		return BuildToolYarn
	case s.HasFile(signals.FilePnpmLock):
		return BuildToolPNPM
	default:
		return BuildToolNPM
	}
}

// scriptCommand renders `npm run <script>` in the idiom of pm.
func scriptCommand(pm BuildTool, script string) string {
	switch pm {
	case BuildToolYarn:
		return "yarn " + script
	case BuildToolPNPM:
		if script == "start" {
			return "pnpm start"
		}
		return "pnpm run " + script
	default:
		if script == "start" {
			return "npm start"
		}
		return "npm run " + script
	}
}

var pythonManifests = []string{signals.FileRequirements, signals.FilePipfile, signals.FilePyproject}

func matchPython(s signals.RepositorySignals, p Policy) (Classification, bool) {
	deps := map[string]string{}
	primary := ""
	var manifests []signals.Manifest
	for _, name := range pythonManifests {
		m, ok := s.Manifest(name)
		if !ok {
			continue
		}
		if primary == "" {
			primary = name
		}
		manifests = append(manifests, m)
		for dep, constraint := range m.Dependencies {
			deps[dep] = constraint
		}
	}
	if primary == "" && s.HasFile(signals.FileSetupPy) {
		primary = signals.FileSetupPy
	}
	if primary == "" {
		return Classification{}, false
	}

	fw := firstFramework(p.Python, deps)
	c := fromDefaults(s, p, LanguagePython, fw)
	c.ManifestFile = primary
	c.BuildTool = pythonBuildTool(s, primary)
	c.BuildCommand = pythonBuildCommands[c.BuildTool]
	c.RuntimeVersion = pinnedVersion(LanguagePython, pythonVersion(s, manifests))

	switch fw {
	case FrameworkDjango:
		c.EntryPoint = "manage.py"
	case FrameworkFastAPI:
		entry := firstPresent(s, c.EntryPoint, "main.py", "app/main.py", "app.py", "src/main.py")
		c.EntryPoint = entry
		c.StartCommand = fmt.Sprintf("uvicorn %s:app --host 0.0.0.0 --port %d", pythonModule(entry), c.Port)
	default:
		entry := firstPresent(s, c.EntryPoint, "app.py", "main.py", "wsgi.py", "server.py", "run.py")
		c.EntryPoint = entry
		c.StartCommand = "python " + entry
	}
	return c, true
}

func pythonBuildTool(s signals.RepositorySignals, primary string) BuildTool {
	switch primary {
	case signals.FileRequirements:
		return BuildToolPip
	case signals.FilePipfile:
		return BuildToolPipenv
	case signals.FilePyproject:
		if m, _ := s.Manifest(signals.FilePyproject); m.Properties[signals.PropBuildSystem] == "poetry" {
			return BuildToolPoetry
		}
	}
	return BuildToolPEP621
}

func pythonVersion(s signals.RepositorySignals, manifests []signals.Manifest) string {
	for _, name := range []string{signals.FilePythonVersion, signals.FileRuntimeTxt} {
		if m, ok := s.Manifest(name); ok && m.Versions[signals.VersionPython] != "" {
			return m.Versions[signals.VersionPython]
		}
	}
	for _, m := range manifests {
		if v := m.Versions[signals.VersionPython]; v != "" {
			return v
		}
	}
	return ""
}

func pythonModule(entry string) string {
	return strings.ReplaceAll(strings.TrimSuffix(entry, ".py"), "/", ".")
}

func matchUnknown(s signals.RepositorySignals, p Policy) (Classification, bool) {
	c := fromDefaults(s, p, LanguageUnknown, FrameworkNone)
	c.RuntimeVersion = ""
	return c, true
}

func firstPresent(s signals.RepositorySignals, fallback string, candidates ...string) string {
	for _, candidate := range candidates {
		if s.HasFile(candidate) {
			return candidate
		}
	}
	return fallback
}

var versionPattern = regexp.MustCompile(`\d+(?:\.\d+)*`)

// pinnedVersion extracts a usable runtime version from a pin or constraint.
// Exact pins are kept verbatim; ranges are reduced to the precision image
// tags are published at.
func pinnedVersion(lang Language, raw string) string {
	raw = strings.TrimSpace(raw)
	v := versionPattern.FindString(raw)
	if v == "" {
		return RuntimeVersion(lang)
	}
	exact := raw == v
	parts := strings.Split(v, ".")
	switch lang {
	case LanguageJava:
		if parts[0] == "1" && len(parts) > 1 {
			return parts[1]
		}
		return parts[0]
	case LanguageNodeJS:
		if !exact {
			return parts[0]
		}
	case LanguagePython, LanguageGo:
		if !exact && len(parts) > 2 {
			return parts[0] + "." + parts[1]
		}
	}
	return v
}

var portArgument = regexp.MustCompile(`(--port[ =]|-l |-p |0\.0\.0\.0:)(\d+)`)

// RetargetPort rewrites port arguments in cmd that equal from so they read to.
// Arguments naming any other port are left alone.
func RetargetPort(cmd string, from, to int) string {
	if cmd == "" || from == to {
		return cmd
	}
	old := strconv.Itoa(from)
	return portArgument.ReplaceAllStringFunc(cmd, func(match string) string {
		sub := portArgument.FindStringSubmatch(match)
		if sub[2] != old {
			return match
		}
		return sub[1] + strconv.Itoa(to)
	})
}
