package signals

import (
	"path"
	"strings"
)

// Well-known filenames at the scan root.
const (
	FileRequirements  = "requirements.txt"
	FilePyproject     = "pyproject.toml"
	FilePipfile       = "Pipfile"
	FileSetupPy       = "setup.py"
	FileRuntimeTxt    = "runtime.txt"
	FilePythonVersion = ".python-version"
	FilePackageJSON   = "package.json"
	FileNvmrc         = ".nvmrc"
	FilePackageLock   = "package-lock.json"
	FileYarnLock      = "yarn.lock"
	FilePnpmLock      = "pnpm-lock.yaml"
	FilePom           = "pom.xml"
	FileGradle        = "build.gradle"
	FileGradleKts     = "build.gradle.kts"
	FileGoMod         = "go.mod"
	FileEnvExample    = ".env.example"
)

// MaxContentSize bounds the size of a file that will be parsed. Larger files
// are recorded as degraded.
const MaxContentSize = 1 << 20

type parser func(data []byte) (Manifest, error)

type entry struct {
	name  string
	parse parser
}

// allowList is the fixed set of files whose contents are read. Entries with a
// nil parser only contribute presence.
var allowList = []entry{
	{name: FileRequirements, parse: parseRequirements},
	{name: FilePyproject, parse: parsePyproject},
	{name: FilePipfile, parse: parsePipfile},
	{name: FileSetupPy},
	{name: FileRuntimeTxt, parse: parseRuntimeTxt},
	{name: FilePythonVersion, parse: parsePythonVersion},
	{name: FilePackageJSON, parse: parsePackageJSON},
	{name: FileNvmrc, parse: parseNvmrc},
	{name: FilePackageLock},
	{name: FileYarnLock},
	{name: FilePnpmLock},
	{name: FilePom, parse: parsePom},
	{name: FileGradle, parse: parseGradle},
	{name: FileGradleKts, parse: parseGradle},
	{name: FileGoMod, parse: parseGoMod},
	{name: FileEnvExample, parse: parseEnvExample},
}

// Interesting reports whether a fetcher should retrieve the contents of p.
// Only root-level files on the allow-list with a parser qualify.
func Interesting(p string) bool {
	p = normalizePath(p)
	if strings.Contains(p, "/") {
		return false
	}
	for _, e := range allowList {
		if e.name == p && e.parse != nil {
			return true
		}
	}
	return false
}

// InterestingFiles lists every filename Interesting accepts.
func InterestingFiles() []string {
	out := make([]string, 0, len(allowList))
	for _, e := range allowList {
		if e.parse != nil {
			out = append(out, e.name)
		}
	}
	return out
}

// WithinDepth reports whether p sits at the root or one directory below it.
func WithinDepth(p string) bool {
	p = normalizePath(p)
	return p != "" && strings.Count(p, "/") <= 1
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	if p == "." || strings.HasPrefix(p, "../") {
		return ""
	}
	return p
}
