package classify

import "errors"

// ErrUnknown is reported when no rule recognised the repository and generic
// defaults were used.
var ErrUnknown = errors.New("classify: no rule matched, using generic defaults")

// Language is the detected implementation language.
type Language string

const (
	LanguagePython  Language = "Python"
	LanguageNodeJS  Language = "NodeJS"
	LanguageJava    Language = "Java"
	LanguageGo      Language = "Go"
	LanguageUnknown Language = "Unknown"
)

// Framework is the detected application framework. FrameworkNone means plain
// language runtime.
type Framework string

const (
	FrameworkNone       Framework = ""
	FrameworkDjango     Framework = "Django"
	FrameworkFastAPI    Framework = "FastAPI"
	FrameworkFlask      Framework = "Flask"
	FrameworkNextJS     Framework = "NextJS"
	FrameworkExpress    Framework = "Express"
	FrameworkReact      Framework = "React"
	FrameworkVue        Framework = "Vue"
	FrameworkSpringBoot Framework = "SpringBoot"
	FrameworkGin        Framework = "Gin"
	FrameworkEcho       Framework = "Echo"
	FrameworkFiber      Framework = "Fiber"
	FrameworkChi        Framework = "Chi"
)

// BuildTool is the sub-variant that selects install and build steps.
type BuildTool string

const (
	BuildToolNone   BuildTool = ""
	BuildToolPip    BuildTool = "pip"
	BuildToolPoetry BuildTool = "poetry"
	BuildToolPipenv BuildTool = "pipenv"
	BuildToolPEP621 BuildTool = "pep621"
	BuildToolNPM    BuildTool = "npm"
	BuildToolYarn   BuildTool = "yarn"
	BuildToolPNPM   BuildTool = "pnpm"
	BuildToolMaven  BuildTool = "maven"
	BuildToolGradle BuildTool = "gradle"
	BuildToolGo     BuildTool = "go"
)

var languageFrameworks = map[Language][]Framework{
	LanguagePython:  {FrameworkDjango, FrameworkFastAPI, FrameworkFlask},
	LanguageNodeJS:  {FrameworkNextJS, FrameworkExpress, FrameworkReact, FrameworkVue},
	LanguageJava:    {FrameworkSpringBoot},
	LanguageGo:      {FrameworkGin, FrameworkEcho, FrameworkFiber, FrameworkChi},
	LanguageUnknown: nil,
}

// ValidFramework reports whether fw may be paired with lang. FrameworkNone is
// valid for every language.
func ValidFramework(lang Language, fw Framework) bool {
	if fw == FrameworkNone {
		return true
	}
	for _, candidate := range languageFrameworks[lang] {
		if candidate == fw {
			return true
		}
	}
	return false
}

// Classification is the inferred runtime description driving both composers.
// StartScript keeps a declared package.json start script for display; the
// container runs it through the package manager named by StartCommand.
type Classification struct {
	Language       Language  `json:"language"`
	Framework      Framework `json:"framework,omitempty"`
	BuildTool      BuildTool `json:"buildTool,omitempty"`
	RuntimeVersion string    `json:"runtimeVersion,omitempty"`
	ManifestFile   string    `json:"manifestFile,omitempty"`
	EntryPoint     string    `json:"entryPoint,omitempty"`
	Port           int       `json:"port"`
	BuildCommand   string    `json:"buildCommand,omitempty"`
	StartCommand   string    `json:"startCommand,omitempty"`
	StartScript    string    `json:"startScript,omitempty"`
	Rule           string    `json:"rule"`
}

// Known reports whether a language was recognised.
func (c Classification) Known() bool {
	return c.Language != "" && c.Language != LanguageUnknown
}

// Warning returns ErrUnknown for an unrecognised repository and nil otherwise.
func (c Classification) Warning() error {
	if c.Known() {
		return nil
	}
	return ErrUnknown
}

// normalize enforces the language/framework invariant.
func (c Classification) normalize() Classification {
	if c.Language == "" {
		c.Language = LanguageUnknown
	}
	if !c.Known() || !ValidFramework(c.Language, c.Framework) {
		c.Framework = FrameworkNone
	}
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = lookupDefaults(c.Language, c.Framework).Port
	}
	return c
}
