package classify

// DefaultHealthCheckPath is the HTTP path probed by the container HEALTHCHECK
// and by Kubernetes liveness and readiness probes.
const DefaultHealthCheckPath = "/health"

// DefaultPort applies when nothing is known about the application.
const DefaultPort = 8080

// Defaults is one row of the literal defaults table.
type Defaults struct {
	Port         int
	EntryPoint   string
	BuildCommand string
	StartCommand string
}

// runtimeVersions are used when a manifest pins no version.
var runtimeVersions = map[Language]string{
	LanguagePython: "3.11",
	LanguageNodeJS: "18",
	LanguageJava:   "17",
	LanguageGo:     "1.21",
}

// defaultsTable is the single source of truth for ports and commands. Node
// commands are written for npm and rewritten per package manager; Python build
// commands are chosen per build tool.
var defaultsTable = map[Language]map[Framework]Defaults{
	LanguagePython: {
		FrameworkFlask:   {Port: 5000, EntryPoint: "app.py", BuildCommand: "pip install -r requirements.txt", StartCommand: "python app.py"},
		FrameworkFastAPI: {Port: 8000, EntryPoint: "main.py", BuildCommand: "pip install -r requirements.txt", StartCommand: "uvicorn main:app --host 0.0.0.0 --port 8000"},
		FrameworkDjango:  {Port: 8000, EntryPoint: "manage.py", BuildCommand: "pip install -r requirements.txt", StartCommand: "python manage.py runserver 0.0.0.0:8000"},
		FrameworkNone:    {Port: 8000, EntryPoint: "main.py", BuildCommand: "pip install -r requirements.txt", StartCommand: "python main.py"},
	},
	LanguageNodeJS: {
		FrameworkNextJS:  {Port: 3000, BuildCommand: "npm run build", StartCommand: "npm start"},
		FrameworkExpress: {Port: 3000, EntryPoint: "index.js", StartCommand: "node index.js"},
		FrameworkReact:   {Port: 3000, EntryPoint: "build", BuildCommand: "npm run build", StartCommand: "serve -s build -l 3000"},
		FrameworkVue:     {Port: 3000, EntryPoint: "dist", BuildCommand: "npm run build", StartCommand: "serve -s dist -l 3000"},
		FrameworkNone:    {Port: 3000, EntryPoint: "index.js", StartCommand: "node index.js"},
	},
	LanguageJava: {
		FrameworkSpringBoot: {Port: 8080, EntryPoint: "app.jar", BuildCommand: "mvn clean package -DskipTests", StartCommand: "java -jar app.jar"},
		FrameworkNone:       {Port: 8080, EntryPoint: "app.jar", BuildCommand: "mvn clean package -DskipTests", StartCommand: "java -jar app.jar"},
	},
	LanguageGo: {
		FrameworkNone:  {Port: 8080, EntryPoint: ".", BuildCommand: "go build -o app .", StartCommand: "./app"},
		FrameworkGin:   {Port: 8080, EntryPoint: ".", BuildCommand: "go build -o app .", StartCommand: "./app"},
		FrameworkEcho:  {Port: 8080, EntryPoint: ".", BuildCommand: "go build -o app .", StartCommand: "./app"},
		FrameworkFiber: {Port: 8080, EntryPoint: ".", BuildCommand: "go build -o app .", StartCommand: "./app"},
		FrameworkChi:   {Port: 8080, EntryPoint: ".", BuildCommand: "go build -o app .", StartCommand: "./app"},
	},
	LanguageUnknown: {
		FrameworkNone: {Port: DefaultPort},
	},
}

var pythonBuildCommands = map[BuildTool]string{
	BuildToolPip:    "pip install -r requirements.txt",
	BuildToolPoetry: "pip install poetry && poetry install --no-root",
	BuildToolPipenv: "pip install pipenv && pipenv install --system",
	BuildToolPEP621: "pip install .",
}

var gradleBuildCommand = "gradle build -x test"

// Lookup returns the defaults row for (lang, fw), falling back to the
// language's no-framework row and then to the Unknown row.
func Lookup(lang Language, fw Framework) Defaults {
	return lookupDefaults(lang, fw)
}

// RuntimeVersion returns the documented default runtime version for lang.
func RuntimeVersion(lang Language) string {
	return runtimeVersions[lang]
}

func lookupDefaults(lang Language, fw Framework) Defaults {
	if rows, ok := defaultsTable[lang]; ok {
		if d, ok := rows[fw]; ok {
			return d
		}
		if d, ok := rows[FrameworkNone]; ok {
			return d
		}
	}
	return defaultsTable[LanguageUnknown][FrameworkNone]
}
