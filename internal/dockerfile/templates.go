package dockerfile

import (
	"fmt"
	"strings"

	"github.com/splax/manifestor/internal/classify"
)

const (
	templatePython  = "python"
	templateNode    = "node"
	templateJava    = "java"
	templateGo      = "go"
	templateGeneric = "generic"
)

type probeKind int

const (
	probeCurl probeKind = iota
	probePython
	probeNode
)

// template renders the body of each stage. Render writes the FROM lines and
// the shared runtime tail.
type template struct {
	images  func(s Spec) (builder, runtime string)
	build   func(b *strings.Builder, s Spec)
	runtime func(b *strings.Builder, s Spec)
	probe   probeKind
}

var templates = map[string]template{
	templatePython:  {images: pythonImages, build: pythonBuild, runtime: pythonRuntime, probe: probePython},
	templateNode:    {images: nodeImages, build: nodeBuild, runtime: nodeRuntime, probe: probeNode},
	templateJava:    {images: javaImages, build: javaBuild, runtime: javaRuntime, probe: probeCurl},
	templateGo:      {images: goImages, build: goBuild, runtime: goRuntime, probe: probeCurl},
	templateGeneric: {images: genericImages, build: genericBuild, runtime: genericRuntime, probe: probeCurl},
}

func lookupTemplate(name string) template {
	if t, ok := templates[name]; ok {
		return t
	}
	return templates[templateGeneric]
}

func versionOr(s Spec) string {
	if v := strings.TrimSpace(s.RuntimeVersion); v != "" {
		return v
	}
	return classify.RuntimeVersion(s.Language)
}

const installCurl = "RUN apt-get update && apt-get install -y --no-install-recommends ca-certificates curl && rm -rf /var/lib/apt/lists/*\n"

func pythonImages(s Spec) (string, string) {
	image := fmt.Sprintf("python:%s-slim", versionOr(s))
	return image, image
}

func pythonBuild(b *strings.Builder, s Spec) {
	b.WriteString("WORKDIR /app\n")
	b.WriteString("ENV PIP_NO_CACHE_DIR=1 PIP_DISABLE_PIP_VERSION_CHECK=1 POETRY_VIRTUALENVS_CREATE=false\n")
	b.WriteString("RUN python -m venv /opt/venv\n")
	b.WriteString("ENV PATH=\"/opt/venv/bin:$PATH\"\n\n")
	switch s.BuildTool {
	case classify.BuildToolPip:
		b.WriteString("COPY requirements.txt ./\n")
	case classify.BuildToolPoetry:
		b.WriteString("COPY pyproject.toml poetry.lock* ./\n")
	case classify.BuildToolPipenv:
		b.WriteString("COPY Pipfile Pipfile.lock* ./\n")
	default:
		b.WriteString("COPY . ./\n")
		writeRun(b, s.BuildCommand)
		return
	}
	writeRun(b, s.BuildCommand)
	b.WriteString("COPY . ./\n")
}

func pythonRuntime(b *strings.Builder, s Spec) {
	b.WriteString("ENV PYTHONDONTWRITEBYTECODE=1 PYTHONUNBUFFERED=1 PATH=\"/opt/venv/bin:$PATH\"\n")
	writeCreateUser(b)
	b.WriteString("COPY --from=builder /opt/venv /opt/venv\n")
	fmt.Fprintf(b, "COPY --from=builder --chown=%d:%d /app /app\n", RuntimeUID, RuntimeUID)
}

func nodeImages(s Spec) (string, string) {
	image := fmt.Sprintf("node:%s-slim", versionOr(s))
	return image, image
}

func nodeStatic(s Spec) bool {
	return s.Framework == classify.FrameworkReact || s.Framework == classify.FrameworkVue
}

func nodeBuild(b *strings.Builder, s Spec) {
	b.WriteString("WORKDIR /app\n")
	switch s.BuildTool {
	case classify.BuildToolYarn:
		b.WriteString("COPY package.json yarn.lock* ./\n")
		b.WriteString("RUN corepack enable && if [ -f yarn.lock ]; then yarn install --frozen-lockfile; else yarn install; fi\n\n")
	case classify.BuildToolPNPM:
		b.WriteString("COPY package.json pnpm-lock.yaml* ./\n")
		b.WriteString("RUN corepack enable && if [ -f pnpm-lock.yaml ]; then pnpm install --frozen-lockfile; else pnpm install; fi\n\n")
	default:
		b.WriteString("COPY package*.json ./\n")
		b.WriteString("RUN if [ -f package-lock.json ]; then npm ci; elif [ -f npm-shrinkwrap.json ]; then npm ci; else npm install; fi\n\n")
	}
	b.WriteString("COPY . ./\n")
	if s.Framework == classify.FrameworkNextJS {
		b.WriteString("ENV NEXT_TELEMETRY_DISABLED=1\n")
	}
	writeRun(b, s.BuildCommand)
}

func nodeRuntime(b *strings.Builder, s Spec) {
	b.WriteString("ENV NODE_ENV=production\n")
	if s.Framework == classify.FrameworkNextJS {
		b.WriteString("ENV NEXT_TELEMETRY_DISABLED=1\n")
	}
	writeCreateUser(b)
	if nodeStatic(s) {
		dir := strings.Trim(s.EntryPoint, "/")
		if dir == "" {
			dir = "build"
		}
		b.WriteString("RUN npm install -g serve\n")
		fmt.Fprintf(b, "COPY --from=builder --chown=%d:%d /app/%s ./%s\n", RuntimeUID, RuntimeUID, dir, dir)
		return
	}
	if s.BuildTool == classify.BuildToolYarn || s.BuildTool == classify.BuildToolPNPM {
		b.WriteString("RUN corepack enable\n")
	}
	fmt.Fprintf(b, "COPY --from=builder --chown=%d:%d /app ./\n", RuntimeUID, RuntimeUID)
}

func javaImages(s Spec) (string, string) {
	v := versionOr(s)
	runtime := fmt.Sprintf("eclipse-temurin:%s-jre", v)
	if s.BuildTool == classify.BuildToolGradle {
		return fmt.Sprintf("gradle:8.10-jdk%s", v), runtime
	}
	return fmt.Sprintf("maven:3.9-eclipse-temurin-%s", v), runtime
}

func javaBuild(b *strings.Builder, s Spec) {
	b.WriteString("WORKDIR /workspace\n")
	if s.BuildTool == classify.BuildToolGradle {
		b.WriteString("COPY . ./\n")
		writeRun(b, appendFlag(s.BuildCommand, "--no-daemon"))
		b.WriteString("RUN JAR=$(find build/libs -name \"*.jar\" ! -name \"*-plain.jar\" -type f | head -n 1) && cp \"$JAR\" /workspace/app.jar\n")
		return
	}
	b.WriteString("COPY pom.xml ./\n")
	b.WriteString("RUN mvn -B dependency:go-offline\n\n")
	b.WriteString("COPY . ./\n")
	writeRun(b, s.BuildCommand)
	b.WriteString("RUN JAR=$(ls -1 target/*.jar | grep -v original | head -n 1) && cp \"$JAR\" /workspace/app.jar\n")
}

func javaRuntime(b *strings.Builder, _ Spec) {
	b.WriteString(installCurl)
	writeCreateUser(b)
	fmt.Fprintf(b, "COPY --from=builder --chown=%d:%d /workspace/app.jar /app/app.jar\n", RuntimeUID, RuntimeUID)
}

func goImages(s Spec) (string, string) {
	return fmt.Sprintf("golang:%s", versionOr(s)), "debian:bookworm-slim"
}

func goBuild(b *strings.Builder, s Spec) {
	b.WriteString("WORKDIR /src\n")
	b.WriteString("COPY go.* ./\n")
	b.WriteString("RUN go mod download\n\n")
	b.WriteString("COPY . ./\n")
	b.WriteString("ENV CGO_ENABLED=0 GOOS=linux\n")
	writeRun(b, s.BuildCommand)
}

func goRuntime(b *strings.Builder, _ Spec) {
	b.WriteString(installCurl)
	writeCreateUser(b)
	fmt.Fprintf(b, "COPY --from=builder --chown=%d:%d /src/app /app/app\n", RuntimeUID, RuntimeUID)
}

func genericImages(Spec) (string, string) {
	return "debian:bookworm-slim", "debian:bookworm-slim"
}

func genericBuild(b *strings.Builder, s Spec) {
	b.WriteString("WORKDIR /src\n")
	b.WriteString("COPY . ./\n")
	writeRun(b, s.BuildCommand)
}

func genericRuntime(b *strings.Builder, _ Spec) {
	b.WriteString(installCurl)
	writeCreateUser(b)
	fmt.Fprintf(b, "COPY --from=builder --chown=%d:%d /src /app\n", RuntimeUID, RuntimeUID)
}

func writeRun(b *strings.Builder, command string) {
	if command = strings.TrimSpace(command); command != "" {
		b.WriteString("RUN " + command + "\n")
	}
}

func writeCreateUser(b *strings.Builder) {
	fmt.Fprintf(b, "RUN id -u %d >/dev/null 2>&1 || useradd --uid %d --no-create-home --shell /usr/sbin/nologin app\n", RuntimeUID, RuntimeUID)
}

func appendFlag(command, flag string) string {
	if command == "" || strings.Contains(command, flag) {
		return command
	}
	return command + " " + flag
}
