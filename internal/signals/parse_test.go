package signals

import "testing"

func TestParseRequirements(t *testing.T) {
	m, err := parseRequirements([]byte(`# web
Flask==3.0.0
uvicorn[standard]>=0.23 ; python_version >= "3.8"
-r base.txt
-e git+https://github.com/org/pkg.git#egg=pkg
Django_Rest_Framework
gunicorn  # prod server
`))
	if err != nil {
		t.Fatalf("parse requirements: %v", err)
	}
	cases := map[string]string{
		"flask":                 "==3.0.0",
		"uvicorn":               ">=0.23",
		"django-rest-framework": "",
		"gunicorn":              "",
	}
	for name, constraint := range cases {
		got, ok := m.Dependencies[name]
		if !ok {
			t.Fatalf("expected dependency %q in %v", name, m.Dependencies)
		}
		if got != constraint {
			t.Fatalf("dependency %q: expected %q got %q", name, constraint, got)
		}
	}
	if len(m.Dependencies) != len(cases) {
		t.Fatalf("unexpected dependencies %v", m.Dependencies)
	}
}

func TestParsePyprojectPoetry(t *testing.T) {
	m, err := parsePyproject([]byte(`
[tool.poetry]
name = "svc"

[tool.poetry.dependencies]
python = "^3.12"
fastapi = "^0.110"
SQLAlchemy = { version = "^2.0", extras = ["asyncio"] }

[build-system]
requires = ["poetry-core"]
build-backend = "poetry.core.masonry.api"
`))
	if err != nil {
		t.Fatalf("parse pyproject: %v", err)
	}
	if m.Properties[PropBuildSystem] != "poetry" {
		t.Fatalf("expected poetry build system got %q", m.Properties[PropBuildSystem])
	}
	if m.Versions[VersionPython] != "^3.12" {
		t.Fatalf("expected python constraint got %q", m.Versions[VersionPython])
	}
	if !m.HasDependency("fastapi") || m.Dependencies["sqlalchemy"] != "^2.0" {
		t.Fatalf("unexpected dependencies %v", m.Dependencies)
	}
	if m.HasDependency("python") {
		t.Fatalf("python must not be listed as a dependency")
	}
}

func TestParsePyprojectPEP621(t *testing.T) {
	m, err := parsePyproject([]byte(`
[project]
name = "svc"
requires-python = ">=3.10"
dependencies = ["django>=5", "psycopg[binary]"]
`))
	if err != nil {
		t.Fatalf("parse pyproject: %v", err)
	}
	if m.Properties[PropBuildSystem] != "pep621" {
		t.Fatalf("expected pep621 got %q", m.Properties[PropBuildSystem])
	}
	if !m.HasDependency("django") || !m.HasDependency("psycopg") {
		t.Fatalf("unexpected dependencies %v", m.Dependencies)
	}
}

func TestParsePackageJSON(t *testing.T) {
	m, err := parsePackageJSON([]byte(`{
		"main": "server.js",
		"packageManager": "pnpm@8.6.0",
		"engines": {"node": ">=20"},
		"scripts": {"start": "node server.js", "build": "tsc"},
		"dependencies": {"Express": "^4.19.0"},
		"devDependencies": {"typescript": "^5"}
	}`))
	if err != nil {
		t.Fatalf("parse package.json: %v", err)
	}
	if !m.HasDependency("express") || !m.HasDependency("typescript") {
		t.Fatalf("unexpected dependencies %v", m.Dependencies)
	}
	if m.Scripts["start"] != "node server.js" {
		t.Fatalf("expected start script got %q", m.Scripts["start"])
	}
	if m.Versions[VersionNode] != ">=20" || m.Properties[PropPackageManager] != "pnpm@8.6.0" || m.Properties[PropMain] != "server.js" {
		t.Fatalf("unexpected fields %+v", m)
	}
}

func TestParsePom(t *testing.T) {
	m, err := parsePom([]byte(`<?xml version="1.0"?>
<project>
  <parent>
    <groupId>org.springframework.boot</groupId>
    <artifactId>spring-boot-starter-parent</artifactId>
    <version>3.3.0</version>
  </parent>
  <properties>
    <java.version>21</java.version>
  </properties>
  <dependencies>
    <dependency>
      <groupId>org.springframework.boot</groupId>
      <artifactId>spring-boot-starter-web</artifactId>
    </dependency>
  </dependencies>
</project>`))
	if err != nil {
		t.Fatalf("parse pom: %v", err)
	}
	if !m.HasDependency("org.springframework.boot:spring-boot-starter-web") {
		t.Fatalf("expected starter dependency in %v", m.Dependencies)
	}
	if m.Dependencies["org.springframework.boot:spring-boot-starter-parent"] != "3.3.0" {
		t.Fatalf("expected parent version, got %v", m.Dependencies)
	}
	if m.Versions[VersionJava] != "21" {
		t.Fatalf("expected java 21 got %q", m.Versions[VersionJava])
	}
}

func TestParsePomMalformed(t *testing.T) {
	if _, err := parsePom([]byte("<project><dependencies>")); err == nil {
		t.Fatalf("expected error for truncated pom")
	}
}

func TestParseGradleKotlin(t *testing.T) {
	m, err := parseGradle([]byte(`
plugins {
    id("org.springframework.boot") version "3.2.5"
    kotlin("jvm") version "1.9.23"
}

java {
    toolchain {
        languageVersion = JavaLanguageVersion.of(21)
    }
}

dependencies {
    implementation("org.springframework.boot:spring-boot-starter-web")
    testImplementation("org.junit.jupiter:junit-jupiter:5.10.2")
}
`))
	if err != nil {
		t.Fatalf("parse gradle: %v", err)
	}
	if m.Dependencies["org.springframework.boot"] != "3.2.5" {
		t.Fatalf("expected boot plugin, got %v", m.Dependencies)
	}
	if !m.HasDependency("org.springframework.boot:spring-boot-starter-web") {
		t.Fatalf("expected starter dependency, got %v", m.Dependencies)
	}
	if m.Versions[VersionJava] != "21" {
		t.Fatalf("expected java 21 got %q", m.Versions[VersionJava])
	}
}

func TestParseGradleGroovySourceCompatibility(t *testing.T) {
	m, err := parseGradle([]byte(`
dependencies {
    implementation 'org.springframework.boot:spring-boot-starter'
}
sourceCompatibility = JavaVersion.VERSION_17
`))
	if err != nil {
		t.Fatalf("parse gradle: %v", err)
	}
	if m.Versions[VersionJava] != "17" {
		t.Fatalf("expected java 17 got %q", m.Versions[VersionJava])
	}
}

func TestParseGoMod(t *testing.T) {
	m, err := parseGoMod([]byte(`module example.com/api

go 1.22.3

require (
	github.com/gin-gonic/gin v1.10.0
	golang.org/x/sync v0.7.0 // indirect
)
`))
	if err != nil {
		t.Fatalf("parse go.mod: %v", err)
	}
	if m.Versions[VersionGo] != "1.22.3" {
		t.Fatalf("expected go 1.22.3 got %q", m.Versions[VersionGo])
	}
	if m.Properties[PropModule] != "example.com/api" {
		t.Fatalf("expected module path got %q", m.Properties[PropModule])
	}
	if !m.HasDependency("github.com/gin-gonic/gin") {
		t.Fatalf("expected gin dependency in %v", m.Dependencies)
	}
}

func TestParseVersionFiles(t *testing.T) {
	rt, err := parseRuntimeTxt([]byte("python-3.12.1\n"))
	if err != nil || rt.Versions[VersionPython] != "3.12.1" {
		t.Fatalf("runtime.txt: %v %v", rt.Versions, err)
	}
	nv, err := parseNvmrc([]byte("v20.11.0\n"))
	if err != nil || nv.Versions[VersionNode] != "20.11.0" {
		t.Fatalf(".nvmrc: %v %v", nv.Versions, err)
	}
	lts, err := parseNvmrc([]byte("lts/iron\n"))
	if err != nil || len(lts.Versions) != 0 {
		t.Fatalf("expected alias to be ignored, got %v %v", lts.Versions, err)
	}
}

func TestParseEnvExamplePort(t *testing.T) {
	m, err := parseEnvExample([]byte("# sample\nPORT=9090\nDEBUG=true\n"))
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if m.Properties[PropPort] != "9090" {
		t.Fatalf("expected port 9090 got %q", m.Properties[PropPort])
	}
	bad, err := parseEnvExample([]byte("PORT=http\n"))
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if _, ok := bad.Properties[PropPort]; ok {
		t.Fatalf("non-numeric port must be ignored")
	}
}
