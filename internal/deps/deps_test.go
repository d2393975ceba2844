package deps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/obsidiansec/argus/api/schemas"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestExtractRequirements(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "requirements.txt", `# pinned
Flask==2.0.1
requests>=2.25
PyYAML_fork==1.0

-r extra.txt
`)
	deps := NewExtractor(zaptest.NewLogger(t)).Extract(dir, schemas.LangPython)

	require.Len(t, deps, 3)
	assert.Equal(t, "flask", deps[0].Name)
	assert.Equal(t, "2.0.1", deps[0].Version)
	assert.Equal(t, EcosystemPyPI, deps[0].Ecosystem)
	assert.Equal(t, "pyyaml-fork", deps[1].Name)
	assert.Equal(t, "requests", deps[2].Name)
	assert.Equal(t, "2.25", deps[2].Version)
}

func TestExtractGoMod(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "go.mod", `module example.com/demo

go 1.22

require (
	github.com/spf13/cobra v1.8.0
	go.uber.org/zap v1.27.0 // indirect
)
`)
	deps := NewExtractor(zaptest.NewLogger(t)).Extract(dir, schemas.LangGo)

	require.Len(t, deps, 2)
	assert.Equal(t, "github.com/spf13/cobra", deps[0].Name)
	assert.Equal(t, "1.8.0", deps[0].Version)
	assert.Equal(t, "go.uber.org/zap", deps[1].Name)
}

func TestExtractPomAndGradle(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "pom.xml", `<project>
  <dependencies>
    <dependency>
      <groupId>org.apache.logging.log4j</groupId>
      <artifactId>log4j-core</artifactId>
      <version>2.14.0</version>
    </dependency>
  </dependencies>
</project>
`)
	writeManifest(t, dir, "build.gradle", `dependencies {
    implementation 'com.google.guava:guava:30.0-jre'
}
`)
	deps := NewExtractor(zaptest.NewLogger(t)).Extract(dir, schemas.LangJava)

	require.Len(t, deps, 2)
	assert.Equal(t, "com.google.guava:guava", deps[0].Name)
	assert.Equal(t, "30.0-jre", deps[0].Version)
	assert.Equal(t, "org.apache.logging.log4j:log4j-core", deps[1].Name)
	assert.Equal(t, "2.14.0", deps[1].Version)
}

func TestExtractDedupesRepeats(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "requirements.txt", "flask==2.0.1\nFlask==2.0.1\n")
	deps := NewExtractor(zaptest.NewLogger(t)).Extract(dir, schemas.LangPython)
	assert.Len(t, deps, 1)
}

type fakeSource struct {
	advisories map[string][]schemas.Advisory
	err        error
	calls      int
}

func (f *fakeSource) Query(_ context.Context, _ []schemas.Dependency) (map[string][]schemas.Advisory, error) {
	f.calls++
	return f.advisories, f.err
}

func TestMatchEmitsVulnerableDependencyFindings(t *testing.T) {
	dep := schemas.Dependency{
		Name: "log4j-core", Version: "2.14.0",
		Ecosystem: EcosystemMaven, Source: "pom.xml", Language: schemas.LangJava,
	}
	src := &fakeSource{advisories: map[string][]schemas.Advisory{
		DependencyKey(dep): {{
			ID:            "GHSA-jfh8-c2jp-5v3q",
			Severity:      schemas.SeverityCritical,
			Summary:       "remote code execution",
			AffectedRange: "< 2.15.0",
		}},
	}}
	m := NewMatcher(src, zaptest.NewLogger(t))

	findings, err := m.Match(context.Background(), []schemas.Dependency{dep})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, schemas.CategoryVulnerableDep, f.Category)
	assert.Equal(t, "pom.xml", f.File)
	assert.Contains(t, f.Description, "GHSA-jfh8-c2jp-5v3q")
	assert.InDelta(t, 0.95, f.Confidence, 1e-9)
}

func TestMatchRespectsAffectedRange(t *testing.T) {
	dep := schemas.Dependency{
		Name: "log4j-core", Version: "2.17.1",
		Ecosystem: EcosystemMaven, Source: "pom.xml", Language: schemas.LangJava,
	}
	src := &fakeSource{advisories: map[string][]schemas.Advisory{
		DependencyKey(dep): {{ID: "GHSA-x", Severity: schemas.SeverityHigh, AffectedRange: "< 2.15.0"}},
	}}
	m := NewMatcher(src, zaptest.NewLogger(t))

	findings, err := m.Match(context.Background(), []schemas.Dependency{dep})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestMatchNonSemverFallsBackToExactMatch(t *testing.T) {
	assert.True(t, versionAffected("2021b", "2021b"))
	assert.False(t, versionAffected("2021b", "2021c"))
	assert.True(t, versionAffected("1.2.3", ""))
}

func TestMatchWrapsLookupFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	m := NewMatcher(src, zaptest.NewLogger(t))

	_, err := m.Match(context.Background(), []schemas.Dependency{{Name: "x", Version: "1.0.0"}})
	var le *LookupError
	require.ErrorAs(t, err, &le)
}

func TestMatchSkipsEmptyDependencySet(t *testing.T) {
	src := &fakeSource{}
	m := NewMatcher(src, zaptest.NewLogger(t))
	findings, err := m.Match(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, findings)
	assert.Equal(t, 0, src.calls)
}
