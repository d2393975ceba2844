package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/agent"
	"github.com/obsidiansec/argus/internal/config"
	"github.com/obsidiansec/argus/internal/deps"
	"github.com/obsidiansec/argus/internal/report"
)

// captureSink keeps the report in memory instead of writing it anywhere.
type captureSink struct {
	last *report.Report
}

func (s *captureSink) Write(_ context.Context, r *report.Report) error {
	s.last = r
	return nil
}

type fakeAdvisorySource struct {
	advisories map[string][]schemas.Advisory
}

func (f *fakeAdvisorySource) Query(context.Context, []schemas.Dependency) (map[string][]schemas.Advisory, error) {
	return f.advisories, nil
}

type fakeLLM struct {
	response string
	calls    int
}

func (f *fakeLLM) GenerateResponse(context.Context, agent.GenerationRequest) (string, error) {
	f.calls++
	return f.response, nil
}

func staticOnlyConfig() *config.Config {
	return &config.Config{
		Analysis: config.AnalysisConfig{EnableStatic: true, Workers: 2},
		Dynamic:  config.DynamicConfig{MaxConcurrent: 1, Budget: time.Second, SampleInterval: 10 * time.Millisecond},
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const maliciousPy = `import os
import sys

cmd = sys.argv[1]
os.system(cmd)
`

func newEngine(t *testing.T, cfg *config.Config, comps Components) (*Engine, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	comps.Sink = sink
	e, err := New(cfg, comps, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e, sink
}

func TestAnalyzeFileFindsTaintFlow(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.py", maliciousPy)
	e, sink := newEngine(t, staticOnlyConfig(), Components{})

	rep, err := e.AnalyzeFile(context.Background(), path)
	require.NoError(t, err)
	require.Same(t, rep, sink.last)

	var categories []schemas.Category
	for _, th := range rep.Threats {
		categories = append(categories, th.Category)
	}
	assert.Contains(t, categories, schemas.CategoryCommandExecution)
	assert.Greater(t, rep.RiskScore, 0)
}

func TestAnalysisIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", maliciousPy)
	writeFile(t, dir, "net.py", "import socket\ns = socket.socket()\n")

	e, _ := newEngine(t, staticOnlyConfig(), Components{})

	rep1, err := e.AnalyzeProject(context.Background(), dir)
	require.NoError(t, err)
	rep2, err := e.AnalyzeProject(context.Background(), dir)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(rep1.Threats, rep2.Threats))
	assert.Equal(t, rep1.RiskScore, rep2.RiskScore)
}

func TestAdvisoryEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "print('hello')\n")
	writeFile(t, dir, "requirements.txt", "flask==2.0.1\n")

	dep := schemas.Dependency{Name: "flask", Version: "2.0.1", Ecosystem: deps.EcosystemPyPI}
	cfg := staticOnlyConfig()
	cfg.Advisory = config.AdvisoryConfig{Enabled: true}
	e, _ := newEngine(t, cfg, Components{
		AdvisorySource: &fakeAdvisorySource{advisories: map[string][]schemas.Advisory{
			deps.DependencyKey(dep): {{
				ID: "PYSEC-0001", Severity: schemas.SeverityHigh, Summary: "session fixation",
			}},
		}},
	})

	rep, err := e.AnalyzeProject(context.Background(), dir)
	require.NoError(t, err)

	found := false
	for _, th := range rep.Threats {
		if th.Category == schemas.CategoryVulnerableDep {
			found = true
			require.NotEmpty(t, th.Evidence)
			assert.Contains(t, th.Evidence[0].Summary, "PYSEC-0001")
		}
	}
	assert.True(t, found, "advisory must surface as a vulnerable-dependency threat")
	require.Len(t, rep.Advisories, 1)
}

func TestParseFailureDoesNotAbortRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.py", "$$$ ??? @@@\n$$$ ??? @@@\n$$$ ??? @@@\n")
	writeFile(t, dir, "app.py", maliciousPy)

	e, _ := newEngine(t, staticOnlyConfig(), Components{})
	rep, err := e.AnalyzeProject(context.Background(), dir)
	require.NoError(t, err)

	var categories []schemas.Category
	for _, th := range rep.Threats {
		categories = append(categories, th.Category)
	}
	assert.Contains(t, categories, schemas.CategoryParseError)
	assert.Contains(t, categories, schemas.CategoryCommandExecution,
		"the parseable file must still be fully analyzed")
}

func TestModelFindingsEnterAggregation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.py", maliciousPy)

	cfg := staticOnlyConfig()
	cfg.Agent = config.AgentConfig{
		Enabled: true, APIKey: "test-key",
		MaxTargets: 3, MaxFileChars: 4000, MaxFindings: 10, CacheTTL: time.Hour,
	}
	llm := &fakeLLM{response: `[{"file":"` + path + `","line":5,"category":"command-execution","description":"model sees shell execution","confidence":0.7}]`}
	e, _ := newEngine(t, cfg, Components{LLMClient: llm})

	rep, err := e.AnalyzeProject(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 1, llm.calls)

	merged := false
	for _, th := range rep.Threats {
		if th.Category == schemas.CategoryCommandExecution && th.Source == schemas.SourceMerged {
			merged = true
		}
	}
	assert.True(t, merged, "model finding at the same site must merge with static findings")
}

func TestRejectedModelOutputDegrades(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", maliciousPy)

	cfg := staticOnlyConfig()
	cfg.Agent = config.AgentConfig{
		Enabled: true, APIKey: "test-key",
		MaxTargets: 3, MaxFileChars: 4000, MaxFindings: 10, CacheTTL: time.Hour,
	}
	llm := &fakeLLM{response: `{"not": "a finding array"}`}
	e, _ := newEngine(t, cfg, Components{LLMClient: llm})

	rep, err := e.AnalyzeProject(context.Background(), dir)
	require.NoError(t, err, "rejected model output must not fail the run")
	assert.NotEmpty(t, rep.Threats, "static findings survive the rejection")
}

func TestAnalyzeProjectRequiresSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "nothing to see")

	e, _ := newEngine(t, staticOnlyConfig(), Components{})
	_, err := e.AnalyzeProject(context.Background(), dir)
	assert.Error(t, err)
}
