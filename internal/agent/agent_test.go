package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/config"
)

// countingClient replays canned responses and counts invocations.
type countingClient struct {
	responses []string
	err       error
	calls     int
}

func (c *countingClient) GenerateResponse(context.Context, GenerationRequest) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	i := c.calls - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return c.responses[i], nil
}

func testFiles() []SourceFile {
	return []SourceFile{
		{Path: "app.py", Language: schemas.LangPython, Content: []byte("import os\nos.system(cmd)\n")},
		{Path: "util.py", Language: schemas.LangPython, Content: []byte("def helper():\n    pass\n")},
	}
}

func testConfig() config.AgentConfig {
	return config.AgentConfig{
		Enabled:      true,
		MaxTargets:   3,
		MaxFileChars: 4000,
		MaxFindings:  10,
		CacheTTL:     time.Hour,
	}
}

const validResponse = `[{"file":"app.py","line":2,"category":"command-execution","description":"shell execution of external input","confidence":0.8}]`

func TestAnalyzeProjectValidatesAndCaches(t *testing.T) {
	client := &countingClient{responses: []string{validResponse}}
	o := NewOrchestrator(testConfig(), client, nil, zaptest.NewLogger(t))

	first, err := o.AnalyzeProject(context.Background(), testFiles(), nil)
	require.NoError(t, err)
	require.Len(t, first.Findings, 1)
	assert.False(t, first.CacheHit)
	assert.Equal(t, schemas.CategoryCommandExecution, first.Findings[0].Category)
	assert.Equal(t, "model:gemini", first.Findings[0].Detector)

	second, err := o.AnalyzeProject(context.Background(), testFiles(), nil)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Findings, second.Findings)
	assert.Equal(t, 1, client.calls, "identical payload within TTL must not hit the network")
}

func TestAnalyzeProjectRejectsUnknownCategory(t *testing.T) {
	client := &countingClient{responses: []string{
		`[{"file":"app.py","line":2,"category":"quantum-hacking","description":"x","confidence":0.8}]`,
	}}
	o := NewOrchestrator(testConfig(), client, nil, zaptest.NewLogger(t))

	_, err := o.AnalyzeProject(context.Background(), testFiles(), nil)
	require.ErrorIs(t, err, ErrRejectedOutput)
}

func TestAnalyzeProjectRejectsUnknownFile(t *testing.T) {
	client := &countingClient{responses: []string{
		`[{"file":"secrets.py","line":2,"category":"command-execution","description":"x","confidence":0.8}]`,
	}}
	o := NewOrchestrator(testConfig(), client, nil, zaptest.NewLogger(t))

	_, err := o.AnalyzeProject(context.Background(), testFiles(), nil)
	require.ErrorIs(t, err, ErrRejectedOutput)
}

func TestValidateFindingsRejectsBadConfidence(t *testing.T) {
	_, err := ValidateFindings(
		`[{"file":"a.py","line":1,"category":"code-eval","description":"x","confidence":1.5}]`,
		map[string]bool{"a.py": true}, 10)
	require.ErrorIs(t, err, ErrRejectedOutput)
}

func TestValidateFindingsStripsCodeFence(t *testing.T) {
	fenced := "```json\n" + validResponse + "\n```"
	findings, err := ValidateFindings(fenced, map[string]bool{"app.py": true}, 10)
	require.NoError(t, err)
	assert.Len(t, findings, 1)
}

func TestSelectTargetsHonorsModelOrder(t *testing.T) {
	files := []SourceFile{
		{Path: "a.py", Content: []byte("x")},
		{Path: "b.py", Content: []byte("y")},
		{Path: "c.py", Content: []byte("z")},
	}
	client := &countingClient{responses: []string{`["c.py","a.py","b.py"]`}}

	got := SelectTargets(context.Background(), client, files, 2, zaptest.NewLogger(t))

	require.Len(t, got, 2, "excess selections are truncated in the model's order")
	assert.Equal(t, "c.py", got[0].Path)
	assert.Equal(t, "a.py", got[1].Path)
}

func TestSelectTargetsToleratesFencedAnswer(t *testing.T) {
	files := []SourceFile{
		{Path: "a.py", Content: []byte("x")},
		{Path: "b.py", Content: []byte("y")},
		{Path: "c.py", Content: []byte("z")},
	}
	client := &countingClient{responses: []string{"```json\n[\"b.py\",\"c.py\"]\n```"}}

	got := SelectTargets(context.Background(), client, files, 2, zaptest.NewLogger(t))

	require.Len(t, got, 2, "a fenced answer is still the model's selection, not a fallback")
	assert.Equal(t, "b.py", got[0].Path)
	assert.Equal(t, "c.py", got[1].Path)
}

func TestSelectTargetsFallsBackToEntryPoints(t *testing.T) {
	files := []SourceFile{
		{Path: "big.py", Content: []byte("# padding padding padding padding padding")},
		{Path: "entry.py", Content: []byte("if __name__ == '__main__':\n    run()\n")},
		{Path: "tiny.py", Content: []byte("x = 1")},
	}
	client := &countingClient{err: errors.New("model unavailable")}

	got := SelectTargets(context.Background(), client, files, 2, zaptest.NewLogger(t))

	require.Len(t, got, 2)
	assert.Equal(t, "entry.py", got[0].Path, "entry points come first in the fallback")
	assert.Equal(t, "big.py", got[1].Path, "then the largest files")
}

func TestPayloadRedactsSecrets(t *testing.T) {
	files := []SourceFile{{
		Path:    "cfg.py",
		Content: []byte(`password = "hunter2-secret"`),
	}}
	p := BuildPayload(files, nil, 4000, CompileRedactions([]string{`hunter2-\w+`}))

	require.Len(t, p.Excerpts, 1)
	assert.NotContains(t, p.Excerpts[0].Excerpt, "hunter2-secret")
	assert.Contains(t, p.Excerpts[0].Excerpt, "[REDACTED]")
}

func TestPayloadFingerprintDeterministic(t *testing.T) {
	files := testFiles()
	p1 := BuildPayload(files, nil, 4000, nil)
	p2 := BuildPayload([]SourceFile{files[1], files[0]}, nil, 4000, nil)
	assert.Equal(t, p1.Fingerprint(), p2.Fingerprint(), "file order must not change the fingerprint")

	changed := BuildPayload([]SourceFile{files[0]}, nil, 4000, nil)
	assert.NotEqual(t, p1.Fingerprint(), changed.Fingerprint())
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	base := time.Unix(1000, 0)
	c.now = func() time.Time { return base }

	c.Put("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	base = base.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
}
