// Package engine wires the analysis stages into the scan pipeline: static
// analysis per file, optional dynamic execution, optional model analysis,
// aggregation, scoring, reporting.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/agent"
	"github.com/obsidiansec/argus/internal/aggregate"
	"github.com/obsidiansec/argus/internal/config"
	"github.com/obsidiansec/argus/internal/deps"
	"github.com/obsidiansec/argus/internal/dynamic"
	"github.com/obsidiansec/argus/internal/report"
	"github.com/obsidiansec/argus/internal/rules"
	"github.com/obsidiansec/argus/internal/semantic"
	"github.com/obsidiansec/argus/internal/taint"
)

// Components are the injectable external boundaries of the pipeline. Nil
// fields get production defaults; tests pass fakes.
type Components struct {
	AdvisorySource deps.AdvisorySource
	LLMClient      agent.LLMClient
	Telemetry      dynamic.TelemetrySource
	Sink           report.Sink
}

// Engine executes the full analysis pipeline.
type Engine struct {
	cfg        *config.Config
	builder    *semantic.Builder
	matcher    *rules.Matcher
	analyzer   *taint.Analyzer
	extractor  *deps.Extractor
	advisories *deps.Matcher
	runner     *dynamic.Orchestrator
	model      *agent.Orchestrator
	aggregator *aggregate.Aggregator
	sink       report.Sink
	logger     *zap.Logger
}

func New(cfg *config.Config, comps Components, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ruleSet, err := loadRules(cfg.Analysis.RulesPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		builder:    semantic.NewBuilder(logger),
		matcher:    rules.NewMatcher(ruleSet, logger),
		analyzer:   taint.NewAnalyzer(logger),
		extractor:  deps.NewExtractor(logger),
		aggregator: aggregate.NewAggregator(logger),
		sink:       comps.Sink,
		logger:     logger.Named("engine"),
	}
	if e.sink == nil {
		e.sink = report.NewJSONSink(cfg.Report.Output, logger)
	}

	if cfg.Advisory.Enabled {
		source := comps.AdvisorySource
		if source == nil {
			source = deps.NewOSVClient(cfg.Advisory.Endpoint, cfg.Advisory.Timeout, logger)
		}
		e.advisories = deps.NewMatcher(source, logger)
	}

	if cfg.Analysis.EnableDynamic {
		e.runner = dynamic.NewOrchestrator(cfg.Dynamic, comps.Telemetry, logger)
	}

	if cfg.Agent.Enabled {
		client := comps.LLMClient
		if client == nil {
			client, err = agent.NewGeminiClient(cfg.Agent, logger)
			if err != nil {
				return nil, err
			}
		}
		e.model = agent.NewOrchestrator(cfg.Agent, client, nil, logger)
	}
	return e, nil
}

func loadRules(path string) (*rules.RuleSet, error) {
	if path == "" {
		return rules.LoadDefault()
	}
	return rules.LoadFile(path)
}

// AnalyzeFile runs the pipeline on one file.
func (e *Engine) AnalyzeFile(ctx context.Context, path string) (*report.Report, error) {
	return e.analyze(ctx, []string{path}, filepath.Dir(path))
}

// AnalyzeProject runs the pipeline on every supported source file under dir.
func (e *Engine) AnalyzeProject(ctx context.Context, dir string) (*report.Report, error) {
	files, err := collectSources(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no supported source files under %s", dir)
	}
	return e.analyze(ctx, files, dir)
}

func (e *Engine) analyze(ctx context.Context, files []string, rootDir string) (*report.Report, error) {
	runID := uuid.NewString()
	e.logger.Info("Analysis started",
		zap.String("run_id", runID), zap.Int("files", len(files)))

	var static []schemas.Finding
	if e.cfg.Analysis.EnableStatic {
		static = e.runStatic(ctx, files)
	}

	advisories := e.runAdvisories(ctx, rootDir)
	static = append(static, advisories...)

	dynResult, executionLogs := e.runDynamic(ctx, files)
	modelFindings := e.runModel(ctx, files, dynResult)

	threats := e.aggregator.Aggregate(static, dynResult, modelFindings)
	aggregate.ScoreAll(threats)
	score := aggregate.RiskScore(threats)

	rep := &report.Report{
		RunID:         runID,
		GeneratedAt:   time.Now().UTC(),
		Targets:       files,
		Threats:       threats,
		RiskScore:     score,
		RiskLevel:     aggregate.RiskLevel(score),
		Advisories:    advisories,
		ExecutionLogs: executionLogs,
	}
	if err := e.sink.Write(ctx, rep); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	e.logger.Info("Analysis complete",
		zap.String("run_id", runID),
		zap.Int("threats", len(threats)),
		zap.Int("risk_score", score))
	return rep, nil
}

// runStatic analyzes files concurrently with bounded workers. Each file owns
// its semantic model; findings are merged under one lock.
func (e *Engine) runStatic(ctx context.Context, files []string) []schemas.Finding {
	p := pool.New().WithMaxGoroutines(e.cfg.Analysis.Workers)
	var mu sync.Mutex
	var findings []schemas.Finding

	for _, path := range files {
		path := path
		p.Go(func() {
			result := e.staticFile(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			findings = append(findings, result...)
		})
	}
	p.Wait()

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].Detector < findings[j].Detector
	})
	return findings
}

// staticFile runs the semantic build, rule matching, and taint propagation
// for one file. A parse failure degrades to text-only matching plus a
// parse-error finding; it never aborts the run.
func (e *Engine) staticFile(ctx context.Context, path string) []schemas.Finding {
	lang := schemas.DetectLanguage(path)
	if !lang.Supported() {
		e.logger.Debug("Skipping unsupported file", zap.String("file", path))
		return nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		e.logger.Warn("Cannot read source file", zap.String("file", path), zap.Error(err))
		return nil
	}

	var findings []schemas.Finding
	model, err := e.builder.Build(ctx, path, src, lang)
	if err != nil {
		var pf *semantic.ParseFailure
		if !errors.As(err, &pf) {
			e.logger.Warn("Semantic build failed", zap.String("file", path), zap.Error(err))
			return nil
		}
		e.logger.Info("Parse failure, degrading to text-only matching",
			zap.String("file", path), zap.String("reason", pf.Reason))
		findings = append(findings, rules.ParseErrorFinding(path, pf))
		findings = append(findings, e.matcher.Match(path, src, lang, nil)...)
		return findings
	}
	defer model.Close()

	findings = append(findings, e.matcher.Match(path, src, lang, model)...)
	findings = append(findings, e.analyzer.Propagate(model, taint.ForLanguage(lang))...)
	return findings
}

// runAdvisories extracts manifests and checks them against the advisory
// source. Lookup failures are logged and produce no findings.
func (e *Engine) runAdvisories(ctx context.Context, rootDir string) []schemas.Finding {
	if e.advisories == nil || rootDir == "" {
		return nil
	}
	declared := e.extractor.ExtractAll(rootDir)
	if len(declared) == 0 {
		return nil
	}
	findings, err := e.advisories.Match(ctx, declared)
	if err != nil {
		e.logger.Warn("Advisory lookup failed, omitting dependency findings", zap.Error(err))
		return nil
	}
	return findings
}

// runDynamic executes the entry-point target when dynamic analysis is
// enabled. In project mode one representative target runs; instrumenting
// every file would multiply the budget without adding attribution.
func (e *Engine) runDynamic(ctx context.Context, files []string) (*schemas.DynamicRunResult, map[string][]string) {
	if e.runner == nil {
		return nil, nil
	}
	target := pickDynamicTarget(files)
	if target == "" {
		e.logger.Info("No executable target for dynamic analysis")
		return nil, nil
	}
	result, err := e.runner.Run(ctx, target, schemas.DetectLanguage(target))
	if err != nil {
		e.logger.Warn("Dynamic run failed to schedule", zap.String("target", target), zap.Error(err))
		return nil, nil
	}
	return result, map[string][]string{result.RunID: result.Log}
}

func (e *Engine) runModel(ctx context.Context, files []string, dyn *schemas.DynamicRunResult) []schemas.Finding {
	if e.model == nil {
		return nil
	}
	sources := make([]agent.SourceFile, 0, len(files))
	for _, path := range files {
		lang := schemas.DetectLanguage(path)
		if !lang.Supported() {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		sources = append(sources, agent.SourceFile{Path: path, Language: lang, Content: content})
	}
	if len(sources) == 0 {
		return nil
	}
	result, err := e.model.AnalyzeProject(ctx, sources, dyn)
	if err != nil {
		// Rejected or failed model output degrades to static+dynamic.
		e.logger.Warn("Model analysis unavailable for this run", zap.Error(err))
		return nil
	}
	return result.Findings
}

// pickDynamicTarget prefers files whose content marks an entry point, then
// the lexicographically first supported file.
func pickDynamicTarget(files []string) string {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	fallback := ""
	for _, path := range sorted {
		if !schemas.DetectLanguage(path).Supported() {
			continue
		}
		if fallback == "" {
			fallback = path
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if hasEntryPoint(string(content)) {
			return path
		}
	}
	return fallback
}

func hasEntryPoint(src string) bool {
	for _, marker := range []string{"if __name__", "func main(", "public static void main"} {
		if strings.Contains(src, marker) {
			return true
		}
	}
	return false
}

// collectSources walks dir for supported source files, skipping hidden and
// vendored trees.
func collectSources(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name != "." && (name == "vendor" || name == "node_modules" || (len(name) > 1 && name[0] == '.')) {
				return filepath.SkipDir
			}
			return nil
		}
		if schemas.DetectLanguage(path).Supported() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}
