package dynamic

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/config"
)

// ErrUnsupportedTarget is returned for languages without an execution
// strategy.
var ErrUnsupportedTarget = fmt.Errorf("no execution strategy for target language")

// Orchestrator schedules dynamic runs. A weighted semaphore bounds how many
// targets execute at once; the default of one keeps telemetry attribution
// unambiguous on a loaded machine.
type Orchestrator struct {
	cfg        config.DynamicConfig
	sem        *semaphore.Weighted
	strategies map[schemas.Language]Strategy
	logger     *zap.Logger
}

func NewOrchestrator(cfg config.DynamicConfig, telemetry TelemetrySource, logger *zap.Logger) *Orchestrator {
	if telemetry == nil {
		telemetry = NewProcfsTelemetry()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	base := runner{cfg: cfg, telemetry: telemetry, logger: logger.Named("dynamic")}
	return &Orchestrator{
		cfg: cfg,
		sem: semaphore.NewWeighted(maxConcurrent),
		strategies: map[schemas.Language]Strategy{
			schemas.LangPython: &InterpretedRunner{runner: base},
			schemas.LangGo:     &BuildRunner{runner: base},
			schemas.LangJava:   &CompileRunner{runner: base},
		},
		logger: logger.Named("dynamic"),
	}
}

// ForLanguage exposes the strategy the orchestrator would use for a language.
func (o *Orchestrator) ForLanguage(lang schemas.Language) (Strategy, bool) {
	s, ok := o.strategies[lang]
	return s, ok
}

// Run executes one target under the configured budget. A timeout or crash of
// the target is not an error: it is a result with partial observations. Only
// scheduling failures (cancellation while queued, unsupported language,
// scratch dir setup) surface as errors.
func (o *Orchestrator) Run(ctx context.Context, path string, lang schemas.Language) (*schemas.DynamicRunResult, error) {
	strategy, ok := o.strategies[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTarget, lang)
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for execution slot: %w", err)
	}
	defer o.sem.Release(1)

	runID := uuid.NewString()
	runDir, err := o.makeRunDir(runID)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(runDir)

	o.logger.Info("Starting dynamic run",
		zap.String("run_id", runID),
		zap.String("target", path),
		zap.String("strategy", strategy.Name()))

	result, err := strategy.Execute(ctx, Target{
		Path:     path,
		Language: lang,
		RunDir:   runDir,
	}, Budget{
		Wall:           o.cfg.Budget,
		SampleInterval: o.cfg.SampleInterval,
	})
	if err != nil {
		return nil, err
	}
	result.RunID = runID

	o.persistLog(runID, result)
	o.logger.Info("Dynamic run finished",
		zap.String("run_id", runID),
		zap.String("termination", string(result.Termination)),
		zap.Int("observations", len(result.Observations)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (o *Orchestrator) makeRunDir(runID string) (string, error) {
	base := o.cfg.WorkDir
	if base == "" {
		base = os.TempDir()
	}
	runDir := filepath.Join(base, "argus-run-"+runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return runDir, nil
}

// persistLog copies the run narrative to the configured log directory before
// the scratch dir is removed.
func (o *Orchestrator) persistLog(runID string, result *schemas.DynamicRunResult) {
	if o.cfg.LogDir == "" || len(result.Log) == 0 {
		return
	}
	if err := os.MkdirAll(o.cfg.LogDir, 0o755); err != nil {
		o.logger.Warn("Cannot create dynamic log directory", zap.Error(err))
		return
	}
	path := filepath.Join(o.cfg.LogDir, runID+".log")
	var buf []byte
	for _, line := range result.Log {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		o.logger.Warn("Cannot persist dynamic run log", zap.Error(err))
	}
}
