package agent

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
	"github.com/obsidiansec/argus/internal/config"
)

const analysisSystemPrompt = `You are a static analysis assistant. Analyze the provided source excerpts and
dynamic execution digests for malicious or dangerous behavior: command
execution, code evaluation, SQL injection, data exfiltration, network
sockets, file tampering, memory abuse, hardcoded credentials, obfuscation.
Respond with a JSON array of findings, each an object with keys "file",
"line", "category", "description", "confidence" (0 to 1). Use only the listed
category names. Report nothing speculative. Respond with the JSON array and
nothing else.`

// AgentResult is the outcome of one model analysis pass.
type AgentResult struct {
	Targets  []string
	Findings []schemas.Finding
	CacheHit bool
}

// Orchestrator runs the model stage: pick targets, assemble the payload,
// consult the cache, call the model, validate.
type Orchestrator struct {
	cfg    config.AgentConfig
	client LLMClient
	cache  Cache
	redact []*regexp.Regexp
	logger *zap.Logger
}

func NewOrchestrator(cfg config.AgentConfig, client LLMClient, cache Cache, logger *zap.Logger) *Orchestrator {
	if cache == nil {
		cache = NewMemoryCache(cfg.CacheTTL)
	}
	return &Orchestrator{
		cfg:    cfg,
		client: client,
		cache:  cache,
		redact: CompileRedactions(cfg.Redact),
		logger: logger.Named("agent"),
	}
}

// AnalyzeProject selects up to MaxTargets files, sends their excerpts plus
// the dynamic digest to the model, and returns validated findings. Rejected
// model output surfaces as ErrRejectedOutput; the caller degrades to
// static+dynamic results.
func (o *Orchestrator) AnalyzeProject(ctx context.Context, files []SourceFile, dyn *schemas.DynamicRunResult) (*AgentResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to analyze")
	}

	targets := SelectTargets(ctx, o.client, files, o.cfg.MaxTargets, o.logger)
	payload := BuildPayload(targets, dyn, o.cfg.MaxFileChars, o.redact)
	fingerprint := payload.Fingerprint()

	result := &AgentResult{Targets: make([]string, 0, len(targets))}
	analyzed := make(map[string]bool, len(targets))
	for _, t := range targets {
		result.Targets = append(result.Targets, t.Path)
		analyzed[t.Path] = true
	}

	if cached, ok := o.cache.Get(fingerprint); ok {
		findings, err := ValidateFindings(cached, analyzed, o.cfg.MaxFindings)
		if err == nil {
			o.logger.Info("Model analysis served from cache",
				zap.String("fingerprint", fingerprint[:12]), zap.Int("findings", len(findings)))
			result.Findings = findings
			result.CacheHit = true
			return result, nil
		}
		// A stale entry that no longer validates falls through to the model.
	}

	userPrompt, err := payload.Marshal()
	if err != nil {
		return nil, err
	}
	resp, err := o.client.GenerateResponse(ctx, GenerationRequest{
		SystemPrompt: analysisSystemPrompt,
		UserPrompt:   userPrompt,
		ForceJSON:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}

	findings, err := ValidateFindings(resp, analyzed, o.cfg.MaxFindings)
	if err != nil {
		o.logger.Warn("Model output rejected", zap.Error(err))
		return nil, err
	}

	o.cache.Put(fingerprint, resp)
	o.logger.Info("Model analysis complete",
		zap.Int("targets", len(targets)), zap.Int("findings", len(findings)))
	result.Findings = findings
	return result, nil
}
