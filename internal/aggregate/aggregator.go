// Package aggregate merges findings from every detector into the canonical
// deduplicated threat list and assigns each threat a severity.
package aggregate

import (
	"sort"

	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
)

// LineProximity is the grouping bucket width: findings of the same category
// in the same file within this many lines collapse into one threat.
const LineProximity = 5

// lineBucket maps a line number onto its proximity bucket.
func lineBucket(line int) int {
	if line < 0 {
		line = 0
	}
	return line / LineProximity
}

// observationCategory maps a dynamic observation kind into the shared threat
// vocabulary.
func observationCategory(kind schemas.ObservationKind) schemas.Category {
	switch kind {
	case schemas.ObsNetwork:
		return schemas.CategoryExfiltration
	case schemas.ObsFile:
		return schemas.CategoryFileTampering
	case schemas.ObsMemory:
		return schemas.CategoryMemoryAbuse
	default: // syscall, process
		return schemas.CategoryCommandExecution
	}
}

// dynamicObservationConfidence reflects that an observed behavior actually
// happened; it is not an inference.
const dynamicObservationConfidence = 0.9

// Aggregator folds static findings, dynamic observations, and validated model
// findings into threats. Aggregation is idempotent: re-aggregating its own
// output-equivalent input yields the same threats.
type Aggregator struct {
	logger *zap.Logger
}

func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{logger: logger.Named("aggregate")}
}

// Aggregate groups everything by (category, file, line bucket). Inputs are
// sorted up front so the result does not depend on detector completion order.
func (a *Aggregator) Aggregate(static []schemas.Finding, dyn *schemas.DynamicRunResult, model []schemas.Finding) []schemas.Threat {
	groups := make(map[string]*schemas.Threat)

	a.foldFindings(groups, static, schemas.SourceStatic)
	a.foldDynamic(groups, dyn)
	a.foldFindings(groups, model, schemas.SourceModel)

	out := make([]schemas.Threat, 0, len(groups))
	for _, t := range groups {
		sort.Slice(t.Evidence, func(i, j int) bool {
			if t.Evidence[i].Line != t.Evidence[j].Line {
				return t.Evidence[i].Line < t.Evidence[j].Line
			}
			return t.Evidence[i].Detector < t.Evidence[j].Detector
		})
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].ID < out[j].ID
	})
	a.logger.Debug("Aggregation complete",
		zap.Int("static", len(static)), zap.Int("model", len(model)), zap.Int("threats", len(out)))
	return out
}

func (a *Aggregator) foldFindings(groups map[string]*schemas.Threat, findings []schemas.Finding, source schemas.ThreatSource) {
	sorted := make([]schemas.Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].File != sorted[j].File {
			return sorted[i].File < sorted[j].File
		}
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].Detector < sorted[j].Detector
	})

	for _, f := range sorted {
		key := schemas.ThreatID(f.Category, f.File, lineBucket(f.Line))
		ev := schemas.EvidenceFromFinding(f, "")
		if existing, ok := groups[key]; ok {
			a.merge(existing, source, ev)
			continue
		}
		t, err := schemas.NewThreat(f.Category, f.File, lineBucket(f.Line), source, ev)
		if err != nil {
			continue
		}
		groups[key] = t
	}
}

func (a *Aggregator) foldDynamic(groups map[string]*schemas.Threat, dyn *schemas.DynamicRunResult) {
	if dyn == nil {
		return
	}
	for _, obs := range dyn.Observations {
		category := observationCategory(obs.Kind)
		ev := schemas.Evidence{
			Summary:    obs.Summary(),
			File:       dyn.Target,
			Detector:   "dynamic:" + string(obs.Kind),
			Confidence: dynamicObservationConfidence,
		}
		// An observation has no line; it attaches to an existing
		// same-category threat in the executed file, else buckets at zero.
		if key, ok := a.sameCategoryThreat(groups, category, dyn.Target); ok {
			a.merge(groups[key], schemas.SourceDynamic, ev)
			continue
		}
		key := schemas.ThreatID(category, dyn.Target, 0)
		if existing, ok := groups[key]; ok {
			a.merge(existing, schemas.SourceDynamic, ev)
			continue
		}
		t, err := schemas.NewThreat(category, dyn.Target, 0, schemas.SourceDynamic, ev)
		if err != nil {
			continue
		}
		groups[key] = t
	}
}

// sameCategoryThreat finds the deterministic first threat of the category in
// the file, preferring the lowest line.
func (a *Aggregator) sameCategoryThreat(groups map[string]*schemas.Threat, category schemas.Category, file string) (string, bool) {
	bestKey := ""
	bestLine := -1
	for key, t := range groups {
		if t.Category != category || t.File != file {
			continue
		}
		if bestLine == -1 || t.Line < bestLine || (t.Line == bestLine && key < bestKey) {
			bestKey, bestLine = key, t.Line
		}
	}
	return bestKey, bestKey != ""
}

// merge appends evidence and widens the source tag when detectors from
// different pipeline sides corroborate the same threat.
func (a *Aggregator) merge(t *schemas.Threat, source schemas.ThreatSource, ev schemas.Evidence) {
	for _, existing := range t.Evidence {
		if existing == ev {
			return
		}
	}
	t.Evidence = append(t.Evidence, ev)
	if t.Source != source {
		t.Source = schemas.SourceMerged
	}
}
