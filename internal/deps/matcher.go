package deps

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/obsidiansec/argus/api/schemas"
)

// AdvisorySource answers batched vulnerability lookups. Results are keyed by
// DependencyKey.
type AdvisorySource interface {
	Query(ctx context.Context, deps []schemas.Dependency) (map[string][]schemas.Advisory, error)
}

// DependencyKey identifies one (ecosystem, package, version) triple in query
// results.
func DependencyKey(d schemas.Dependency) string {
	return d.Ecosystem + "|" + d.Name + "|" + d.Version
}

// LookupError wraps advisory source failures. Lookup failures never abort the
// run; callers log the error and omit dependency findings.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string { return "advisory lookup failed: " + e.Err.Error() }
func (e *LookupError) Unwrap() error { return e.Err }

// Matcher checks declared dependencies against an advisory source.
type Matcher struct {
	source AdvisorySource
	logger *zap.Logger
}

func NewMatcher(source AdvisorySource, logger *zap.Logger) *Matcher {
	return &Matcher{source: source, logger: logger.Named("deps")}
}

// Match queries the advisory source and returns one vulnerable-dependency
// finding per (dependency, advisory) pair whose version falls in the affected
// range. An empty range means the source already version-filtered the result.
func (m *Matcher) Match(ctx context.Context, deps []schemas.Dependency) ([]schemas.Finding, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	advisories, err := m.source.Query(ctx, deps)
	if err != nil {
		return nil, &LookupError{Err: err}
	}

	var findings []schemas.Finding
	for _, d := range deps {
		for _, adv := range advisories[DependencyKey(d)] {
			if !versionAffected(d.Version, adv.AffectedRange) {
				continue
			}
			findings = append(findings, schemas.Finding{
				Category: schemas.CategoryVulnerableDep,
				File:     d.Source,
				Description: fmt.Sprintf("%s %s is affected by %s: %s",
					d.Name, d.Version, adv.ID, adv.Summary),
				Confidence: advisoryConfidence(adv.Severity),
				Detector:   "advisory:" + adv.ID,
			})
		}
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].Detector < findings[j].Detector
	})
	m.logger.Info("Dependency advisory check complete",
		zap.Int("dependencies", len(deps)), zap.Int("findings", len(findings)))
	return findings, nil
}

// versionAffected checks a version against a semver constraint range.
// Non-semver versions and unparseable ranges degrade to exact string match.
func versionAffected(version, affectedRange string) bool {
	if affectedRange == "" {
		return true
	}
	v, verr := semver.NewVersion(version)
	c, cerr := semver.NewConstraint(affectedRange)
	if verr != nil || cerr != nil {
		return version == affectedRange
	}
	return c.Check(v)
}

func advisoryConfidence(s schemas.Severity) float64 {
	switch s {
	case schemas.SeverityCritical:
		return 0.95
	case schemas.SeverityHigh:
		return 0.9
	case schemas.SeverityMedium:
		return 0.7
	case schemas.SeverityLow:
		return 0.5
	default:
		return 0.6
	}
}
