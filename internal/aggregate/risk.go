package aggregate

import (
	"math"

	"github.com/obsidiansec/argus/api/schemas"
)

// baseWeight reflects how dangerous a category is when confirmed. Weights sit
// on a 0-10 scale; severity thresholds below carve that scale up.
func baseWeight(c schemas.Category) float64 {
	switch c {
	case schemas.CategoryCommandExecution, schemas.CategoryCodeEval:
		return 10
	case schemas.CategoryExfiltration, schemas.CategorySQLInjection:
		return 9
	case schemas.CategoryFileTampering, schemas.CategoryVulnerableDep:
		return 7
	case schemas.CategoryNetworkSocket, schemas.CategoryCredentials:
		return 6
	case schemas.CategoryObfuscation, schemas.CategoryMemoryAbuse:
		return 5
	case schemas.CategoryParseError:
		return 1
	default:
		return 4
	}
}

// Score assigns a severity from the category weight, the mean evidence
// confidence, and a corroboration boost that grows with evidence count. More
// corroborating evidence never lowers the severity.
func Score(t *schemas.Threat) schemas.Severity {
	if len(t.Evidence) == 0 {
		return schemas.SeverityInfo
	}
	var sum float64
	for _, ev := range t.Evidence {
		sum += ev.Confidence
	}
	mean := sum / float64(len(t.Evidence))
	boost := 1 + math.Log2(1+float64(len(t.Evidence)))/4
	score := baseWeight(t.Category) * mean * boost
	if score > 10 {
		score = 10
	}

	t.Confidence = mean
	switch {
	case score >= 9:
		return schemas.SeverityCritical
	case score >= 7:
		return schemas.SeverityHigh
	case score >= 4.5:
		return schemas.SeverityMedium
	case score >= 2:
		return schemas.SeverityLow
	default:
		return schemas.SeverityInfo
	}
}

// ScoreAll scores every threat in place.
func ScoreAll(threats []schemas.Threat) {
	for i := range threats {
		threats[i].Severity = Score(&threats[i])
	}
}

// RiskScore condenses a scored threat list into the 0-100 run-level number
// used in report summaries.
func RiskScore(threats []schemas.Threat) int {
	score := 0
	for _, t := range threats {
		switch t.Severity {
		case schemas.SeverityCritical:
			score += 30
		case schemas.SeverityHigh:
			score += 15
		case schemas.SeverityMedium:
			score += 5
		case schemas.SeverityLow:
			score += 1
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

// RiskLevel names the run-level score band.
func RiskLevel(score int) string {
	switch {
	case score >= 70:
		return "critical"
	case score >= 40:
		return "high"
	case score >= 15:
		return "medium"
	case score > 0:
		return "low"
	default:
		return "clean"
	}
}
