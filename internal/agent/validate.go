package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/obsidiansec/argus/api/schemas"
)

// ErrRejectedOutput marks model output that failed validation. The output is
// rejected whole, never coerced: a response that is partly wrong cannot be
// trusted in the parts that look right.
var ErrRejectedOutput = errors.New("model output rejected")

// ModelFinding is the shape the model must produce.
type ModelFinding struct {
	File        string  `json:"file"`
	Line        int     `json:"line"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// ValidateFindings decodes and checks a model response against the analyzed
// file set. Every finding must reference a known category, a file that was
// actually sent, and a confidence in [0,1].
func ValidateFindings(raw string, analyzed map[string]bool, maxFindings int) ([]schemas.Finding, error) {
	raw = stripCodeFence(raw)

	var parsed []ModelFinding
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("%w: not a finding array: %v", ErrRejectedOutput, err)
	}
	if maxFindings > 0 && len(parsed) > maxFindings {
		return nil, fmt.Errorf("%w: %d findings exceeds limit %d", ErrRejectedOutput, len(parsed), maxFindings)
	}

	out := make([]schemas.Finding, 0, len(parsed))
	for i, mf := range parsed {
		category := schemas.Category(mf.Category)
		switch {
		case !schemas.KnownCategory(category):
			return nil, fmt.Errorf("%w: finding %d has unknown category %q", ErrRejectedOutput, i, mf.Category)
		case mf.Confidence < 0 || mf.Confidence > 1:
			return nil, fmt.Errorf("%w: finding %d has confidence %v outside [0,1]", ErrRejectedOutput, i, mf.Confidence)
		case !analyzed[mf.File]:
			return nil, fmt.Errorf("%w: finding %d references unanalyzed file %q", ErrRejectedOutput, i, mf.File)
		case mf.Line < 0:
			return nil, fmt.Errorf("%w: finding %d has negative line %d", ErrRejectedOutput, i, mf.Line)
		}
		out = append(out, schemas.Finding{
			Category:    category,
			File:        mf.File,
			Line:        mf.Line,
			Description: mf.Description,
			Confidence:  mf.Confidence,
			Detector:    "model:gemini",
		})
	}
	return out, nil
}

// stripCodeFence tolerates the one formatting tic models add around JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
