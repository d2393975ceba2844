package schemas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ThreatSource tags which side of the pipeline produced a threat.
type ThreatSource string

const (
	SourceStatic  ThreatSource = "static"
	SourceDynamic ThreatSource = "dynamic"
	SourceModel   ThreatSource = "model"
	SourceMerged  ThreatSource = "merged"
)

// Evidence is a pointer-free snapshot of a Finding or an ExecutionObservation
// plus a one-line justification. It carries values, never live references, so
// a Threat can outlive the analysis structures that produced it.
type Evidence struct {
	Summary    string  `json:"summary"`
	File       string  `json:"file,omitempty"`
	Line       int     `json:"line,omitempty"`
	Detector   string  `json:"detector"`
	Confidence float64 `json:"confidence"`
}

// Threat is the canonical deduplicated unit exposed to reporting. Its ID is
// derived from category and location so repeated runs on unchanged input
// reproduce the same ID. After the risk assessor scores it, the only
// permitted mutation is appending Evidence during a merge.
type Threat struct {
	ID         string       `json:"id"`
	Category   Category     `json:"category"`
	Severity   Severity     `json:"severity"`
	Confidence float64      `json:"confidence"`
	Evidence   []Evidence   `json:"evidence"`
	Source     ThreatSource `json:"source"`
	File       string       `json:"file,omitempty"`
	Line       int          `json:"line,omitempty"`
}

// ThreatID derives the stable identifier for a (category, file, line bucket)
// triple. The bucket width must match the aggregator's proximity grouping so
// that IDs stay stable across re-aggregation.
func ThreatID(category Category, file string, lineBucket int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", category, file, lineBucket)))
	return hex.EncodeToString(sum[:])[:16]
}

// NewThreat constructs a threat with its derived ID. It returns an error when
// no evidence is supplied; every threat must be able to justify itself.
func NewThreat(category Category, file string, lineBucket int, source ThreatSource, evidence ...Evidence) (*Threat, error) {
	if len(evidence) == 0 {
		return nil, fmt.Errorf("threat %s at %s requires at least one piece of evidence", category, file)
	}
	return &Threat{
		ID:       ThreatID(category, file, lineBucket),
		Category: category,
		Source:   source,
		File:     file,
		Line:     evidence[0].Line,
		Evidence: append([]Evidence(nil), evidence...),
	}, nil
}

// EvidenceFromFinding snapshots a finding into evidence form.
func EvidenceFromFinding(f Finding, justification string) Evidence {
	if justification == "" {
		justification = f.Description
	}
	return Evidence{
		Summary:    justification,
		File:       f.File,
		Line:       f.Line,
		Detector:   f.Detector,
		Confidence: f.Confidence,
	}
}
