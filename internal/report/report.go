// Package report renders the final threat list.
package report

import (
	"context"
	"time"

	"github.com/obsidiansec/argus/api/schemas"
)

// Report is the canonical run output handed to a Sink.
type Report struct {
	RunID         string              `json:"run_id"`
	GeneratedAt   time.Time           `json:"generated_at"`
	Targets       []string            `json:"targets"`
	Threats       []schemas.Threat    `json:"threats"`
	RiskScore     int                 `json:"risk_score"`
	RiskLevel     string              `json:"risk_level"`
	Advisories    []schemas.Finding   `json:"advisories,omitempty"`
	ExecutionLogs map[string][]string `json:"execution_logs,omitempty"`
}

// Sink consumes one finished report.
type Sink interface {
	Write(ctx context.Context, r *Report) error
}
