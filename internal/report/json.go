package report

import (
	"context"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var reportJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONSink renders reports as indented JSON to a file, or stdout when no
// path is configured.
type JSONSink struct {
	path   string
	out    io.Writer // overrides path when set, used by tests
	logger *zap.Logger
}

func NewJSONSink(path string, logger *zap.Logger) *JSONSink {
	return &JSONSink{path: path, logger: logger.Named("report")}
}

func (s *JSONSink) Write(ctx context.Context, r *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := reportJSON.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')

	w := s.out
	switch {
	case w != nil:
	case s.path == "":
		w = os.Stdout
	default:
		f, err := os.Create(s.path)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	s.logger.Info("Report written",
		zap.String("run_id", r.RunID),
		zap.Int("threats", len(r.Threats)),
		zap.Int("risk_score", r.RiskScore))
	return nil
}
