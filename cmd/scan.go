package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/obsidiansec/argus/internal/config"
	"github.com/obsidiansec/argus/internal/engine"
	"github.com/obsidiansec/argus/internal/observability"
)

// newScanCmd creates and configures the `scan` command. The config getter
// defers resolution until RunE, after PersistentPreRunE has loaded it.
func newScanCmd(getCfg func() *config.Config) *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Analyzes a source file or project directory for security threats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg := getCfg()
			if cfg == nil {
				return errors.New("configuration was not initialized")
			}
			applyFlagOverrides(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			target := args[0]
			info, err := os.Stat(target)
			if err != nil {
				return fmt.Errorf("cannot stat target %q: %w", target, err)
			}

			eng, err := engine.New(cfg, engine.Components{}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize analysis engine: %w", err)
			}

			var rep *reportSummary
			if info.IsDir() {
				logger.Info("Starting project scan", zap.String("dir", target))
				r, err := eng.AnalyzeProject(ctx, target)
				if err != nil {
					return scanError(err, logger)
				}
				rep = &reportSummary{runID: r.RunID, threats: len(r.Threats), riskScore: r.RiskScore, riskLevel: r.RiskLevel}
			} else {
				logger.Info("Starting file scan", zap.String("file", target))
				r, err := eng.AnalyzeFile(ctx, target)
				if err != nil {
					return scanError(err, logger)
				}
				rep = &reportSummary{runID: r.RunID, threats: len(r.Threats), riskScore: r.RiskScore, riskLevel: r.RiskLevel}
			}

			logger.Info("Scan completed",
				zap.String("runID", rep.runID),
				zap.Int("threats", rep.threats),
				zap.Int("risk_score", rep.riskScore),
				zap.String("risk_level", rep.riskLevel),
			)

			fmt.Fprintf(cmd.OutOrStdout(), "\nScan complete. Run ID: %s\nThreats: %d  Risk: %d (%s)\n",
				rep.runID, rep.threats, rep.riskScore, rep.riskLevel)
			return nil
		},
	}

	// Reporting flags
	scanCmd.Flags().StringP("output", "o", "", "Output file path for the JSON report. If unset, the report goes to stdout.")

	// Analysis override flags.
	scanCmd.Flags().IntP("workers", "j", 0, "Number of concurrent static analysis workers. (Overrides config/env)")
	scanCmd.Flags().Bool("dynamic", false, "Enable sandboxed dynamic execution of the selected entry point.")
	scanCmd.Flags().Bool("no-advisories", false, "Skip the dependency advisory lookup.")
	scanCmd.Flags().String("rules", "", "Path to a custom rule file. (Overrides the embedded rule set)")

	return scanCmd
}

// applyFlagOverrides layers explicitly-set scan flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Report.Output, _ = flags.GetString("output")
	}
	if flags.Changed("workers") {
		cfg.Analysis.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("dynamic") {
		cfg.Analysis.EnableDynamic, _ = flags.GetBool("dynamic")
	}
	if flags.Changed("no-advisories") {
		skip, _ := flags.GetBool("no-advisories")
		cfg.Advisory.Enabled = !skip
	}
	if flags.Changed("rules") {
		cfg.Analysis.RulesPath, _ = flags.GetString("rules")
	}
}

type reportSummary struct {
	runID     string
	threats   int
	riskScore int
	riskLevel string
}

// scanError maps context cancellation to a friendlier message.
func scanError(err error, logger *zap.Logger) error {
	if errors.Is(err, context.Canceled) {
		logger.Warn("Scan aborted gracefully")
		return fmt.Errorf("scan aborted by user signal: %w", err)
	}
	logger.Error("Scan failed", zap.Error(err))
	return err
}
