// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/obsidiansec/argus/internal/config"
	"github.com/obsidiansec/argus/internal/observability"
)

// NewRootCommand builds the base command tree. A fresh instance per
// invocation keeps flag state from leaking between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:   "argus",
		Short: "Argus is a static and dynamic security analyzer for source code.",
		// Version is dynamically set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Runs before any subcommand, setting up config and logging.
			loaded, err := config.Load(cfgFile)
			if err != nil {
				// Initialize a fallback logger so subsequent error paths can log.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "argus"})
				return err
			}
			cfg = loaded

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting Argus", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./argus.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newScanCmd(func() *config.Config { return cfg }))
	rootCmd.AddCommand(newRulesCmd())

	return rootCmd
}

// Execute runs the root command with the given signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Use the logger if available, otherwise fall back to stderr.
		if logger := observability.GetLogger(); logger != nil && logger != zap.NewNop() {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}
