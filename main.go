package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/obsidiansec/argus/cmd"
	"github.com/obsidiansec/argus/internal/observability"
)

// main is the entry point of the application.
func main() {
	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM)
	// for graceful shutdown. A cancelled context propagates through the
	// engine and terminates any sandboxed process groups.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()

	if err != nil {
		// cmd.Execute handles the logging, we just handle the exit code.
		if errors.Is(err, context.Canceled) {
			os.Exit(0) // Exit cleanly on graceful shutdown
		}
		os.Exit(1)
	}
}
