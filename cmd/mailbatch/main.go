package main

import (
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hina0118/mailbatch/internal/cmd"
	"github.com/hina0118/mailbatch/internal/observability"
)

// Build metadata, injected via -ldflags.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	// A local .env is optional; absence is not an error.
	_ = godotenv.Load()

	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		observability.ExitWithCode(observability.CLILogger, cmd.ExitCode(err),
			"command failed", zap.Error(err))
	}
}
