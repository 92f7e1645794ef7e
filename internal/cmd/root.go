// Package cmd wires the mailbatch command line interface.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hina0118/mailbatch/internal/observability"
	"github.com/hina0118/mailbatch/pkg/jobstate"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// jobGuards serializes job types within this process. Each job type
// gets exactly one guard for the process lifetime.
var jobGuards = jobstate.NewRegistry()

var (
	rootLogLevel string
	rootLogJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "mailbatch",
	Short: "Batch pipeline for mailbox sync, document parsing, and enrichment",
	Long: `mailbatch runs a three-stage mail processing pipeline:

  sync     synchronize mailbox messages into the local mail store
  parse    extract structured documents from stored messages
  enrich   annotate parsed documents via the enrichment API

Each stage is a chunked batch job with progress events, cooperative
cancellation, and per-job-type mutual exclusion. Job parameters come
from a YAML or JSON manifest.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(rootLogLevel, rootLogJSON)
	},
	// Errors are logged once by main with their exit code.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&rootLogJSON, "log-json", false, "Emit logs as JSON lines")
}

// Execute runs the root command. Exit codes other than 0/1 are carried
// through exitError values; main recovers them with ExitCode.
func Execute() error {
	return rootCmd.Execute()
}

// codedError tags an error with the process exit code it should cause.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s (exit code %d)", e.err, e.code)
}

func (e *codedError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &codedError{code: code, err: fmt.Errorf("%s: %w", message, err)}
}

// ExitCode maps an Execute error to the process exit code. nil is 0;
// errors without a coded cause are 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return 1
}

// dataDir returns the per-user mailbatch data directory, honoring
// MAILBATCH_DATA_DIR.
func dataDir() (string, error) {
	if v := strings.TrimSpace(os.Getenv("MAILBATCH_DATA_DIR")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".mailbatch"), nil
}

// runsRootDir returns the run log root under the data dir.
func runsRootDir() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "runs"), nil
}
