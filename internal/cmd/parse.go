package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hina0118/mailbatch/internal/observability"
	"github.com/hina0118/mailbatch/pkg/batch"
	"github.com/hina0118/mailbatch/pkg/jobs/docparse"
	"github.com/hina0118/mailbatch/pkg/mailstore"
	"github.com/hina0118/mailbatch/pkg/manifest"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Extract structured documents from stored messages",
	Long: `Parse synced messages into structured document records.

Parsing applies the manifest's vendor grammars to each message that has
no document yet. Messages whose sender matches no grammar are counted
as failed items without aborting the run.

Example:
  mailbatch parse --job pipeline.yaml
  mailbatch parse --job pipeline.yaml --quiet`,
	RunE: runParse,
}

var (
	parseJobPath string
	parseOutput  string
	parseQuiet   bool
	parseNATSURL string
)

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVarP(&parseJobPath, "job", "j", "", "Path to job manifest (required)")
	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", "", "Write events to a file instead of stdout")
	parseCmd.Flags().BoolVarP(&parseQuiet, "quiet", "q", false, "Suppress progress events")
	parseCmd.Flags().StringVar(&parseNATSURL, "nats-url", "", "Also publish events to this NATS server")

	_ = parseCmd.MarkFlagRequired("job")
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	m, err := manifest.Load(parseJobPath)
	if err != nil {
		logger.Error("Failed to load manifest",
			zap.String("path", parseJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}

	grammars, err := m.CompileGrammars()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid grammars", err)
	}

	runID := uuid.New().String()

	db, err := openMailStore(ctx, m)
	if err != nil {
		logger.Error("Failed to open mail store", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to open mail store", err)
	}
	defer func() { _ = db.Close() }()

	msgs, err := mailstore.MessagesMissingDocuments(ctx, db, m.Jobs.Parse.Limit)
	if err != nil {
		logger.Error("Failed to select messages", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to select messages", err)
	}

	emitter, busClient, cleanup, err := buildEmitter(runID, docparse.EventChannelName, parseOutput, parseQuiet, parseNATSURL)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create event output", err)
	}
	defer cleanup()

	guard := jobGuards.Guard("parse")
	stopBusCancel := watchBusCancel(busClient, guard, "parse")
	defer stopBusCancel()
	runCtx, stop := watchSignals(ctx, guard)
	defer stop()
	if t := m.Jobs.Parse.Timeout; t > 0 {
		var cancelTimeout func()
		runCtx, cancelTimeout = contextWithTimeout(runCtx, t)
		defer cancelTimeout()
	}

	store := openRunStore()
	rec := startRunRecord(store, runID, "parse", m.Name, parseJobPath)

	logger.Info("Starting parse",
		zap.String("run_id", runID),
		zap.Int("messages", len(msgs)),
		zap.Strings("vendors", grammars.Vendors()),
		zap.Int("batch_size", m.Jobs.Parse.BatchSize))

	task := docparse.New(logger)
	runner := batch.NewRunner[mailstore.MessageRow, docparse.Parsed, *docparse.ParseContext](
		task, m.Jobs.Parse.BatchSize, m.Jobs.Parse.Delay()).WithLogger(logger)

	res, runErr := batch.RunExclusive(runCtx, guard, runner, emitter, msgs,
		&docparse.ParseContext{DB: db, Grammars: grammars})

	return reportJobOutcome(store, rec, logger, "parse", len(msgs), res, runErr)
}
