package cmd

import (
	"errors"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hina0118/mailbatch/internal/observability"
	"github.com/hina0118/mailbatch/pkg/batch"
	"github.com/hina0118/mailbatch/pkg/jobs/enrich"
	"github.com/hina0118/mailbatch/pkg/mailstore"
	"github.com/hina0118/mailbatch/pkg/manifest"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Annotate parsed documents via the enrichment API",
	Long: `Send parsed documents to the enrichment API for categorization.

The engine's chunks are re-split to the API's own request-group limit,
and calls are paced by the manifest's requests_per_second. A failed
API call fails that request group's items; the run continues.

Example:
  mailbatch enrich --job pipeline.yaml
  mailbatch enrich --job pipeline.yaml --quiet`,
	RunE: runEnrich,
}

var (
	enrichJobPath string
	enrichOutput  string
	enrichQuiet   bool
	enrichNATSURL string
)

func init() {
	rootCmd.AddCommand(enrichCmd)

	enrichCmd.Flags().StringVarP(&enrichJobPath, "job", "j", "", "Path to job manifest (required)")
	enrichCmd.Flags().StringVarP(&enrichOutput, "output", "o", "", "Write events to a file instead of stdout")
	enrichCmd.Flags().BoolVarP(&enrichQuiet, "quiet", "q", false, "Suppress progress events")
	enrichCmd.Flags().StringVar(&enrichNATSURL, "nats-url", "", "Also publish events to this NATS server")

	_ = enrichCmd.MarkFlagRequired("job")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	m, err := manifest.Load(enrichJobPath)
	if err != nil {
		logger.Error("Failed to load manifest",
			zap.String("path", enrichJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	if m.Enrich.Endpoint == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest",
			errors.New("enrich.endpoint is required for enrich"))
	}

	apiKey := m.Enrich.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("MAILBATCH_ENRICH_API_KEY")
	}

	client, err := enrich.NewHTTPClient(enrich.HTTPClientConfig{
		Endpoint: m.Enrich.Endpoint,
		APIKey:   apiKey,
		MaxBatch: m.Enrich.MaxBatch,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid enrichment client config", err)
	}
	defer func() { _ = client.Close() }()

	runID := uuid.New().String()

	db, err := openMailStore(ctx, m)
	if err != nil {
		logger.Error("Failed to open mail store", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to open mail store", err)
	}
	defer func() { _ = db.Close() }()

	docs, err := mailstore.DocumentsMissingEnrichment(ctx, db, m.Jobs.Enrich.Limit)
	if err != nil {
		logger.Error("Failed to select documents", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to select documents", err)
	}

	emitter, busClient, cleanup, err := buildEmitter(runID, enrich.EventChannelName, enrichOutput, enrichQuiet, enrichNATSURL)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create event output", err)
	}
	defer cleanup()

	guard := jobGuards.Guard("enrich")
	stopBusCancel := watchBusCancel(busClient, guard, "enrich")
	defer stopBusCancel()
	runCtx, stop := watchSignals(ctx, guard)
	defer stop()
	if t := m.Jobs.Enrich.Timeout; t > 0 {
		var cancelTimeout func()
		runCtx, cancelTimeout = contextWithTimeout(runCtx, t)
		defer cancelTimeout()
	}

	store := openRunStore()
	rec := startRunRecord(store, runID, "enrich", m.Name, enrichJobPath)

	logger.Info("Starting enrich",
		zap.String("run_id", runID),
		zap.Int("documents", len(docs)),
		zap.Int("batch_size", m.Jobs.Enrich.BatchSize),
		zap.Int("max_api_batch", m.Enrich.MaxBatch),
		zap.Float64("requests_per_second", m.Enrich.RequestsPerSecond))

	task := enrich.New(logger, m.Enrich.RequestsPerSecond)
	runner := batch.NewRunner[mailstore.DocumentRow, enrich.Enriched, *enrich.EnrichContext](
		task, m.Jobs.Enrich.BatchSize, m.Jobs.Enrich.Delay()).WithLogger(logger)

	res, runErr := batch.RunExclusive(runCtx, guard, runner, emitter, docs,
		&enrich.EnrichContext{DB: db, Client: client})

	return reportJobOutcome(store, rec, logger, "enrich", len(docs), res, runErr)
}
