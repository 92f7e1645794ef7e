package cmd

import (
	"errors"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hina0118/mailbatch/internal/observability"
	"github.com/hina0118/mailbatch/pkg/batch"
	"github.com/hina0118/mailbatch/pkg/jobs/mailsync"
	"github.com/hina0118/mailbatch/pkg/mailbox"
	"github.com/hina0118/mailbatch/pkg/manifest"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize mailbox messages into the mail store",
	Long: `Synchronize a mailbox folder into the local mail store.

Messages already stored with an unchanged size are skipped without a
fetch. The run emits JSONL progress events and can be cancelled with a
single interrupt; the current chunk always finishes.

Example:
  mailbatch sync --job pipeline.yaml
  mailbatch sync --job pipeline.yaml --output events.jsonl
  mailbatch sync --job pipeline.yaml --quiet`,
	RunE: runSync,
}

var (
	syncJobPath string
	syncOutput  string
	syncQuiet   bool
	syncNATSURL string
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&syncJobPath, "job", "j", "", "Path to job manifest (required)")
	syncCmd.Flags().StringVarP(&syncOutput, "output", "o", "", "Write events to a file instead of stdout")
	syncCmd.Flags().BoolVarP(&syncQuiet, "quiet", "q", false, "Suppress progress events")
	syncCmd.Flags().StringVar(&syncNATSURL, "nats-url", "", "Also publish events to this NATS server")

	_ = syncCmd.MarkFlagRequired("job")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	m, err := manifest.Load(syncJobPath)
	if err != nil {
		logger.Error("Failed to load manifest",
			zap.String("path", syncJobPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	if m.Mailbox.Dir == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest",
			errors.New("mailbox.dir is required for sync"))
	}

	runID := uuid.New().String()

	db, err := openMailStore(ctx, m)
	if err != nil {
		logger.Error("Failed to open mail store", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to open mail store", err)
	}
	defer func() { _ = db.Close() }()

	prov, err := mailbox.NewDirProvider(m.Mailbox.Dir)
	if err != nil {
		logger.Error("Failed to open mailbox", zap.Error(err))
		return exitError(foundry.ExitFileNotFound, "Failed to open mailbox", err)
	}
	defer func() { _ = prov.Close() }()

	refs, err := mailbox.ListAll(ctx, prov, m.Mailbox.Folder, m.Mailbox.PageSize)
	if err != nil {
		logger.Error("Failed to list mailbox", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list mailbox", err)
	}
	if limit := m.Jobs.Sync.Limit; limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}

	emitter, busClient, cleanup, err := buildEmitter(runID, mailsync.EventChannelName, syncOutput, syncQuiet, syncNATSURL)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create event output", err)
	}
	defer cleanup()

	guard := jobGuards.Guard("sync")
	stopBusCancel := watchBusCancel(busClient, guard, "sync")
	defer stopBusCancel()
	runCtx, stop := watchSignals(ctx, guard)
	defer stop()
	if t := m.Jobs.Sync.Timeout; t > 0 {
		var cancelTimeout func()
		runCtx, cancelTimeout = contextWithTimeout(runCtx, t)
		defer cancelTimeout()
	}

	store := openRunStore()
	rec := startRunRecord(store, runID, "sync", m.Name, syncJobPath)

	logger.Info("Starting sync",
		zap.String("run_id", runID),
		zap.String("folder", m.Mailbox.Folder),
		zap.Int("messages", len(refs)),
		zap.Int("batch_size", m.Jobs.Sync.BatchSize))

	task := mailsync.New(logger)
	runner := batch.NewRunner[mailbox.MessageRef, mailsync.Synced, *mailsync.SyncContext](
		task, m.Jobs.Sync.BatchSize, m.Jobs.Sync.Delay()).WithLogger(logger)

	res, runErr := batch.RunExclusive(runCtx, guard, runner, emitter, refs,
		&mailsync.SyncContext{DB: db, Provider: prov, RunID: runID})

	return reportJobOutcome(store, rec, logger, "sync", len(refs), res, runErr)
}
