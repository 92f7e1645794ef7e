package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/hina0118/mailbatch/internal/bus"
	"github.com/hina0118/mailbatch/internal/observability"
	"github.com/hina0118/mailbatch/pkg/batch"
	"github.com/hina0118/mailbatch/pkg/jobstate"
	"github.com/hina0118/mailbatch/pkg/mailstore"
	"github.com/hina0118/mailbatch/pkg/manifest"
	"github.com/hina0118/mailbatch/pkg/progress"
	"github.com/hina0118/mailbatch/pkg/runlog"
)

// openMailStore opens and migrates the manifest's mail store.
func openMailStore(ctx context.Context, m *manifest.Manifest) (*sql.DB, error) {
	db, err := mailstore.Open(ctx, mailstore.Config{
		Path:        m.Store.Path,
		URL:         m.Store.URL,
		AuthToken:   m.Store.AuthToken,
		BusyTimeout: m.Store.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := mailstore.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// buildEmitter assembles the run's event emitters: a JSONL stream to
// stdout or a file (unless quiet), plus an optional NATS publisher.
// The bus client is returned alongside so the run can also listen for
// remote cancel requests; it is nil without a NATS URL. The returned
// cleanup closes everything the emitter owns, the client included.
func buildEmitter(jobID, channel, outputPath string, quiet bool, natsURL string) (progress.Emitter, *bus.Client, func(), error) {
	var emitters []progress.Emitter
	var cleanups []func()

	if !quiet {
		if outputPath == "" || outputPath == "stdout" {
			emitters = append(emitters, progress.NewJSONLEmitter(os.Stdout, jobID, channel))
		} else {
			f, err := os.Create(outputPath)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
			}
			emitters = append(emitters, progress.NewJSONLEmitter(f, jobID, channel))
			cleanups = append(cleanups, func() { _ = f.Close() })
		}
	}

	var client *bus.Client
	if natsURL != "" {
		var err error
		client, err = bus.Connect(natsURL)
		if err != nil {
			for _, fn := range cleanups {
				fn()
			}
			return nil, nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		emitters = append(emitters, bus.NewEmitter(client, jobID, channel, ""))
		cleanups = append(cleanups, client.Close)
	}

	if len(emitters) == 0 {
		emitters = append(emitters, progress.NopEmitter{})
	}

	multi := progress.NewMultiEmitter(emitters...)
	cleanup := func() {
		_ = multi.Close()
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return multi, client, cleanup, nil
}

// watchBusCancel flags the guard when a cancel request for the job type
// arrives over the bus, so `mailbatch jobs stop` reaches runs in this
// process. A nil client makes it a no-op. The returned func stops the
// subscription.
func watchBusCancel(client *bus.Client, guard *jobstate.Guard, jobType string) func() {
	if client == nil {
		return func() {}
	}
	sub, err := client.SubscribeCancel(jobType, func(req bus.CancelRequest) {
		observability.CLILogger.Warn("cancellation requested over bus; finishing current chunk",
			zap.String("job_type", req.JobType),
			zap.String("reason", req.Reason))
		guard.RequestCancel()
	})
	if err != nil {
		observability.CLILogger.Warn("bus cancel subscription failed", zap.Error(err))
		return func() {}
	}
	return func() { _ = sub.Unsubscribe() }
}

// watchSignals installs cooperative signal handling for a run. The
// first SIGINT/SIGTERM requests a cooperative cancel through the guard;
// a second one cancels the context outright.
func watchSignals(ctx context.Context, guard *jobstate.Guard) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			observability.CLILogger.Warn("cancellation requested; finishing current chunk (interrupt again to abort)")
			guard.RequestCancel()
		}
		select {
		case <-ctx.Done():
		case <-sigCh:
			observability.CLILogger.Warn("aborting run")
			cancel()
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// startRunRecord persists the initial running record for a job run.
// A nil store is allowed and turns bookkeeping into a no-op.
func startRunRecord(store *runlog.Store, runID, jobType, pipeline, manifestPath string) *runlog.RunRecord {
	now := time.Now().UTC()
	rec := &runlog.RunRecord{
		RunID:        runID,
		JobType:      jobType,
		Pipeline:     pipeline,
		State:        runlog.RunStateRunning,
		ManifestPath: manifestPath,
		PID:          os.Getpid(),
		CreatedAt:    now,
		StartedAt:    &now,
	}
	if store != nil {
		rec.EventsPath = store.EventsPath(runID)
		if err := store.Write(rec); err != nil {
			observability.CLILogger.Warn("failed to write run record", zap.Error(err))
		}
	}
	return rec
}

// finishRunRecord updates the record with the run outcome.
func finishRunRecord(store *runlog.Store, rec *runlog.RunRecord, total, success, failed int, cancelled bool, runErr error) {
	now := time.Now().UTC()
	rec.EndedAt = &now
	rec.TotalItems = total
	rec.SuccessCount = success
	rec.FailedCount = failed
	rec.State = runlog.FinalState(cancelled, runErr, success, failed)
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if store != nil {
		if err := store.Write(rec); err != nil {
			observability.CLILogger.Warn("failed to update run record", zap.Error(err))
		}
	}
}

// contextWithTimeout bounds a run's wall clock when the manifest sets a
// job timeout.
func contextWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, func()) {
	return context.WithTimeout(ctx, timeout)
}

// reportJobOutcome finalizes the run record and maps the run outcome to
// the command's error return. Cancellation is a normal outcome.
func reportJobOutcome[O any](store *runlog.Store, rec *runlog.RunRecord, logger *zap.Logger, jobType string, total int, res *batch.Result[O], runErr error) error {
	success, failed := 0, 0
	if res != nil {
		success = res.SuccessCount
		failed = res.FailedCount
	}
	cancelled := runErr == nil && res != nil && res.Processed() < total

	finishRunRecord(store, rec, total, success, failed, cancelled, runErr)

	switch {
	case runErr != nil:
		if errors.Is(runErr, batch.ErrAlreadyRunning) {
			logger.Error("Job type already running", zap.String("job_type", jobType))
			return runErr
		}
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			logger.Warn("Run aborted",
				zap.String("job_type", jobType),
				zap.Int("processed", success+failed),
				zap.Int("total", total))
			return exitError(foundry.ExitSignalInt, "Run aborted", runErr)
		}
		logger.Error("Run failed",
			zap.String("job_type", jobType),
			zap.Error(runErr))
		return exitError(foundry.ExitExternalServiceUnavailable, "Run failed", runErr)
	case cancelled:
		logger.Warn("Run cancelled",
			zap.String("job_type", jobType),
			zap.Int("processed", success+failed),
			zap.Int("total", total))
		return nil
	default:
		logger.Info("Run complete",
			zap.String("job_type", jobType),
			zap.Int("success", success),
			zap.Int("failed", failed))
		return nil
	}
}

// openRunStore opens the run log, or returns nil (with a warning) when
// the data dir cannot be resolved. Run bookkeeping is best effort and
// never blocks a job.
func openRunStore() *runlog.Store {
	root, err := runsRootDir()
	if err != nil {
		observability.CLILogger.Warn("run log disabled", zap.Error(err))
		return nil
	}
	return runlog.NewStore(root)
}
