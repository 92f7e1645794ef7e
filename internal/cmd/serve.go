package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hina0118/mailbatch/internal/bus"
	"github.com/hina0118/mailbatch/internal/config"
	"github.com/hina0118/mailbatch/internal/observability"
	"github.com/hina0118/mailbatch/internal/server"
	"github.com/hina0118/mailbatch/internal/server/handlers"
	"github.com/hina0118/mailbatch/pkg/runlog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status HTTP server",
	Long: `Run the status server exposing health probes, build info, job
guard state, and the recorded run log over HTTP.

Example:
  mailbatch serve
  mailbatch serve --host 0.0.0.0 --port 9090`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
}

// runLogHealthChecker verifies the run log root is reachable.
type runLogHealthChecker struct {
	store *runlog.Store
}

func (c runLogHealthChecker) CheckHealth(ctx context.Context) error {
	_, err := c.store.List()
	return err
}

// busHealthChecker verifies the NATS connection is established.
type busHealthChecker struct {
	client *bus.Client
}

func (c busHealthChecker) CheckHealth(ctx context.Context) error {
	if !c.client.Healthy() {
		return fmt.Errorf("nats connection %s", c.client.Conn().Status())
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	overrides := map[string]any{}
	if serveHost != "" {
		overrides["server"] = map[string]any{"host": serveHost}
	}
	if servePort != 0 {
		srv, _ := overrides["server"].(map[string]any)
		if srv == nil {
			srv = map[string]any{}
		}
		srv["port"] = servePort
		overrides["server"] = srv
	}

	cfg, err := config.Load(ctx, overrides)
	if err != nil {
		return err
	}

	logger := observability.NewServiceLogger(cfg.Logging.Level, cfg.Logging.File)
	defer func() { _ = logger.Sync() }()

	runsRoot := cfg.Runs.Dir
	if runsRoot == "" {
		runsRoot, err = runsRootDir()
		if err != nil {
			return err
		}
	}
	store := runlog.NewStore(runsRoot)

	handlers.SetVersionInfo(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	handlers.InitHealthManager(versionInfo.Version)
	handlers.GetHealthManager().RegisterChecker("runlog", runLogHealthChecker{store: store})

	opts := []server.Option{
		server.WithJobRegistry(jobGuards),
		server.WithRunStore(store),
		server.WithLogger(logger),
	}

	// With a bus configured, cancel requests reach job runs in other
	// processes instead of only flagging this process's guards.
	if cfg.Bus.Enabled && cfg.Bus.URL != "" {
		busClient, err := bus.Connect(cfg.Bus.URL)
		if err != nil {
			logger.Warn("bus unavailable; cancel relay disabled",
				zap.String("url", cfg.Bus.URL), zap.Error(err))
		} else {
			defer busClient.Close()
			handlers.GetHealthManager().RegisterChecker("bus", busHealthChecker{client: busClient})
			opts = append(opts, server.WithCancelPublisher(busClient))
		}
	}

	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("reason", "context cancelled"))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
