package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/teemow/inboxagent/internal/agent"
	"github.com/teemow/inboxagent/internal/bridge"
	"github.com/teemow/inboxagent/internal/config"
	"github.com/teemow/inboxagent/internal/gmail"
	"github.com/teemow/inboxagent/internal/google"
	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/router"
	"github.com/teemow/inboxagent/internal/server"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the inbox bridge",
		Long: `Run the bridge until SIGINT or SIGTERM.

Every poll cycle lists the unread messages under the configured label,
claims each message, runs the agent command in the sender's workspace and
replies in the original thread.

If the OAuth client keys or the stored credentials are missing the bridge
stays disabled: the ops server keeps serving /healthz and /metrics and
/readyz reports not ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(os.Stderr, cfg)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runBridge(ctx, cfg, logger)
		},
	}
}

func runBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	health := server.NewHealthChecker()
	ops, err := server.NewOpsServer(server.OpsServerConfig{
		Addr:     cfg.Server.MetricsAddr,
		Provider: provider,
		Health:   health,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create ops server: %w", err)
	}

	opsErr := make(chan error, 1)
	go func() {
		opsErr <- ops.Serve()
	}()
	defer func() {
		health.SetShuttingDown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown failed", logging.Err(err))
		}
	}()

	svc, closeStore, err := buildService(ctx, cfg, logger, provider, instrConfig)
	if errors.Is(err, google.ErrDisabled) {
		logger.Warn("gmail channel disabled, waiting for shutdown", logging.Err(err))
		health.SetDisabled(true)
		return waitForShutdown(ctx, opsErr, nil)
	}
	if err != nil {
		return err
	}
	defer closeStore()

	health.SetProbe(svc)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	return waitForShutdown(ctx, opsErr, svc.Done())
}

// buildService wires the bridge. The returned func closes the store.
func buildService(ctx context.Context, cfg *config.Config, logger *slog.Logger, provider *instrumentation.Provider, instrConfig instrumentation.Config) (*bridge.Service, func(), error) {
	metrics := provider.Metrics()

	creds := google.NewCredentialManager(cfg.Gmail.KeysPath, cfg.Gmail.CredentialsPath,
		google.WithLogger(logger),
		google.WithMetrics(metrics),
	)
	httpClient, err := creds.HTTPClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	executor, err := agent.NewCommandExecutor(cfg.Agent.Command, cfg.Agent.Args, logger)
	if err != nil {
		return nil, nil, err
	}

	client, err := gmail.NewClient(ctx, gmail.ClientConfig{Logger: logger, Metrics: metrics},
		option.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, nil, err
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	closeStore := func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", logging.Err(err))
		}
	}

	routerOpts := []router.Option{router.WithLogger(logger)}
	if cfg.Workspace.Template != "" {
		routerOpts = append(routerOpts, router.WithTemplate(cfg.Workspace.Template))
	}

	svc, err := bridge.NewService(bridge.Config{
		Label:        cfg.Gmail.Label,
		PollInterval: cfg.Gmail.PollInterval,
		AgentTimeout: cfg.Agent.Timeout,
	}, bridge.Deps{
		Labels:   gmail.NewLabelEnsurer(client),
		Poller:   gmail.NewPoller(client, cfg.Gmail.Label, cfg.Gmail.PageSize, logger),
		Mailbox:  client,
		Dedup:    bridge.NewDedupGate(st),
		Router:   router.New(cfg.Workspace.Root, st, routerOpts...),
		Executor: executor,
		Logger:   logger,
		Metrics:  metrics,
		Audit:    instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging),
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return svc, closeStore, nil
}

// waitForShutdown blocks until ctx is cancelled, the ops server fails or
// the bridge loop exits. A nil done channel never fires.
func waitForShutdown(ctx context.Context, opsErr <-chan error, done <-chan struct{}) error {
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		return nil
	case err := <-opsErr:
		if err != nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
		return errors.New("ops server stopped unexpectedly")
	case <-done:
		return errors.New("bridge loop exited unexpectedly")
	}
}
