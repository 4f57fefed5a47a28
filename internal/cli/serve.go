package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bookhealth/bookhealth/internal/aggregator"
	"github.com/bookhealth/bookhealth/internal/api"
	"github.com/bookhealth/bookhealth/internal/assessment"
	"github.com/bookhealth/bookhealth/internal/cleanup"
	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/metrics"
	"github.com/bookhealth/bookhealth/internal/narrative"
	"github.com/bookhealth/bookhealth/internal/oauth"
	"github.com/bookhealth/bookhealth/internal/proxy"
	"github.com/bookhealth/bookhealth/internal/store"
	"github.com/bookhealth/bookhealth/internal/tokens"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the BookHealth API server",
	Long: `Start the BookHealth HTTP server.

The server handles the QuickBooks connect flow, stores tokens and runs
assessments on request, optionally streaming per-report progress.

Example:
  bookhealth serve --config config.yaml --db ./data/bookhealth.db`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
	Watch   bool
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", envDuration("SHUTDOWN_TIMEOUT", 0), "Shutdown timeout (overrides config)")
	serveCmd.Flags().BoolVar(&serveFlags.Watch, "watch", true, "Reload scoring settings when the config file changes")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(config.ResolvePath(globalFlags.Config))
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if serveFlags.Timeout > 0 {
		cfg.Server.ShutdownTimeout = serveFlags.Timeout
	}

	logger := newLogger(cfg)
	loader.SetLogger(logger.With("component", "config"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	m := metrics.NewMetrics("bookhealth")
	if err := startCleanup(ctx, cfg.Storage.Cleanup, st, m, logger); err != nil {
		_ = st.Close()
		return err
	}

	proxyClient := proxy.NewClient(cfg.Proxy, proxy.WithMetrics(m), proxy.WithLogger(logger.With("component", "proxy")))
	tokenMgr := tokens.NewManager(st, proxyClient,
		tokens.WithLogger(logger.With("component", "tokens")),
		tokens.WithMetrics(m),
		tokens.WithExpirySkew(cfg.Assessment.ExpirySkew),
	)
	orch := oauth.NewOrchestrator(cfg.OAuth, st, tokenMgr, st, logger)
	agg := aggregator.New(proxyClient,
		aggregator.WithConcurrency(cfg.Proxy.Concurrency),
		aggregator.WithMetrics(m),
		aggregator.WithLogger(logger.With("component", "aggregator")),
	)

	norm, engine, err := buildPipeline(cfg.Assessment, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("invalid assessment settings: %w", err)
	}
	svcOpts := []assessment.Option{
		assessment.WithAuditSink(st),
		assessment.WithLogger(logger.With("component", "assessment")),
		assessment.WithMetrics(m),
		assessment.WithDefaultWindowDays(cfg.Assessment.WindowDays),
	}
	if cfg.Narrative.Enabled {
		svcOpts = append(svcOpts, assessment.WithGenerator(
			narrative.NewClient(cfg.Narrative, narrative.WithLogger(logger.With("component", "narrative")))))
	}
	svc := assessment.NewService(tokenMgr, agg, norm, engine, svcOpts...)

	if serveFlags.Watch {
		loader.SetOnChange(func(next *config.Config) {
			n, e, err := buildPipeline(next.Assessment, logger)
			if err != nil {
				logger.Warn("ignoring invalid assessment settings", "error", err.Error())
				return
			}
			svc.Reconfigure(n, e)
			logger.Info("assessment settings reloaded")
		})
		if err := loader.Watch(ctx); err != nil {
			logger.Warn("config watch disabled", "error", err.Error())
		}
	}

	server := api.NewServer(cfg.Server, cfg.API, api.Dependencies{
		Authorizer:  orch,
		Connections: tokenMgr,
		Assessor:    svc,
		Circuit:     func() string { return proxyClient.Breaker().State().String() },
		Closers:     []io.Closer{st},
	}, api.WithLogger(logger), api.WithMetrics(m), api.WithSuccessRedirect(cfg.OAuth.SuccessRedirect))

	if len(cfg.API.Auth.APIKeys) > 0 {
		logger.Info("api key auth enabled", "keys", api.MaskAPIKeys(cfg.API.Auth.APIKeys))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := api.SetupSignalHandler()
	select {
	case err := <-errCh:
		cancel()
		_ = st.Close()
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// startCleanup runs the retention sweep until ctx is done.
func startCleanup(ctx context.Context, cc config.CleanupConfig, st store.Store, m *metrics.Metrics, logger *logging.Logger) error {
	if !cc.Enabled {
		return nil
	}
	sweeper, ok := st.(store.Sweeper)
	if !ok {
		logger.Warn("store does not support cleanup; retention sweep disabled")
		return nil
	}
	mgr, err := cleanup.NewManager(cleanup.Config{
		Interval:          cc.Interval,
		RetentionPolicies: cleanup.PoliciesFromConfig(cc),
		VacuumEnabled:     cc.Vacuum,
	}, sweeper, m, logger)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	logger.Info("retention sweep started", "interval", cc.Interval.String())
	return nil
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return fallback
}
