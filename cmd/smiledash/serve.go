package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"smiledash/internal/amqp"
	"smiledash/internal/backend"
	"smiledash/internal/cache"
	"smiledash/internal/cli"
	"smiledash/internal/config"
	apphttp "smiledash/internal/http"
	"smiledash/internal/layout"
	"smiledash/internal/log"
	"smiledash/internal/metrics"
	"smiledash/internal/middleware/ratelimit"
	"smiledash/internal/services"
)

const cacheCleanupInterval = time.Minute

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli.LoadEnvFile()
			cfg, err := cli.LoadAndValidateConfig()
			if err != nil {
				return err
			}
			logger := cli.SetupLogger(cfg, cmd.OutOrStdout())
			ctx, cancel := cli.SignalContext(cmd.Context(), logger)
			defer cancel()
			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	lay, err := cli.LoadLayout(cfg.LayoutFile)
	if err != nil {
		return err
	}

	m := metrics.New()
	svc, err := newReportService(ctx, cfg, lay, m, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Failed to close report service", log.FieldError, err)
		}
	}()

	cacheMgr := cache.NewManager(logger.WithComponent(log.ComponentCache).Slog())
	if c := svc.Cache(); c != nil {
		cacheMgr.Register(c)
		cacheMgr.StartCleanup(cacheCleanupInterval)
	}

	httpCfg := apphttp.DefaultConfig(cfg.Addr())
	httpCfg.TrustedProxies = cfg.TrustedProxies
	httpCfg.Refresh = ratelimit.Config{RequestsPerSecond: cfg.RefreshRPS, Burst: cfg.RefreshBurst}
	srv := apphttp.NewServer(httpCfg, svc, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting smiledash server",
			"addr", cfg.Addr(),
			"backend", cfg.FetchBackend,
			log.FieldSource, svc.Source(),
			"cache_ttl", cfg.CacheTTL.String(),
			log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		cacheMgr.Stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("Server stopped gracefully", log.FieldOperation, log.OpShutdown)
		return nil
	})
	return g.Wait()
}

// newReportService builds the fetcher, the optional event publisher and the
// pipeline around them.
func newReportService(ctx context.Context, cfg *config.Config, lay *layout.Layout, m *metrics.Metrics, logger *log.Logger) (*services.ReportService, error) {
	factory := backend.NewFactory(logger.WithComponent(log.ComponentFetch).Slog())
	fetcher, err := factory.CreateFetcher(ctx, cfg.BackendConfig())
	if err != nil {
		return nil, err
	}

	opts := services.Options{
		Sheet:    cfg.SheetName,
		Backend:  cfg.FetchBackend,
		CacheTTL: cfg.CacheTTL,
		Metrics:  m,
		Logger:   logger,
	}
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey,
			logger.WithComponent(log.ComponentEvents).Slog())
		if err != nil {
			// Events are optional: the dashboard works without the broker.
			logger.Warn("AMQP unavailable, report events disabled", log.FieldError, err)
		} else {
			opts.Publisher = client
		}
	}
	return services.NewReportService(fetcher, lay, opts), nil
}
