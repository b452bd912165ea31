package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cosmicwatch/auth"
	"cosmicwatch/cli"
	"cosmicwatch/config"
	"cosmicwatch/core"
	"cosmicwatch/database"
	"cosmicwatch/handlers"
	"cosmicwatch/metrics"
	"cosmicwatch/service"
	"cosmicwatch/version"
)

const housekeepingInterval = time.Hour

func main() {
	config.ParseFlags()
	cfg := config.Settings

	// CLI mode is an HTTP client only; it logs nothing to the server log file.
	if cfg.CLIMode {
		mainCLI(cfg)
		return
	}

	logger, closeLog, err := setupLogging(cfg.LogFilePath, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	defer zap.RedirectStdLog(logger)()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("system starting up", zap.String("version", version.GetFullVersion()))

	db, err := database.Open(cfg, logger.Named("db"))
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("error closing database", zap.Error(err))
		}
	}()

	authSvc := auth.New(db, auth.Options{
		AccessTTL:  time.Duration(cfg.AccessTokenTTLMin) * time.Minute,
		RefreshTTL: time.Duration(cfg.RefreshTokenTTLDays) * 24 * time.Hour,
		Logger:     logger.Named("auth"),
	})

	var refresher core.TokenRefresher = authSvc
	if cfg.AuthRefreshURL != "" {
		refresher = auth.NewHTTPRefresher(cfg.AuthRefreshURL, nil)
		logger.Info("using remote token refresh", zap.String("url", cfg.AuthRefreshURL))
	}

	var expectations core.ExpectationTable
	if cfg.ExpectationsFile != "" {
		if expectations, err = core.LoadExpectations(cfg.ExpectationsFile); err != nil {
			return err
		}
		logger.Info("loaded expectations", zap.String("file", cfg.ExpectationsFile), zap.Int("components", len(expectations)))
	}

	port := findAvailablePort(cfg.Port, logger)
	if port != cfg.Port {
		logger.Warn("default port busy, switched", zap.Int("requested", cfg.Port), zap.Int("port", port))
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	rt := core.NewRuntime(runtimeOptions(cfg, database.NewSettingsStorage(db), refresher, expectations, port, logger, m))
	defer rt.Close()

	services := service.NewServices(db, rt, authSvc, logger.Named("service"), m)

	acl, err := handlers.NewIPAccessControl(cfg.AdminAllowCIDRs, cfg.AdminDenyCIDRs)
	if err != nil {
		return fmt.Errorf("admin ACL: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, shutdown := context.WithCancel(sigCtx)
	defer shutdown()

	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = zap.NewStdLog(logger.Named("gin")).Writer()
	gin.DefaultErrorWriter = zap.NewStdLog(logger.Named("gin")).Writer()
	gin.DisableConsoleColor()

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
	}))

	h := handlers.New(handlers.Options{
		Services:            services,
		ACL:                 acl,
		AdminAuth:           cfg.AdminAuthEnabled,
		IngestRatePerSecond: cfg.IngestRatePerSecond,
		IngestBurst:         cfg.IngestBurst,
		RetentionDays:       cfg.LogRetentionDays,
		Metrics:             m,
		Gatherer:            prometheus.DefaultGatherer,
		Logger:              logger.Named("http"),
		Shutdown: func() {
			logger.Info("shutdown triggered via API")
			shutdown()
		},
	})
	h.Register(r)
	defer h.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("url", fmt.Sprintf("http://127.0.0.1:%d", port)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("system shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server forced to shutdown", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		return rt.Run(gctx)
	})
	g.Go(func() error {
		monitorGoroutines(gctx, cfg, logger.Named("goroutines"))
		return nil
	})
	g.Go(func() error {
		housekeeping(gctx, authSvc, services.Logs, cfg.LogRetentionDays, logger.Named("housekeeping"))
		return nil
	})

	return g.Wait()
}

// runtimeOptions wires the server's runtime. Settings hold tokens and
// precondition keys; the durable event queue stays in memory so recording an
// event never writes to the database.
func runtimeOptions(cfg *config.Config, settings core.Storage, refresher core.TokenRefresher, expectations core.ExpectationTable, port int, logger *zap.Logger, m *metrics.Metrics) core.RuntimeOptions {
	opts := core.RuntimeOptions{
		EventCapacity:   cfg.MaxEventLogs,
		DurableCapacity: cfg.DurableQueueSize,
		HistorySize:     cfg.MaxCorrectionHistory,
		Expectations:    expectations,
		Strategy: core.StrategyConfig{
			MaxRetries:        cfg.MaxRetries,
			BaseDelay:         time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
			RateLimitDefault:  time.Duration(cfg.RateLimitDefaultMS) * time.Millisecond,
			LoginPath:         cfg.LoginPath,
			QuestionnairePath: cfg.QuestionnairePath,
		},
		Storage:      settings,
		EventStorage: core.NewMemoryStorage(),
		Refresher:    refresher,
		Context: func() (string, string) {
			return fmt.Sprintf("http://127.0.0.1:%d", port), "cosmicwatch/" + version.GetVersion()
		},
		Logger:  logger.Named("runtime"),
		Metrics: m,
	}
	if cfg.SinkEnabled {
		opts.Sink = &core.FlusherOptions{
			URL:       cfg.SinkURL,
			BatchSize: cfg.SinkBatchSize,
			Interval:  time.Duration(cfg.SinkFlushIntervalMS) * time.Millisecond,
			QueueSize: cfg.SinkQueueSize,
		}
	}
	return opts
}

// findAvailablePort searches for an available port
func findAvailablePort(startPort int, logger *zap.Logger) int {
	for port := startPort; port < startPort+100; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
		if err == nil {
			listener.Close()
			return port
		}
	}
	logger.Warn("no available port found, using requested port", zap.Int("port", startPort))
	return startPort
}

// monitorGoroutines tracks goroutine count to spot leaks.
func monitorGoroutines(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	interval := time.Duration(cfg.GoroutineMonitorIntervalSeconds) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := runtime.NumGoroutine()
			if count > cfg.GoroutineWarnThreshold {
				logger.Warn("high goroutine count detected", zap.Int("count", count))
			} else {
				logger.Debug("goroutine count", zap.Int("count", count))
			}
		}
	}
}

// housekeeping purges expired tokens and logs past retention once an hour.
func housekeeping(ctx context.Context, authSvc *auth.Service, logs *service.LogService, retentionDays int, logger *zap.Logger) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := authSvc.PurgeExpired(); err != nil {
				logger.Warn("token purge failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("purged expired tokens", zap.Int64("count", n))
			}
			if n, err := logs.Cleanup(retentionDays); err != nil {
				logger.Warn("log retention cleanup failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("deleted logs past retention", zap.Int64("count", n), zap.Int("days", retentionDays))
			}
		}
	}
}

// mainCLI is the entrypoint for CLI (HTTP client) mode.
func mainCLI(cfg *config.Config) {
	server := cfg.CLIServer
	cliConfig, err := cli.LoadConfig()
	if err != nil {
		fmt.Printf("Warning: CLI configuration unavailable: %v\n", err)
		if server == "" {
			server = fmt.Sprintf("http://localhost:%d", cfg.Port)
		}
	}
	fmt.Printf("cosmicwatch %s CLI\n", version.GetFullVersion())

	cliInstance, err := cli.NewCLIHttp(cliConfig, server)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Println("\nTips:")
		fmt.Println("  1. Make sure the cosmicwatch server is running:")
		fmt.Println("     ./cosmicwatch")
		fmt.Println("  2. Or specify a different server:")
		fmt.Println("     ./cosmicwatch --cli --server http://your-server:5000")
		os.Exit(1)
	}

	cliInstance.Start()
}
