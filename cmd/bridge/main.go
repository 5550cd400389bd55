// Command bridge launches the loyalty-bridge service: HTTP surface, outbox
// dispatcher, and reconciliation sweeps.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/loyaltyengage/loyalty-bridge/internal/cart"
	"github.com/loyaltyengage/loyalty-bridge/internal/dispatch"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/config"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/persistence/migrations"
	"github.com/loyaltyengage/loyalty-bridge/internal/infra/persistence/postgres"
	httpserver "github.com/loyaltyengage/loyalty-bridge/internal/infra/server/http"
	"github.com/loyaltyengage/loyalty-bridge/internal/loyalty"
	"github.com/loyaltyengage/loyalty-bridge/internal/observability"
	"github.com/loyaltyengage/loyalty-bridge/internal/rules"
	"github.com/loyaltyengage/loyalty-bridge/internal/sweep"
	"github.com/loyaltyengage/loyalty-bridge/internal/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	bridgeLoggerPrefix       = "bridge "
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

func main() {
	cfgPathFlag := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	stdlog := log.New(os.Stdout, bridgeLoggerPrefix, log.LstdFlags|log.Lmicroseconds)

	configPath := resolveConfigPath(cfgPathFlag)
	appCfg, err := config.Load(ctx, configPath)
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}

	logger := observability.NewStdLogger(stdlog, appCfg.Logging.Verbose)
	observability.SetLogger(logger)
	logger.Info("configuration initialised",
		observability.F("env", appCfg.Environment),
		observability.F("path", configPath))

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg)
	if err != nil {
		stdlog.Fatalf("initialize telemetry: %v", err)
	}

	pool, err := openPool(ctx, appCfg.Database)
	if err != nil {
		stdlog.Fatalf("open database pool: %v", err)
	}
	postgres.ObservePoolMetrics(pool, "loyalty")

	if appCfg.Database.RunMigrations {
		if err := migrations.Apply(ctx, appCfg.Database.DSN, logger); err != nil {
			stdlog.Fatalf("apply migrations: %v", err)
		}
	}

	store := postgres.New(pool)
	client := loyalty.NewClient(appCfg.API, logger)

	dispatcher, err := dispatch.New(store.Outbox(), client, appCfg.Dispatch, logger)
	if err != nil {
		stdlog.Fatalf("initialise dispatcher: %v", err)
	}
	cartSweep, err := sweep.NewCartExpiry(store.Carts(), client, appCfg.Sweeps, logger)
	if err != nil {
		stdlog.Fatalf("initialise cart expiry sweep: %v", err)
	}
	orderSweep, err := sweep.NewOrderPlace(store.Orders(), client, appCfg.Sweeps, logger)
	if err != nil {
		stdlog.Fatalf("initialise order place sweep: %v", err)
	}
	eligibility, err := buildEligibility(appCfg.Eligibility)
	if err != nil {
		stdlog.Fatalf("configure eligibility rules: %v", err)
	}
	var cartOpts []cart.Option
	if len(eligibility) > 0 {
		cartOpts = append(cartOpts, cart.WithEligibility(eligibility, store.Customers()))
		logger.Info("discount eligibility gate enabled",
			observability.F("rules", len(eligibility)))
	}
	cartService, err := cart.NewService(client, store.Carts(), store.Promotions(), logger, cartOpts...)
	if err != nil {
		stdlog.Fatalf("initialise cart service: %v", err)
	}

	queue := dispatch.NewQueue(store.Outbox())
	handler := httpserver.NewHandler(cartService, queue, store.Orders(), store.Customers(), appCfg.Events, logger)
	apiServer := &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := dispatcher.Run(ctx); err != nil {
			logger.Error("dispatcher stopped", observability.F("error", err))
		}
	})
	lifecycle.Go(func() {
		if err := cartSweep.Run(ctx); err != nil {
			logger.Error("cart expiry sweep stopped", observability.F("error", err))
		}
	})
	lifecycle.Go(func() {
		if err := orderSweep.Run(ctx); err != nil {
			logger.Error("order place sweep stopped", observability.F("error", err))
		}
	})
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server stopped", observability.F("error", err))
		}
	})
	logger.Info("bridge started", observability.F("addr", apiServer.Addr))

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		pool:       pool,
		telemetry:  telemetryProvider,
	})
	logger.Info("shutdown completed", observability.F("elapsed", time.Since(shutdownStart)))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func buildEligibility(cfg config.EligibilityConfig) (rules.Set, error) {
	set := make(rules.Set, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		rule, err := rules.Parse(rc.Field, rc.Operator, rc.Value)
		if err != nil {
			return nil, err
		}
		set = append(set, rule)
	}
	return set, nil
}

func initTelemetry(ctx context.Context, logger observability.Logger, appCfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if appCfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = appCfg.Telemetry.OTLPEndpoint
	}
	if appCfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = appCfg.Telemetry.ServiceName
	}
	telemetryCfg.Environment = string(appCfg.Environment)
	telemetryCfg.OTLPInsecure = appCfg.Telemetry.OTLPInsecure
	telemetryCfg.EnableMetrics = appCfg.Telemetry.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Info("telemetry initialized",
			observability.F("endpoint", telemetryCfg.OTLPEndpoint),
			observability.F("service", telemetryCfg.ServiceName))
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	pool       *pgxpool.Pool
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger observability.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			logger.Warn("shutdown step failed",
				observability.F("step", name),
				observability.F("error", err))
			return
		}
		logger.Info("shutdown step completed", observability.F("step", name))
	}

	if cfg.server != nil {
		shutdownStep("stop api server", serverShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("wait lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.pool != nil {
		cfg.pool.Close()
		logger.Info("shutdown step completed", observability.F("step", "close database pool"))
	}

	if cfg.telemetry != nil {
		shutdownStep("shutdown telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
