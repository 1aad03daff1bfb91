package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tokensale/cmd/internal/secret"
	"tokensale/config"
	"tokensale/core"
	"tokensale/core/events"
	"tokensale/gateway/auth"
	"tokensale/gateway/middleware"
	"tokensale/gateway/routes"
	nativecommon "tokensale/native/common"
	"tokensale/native/crowdsale"
	"tokensale/observability"
	"tokensale/observability/eventlog"
	"tokensale/observability/logging"
	telemetry "tokensale/observability/otel"
	"tokensale/storage"
)

const (
	idempotencyTTL        = 24 * time.Hour
	idempotencyPruneEvery = time.Hour
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./tokensale.toml", "path to the node configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("tokensaled", cfg.Environment, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("path", cfgPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "tokensaled",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Attributes:  map[string]string{"sale.authority": cfg.Campaign.Authority},
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	jwtSecret, err := secret.NewSource(cfg.Auth.JWTSecretEnv, "JWT signing secret", false).Get()
	if err != nil {
		logger.Error("auth secret unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	app, err := newApp(cfg, []byte(jwtSecret), logger)
	if err != nil {
		logger.Error("failed to start node", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.Serve(ctx); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	db          *storage.LevelDB
	eventStore  *eventlog.Store
	idempotency *middleware.IdempotencyStore
	node        *core.Node
	handler     http.Handler
}

// newApp opens every store under the data directory and assembles the HTTP
// handler. Close releases the stores.
func newApp(cfg *config.Config, jwtSecret []byte, logger *slog.Logger) (*app, error) {
	campaign, err := cfg.Campaign.CrowdsaleConfig()
	if err != nil {
		return nil, err
	}
	var deployer = campaign.Owner
	if cfg.Token.Deployer != "" {
		if deployer, err = config.ParseAddress(cfg.Token.Deployer); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if a.db, err = storage.NewLevelDB(filepath.Join(cfg.DataDir, "state")); err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if a.eventStore, err = eventlog.Open(cfg.EventLogPath); err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if a.idempotency, err = middleware.OpenIdempotencyStore(cfg.IdempotencyPath, idempotencyTTL); err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}

	feed := eventlog.NewEmitter(a.eventStore, logger)
	a.node, err = core.NewNode(a.db, core.Options{
		Campaign:      campaign,
		TokenName:     cfg.Token.Name,
		TokenSymbol:   cfg.Token.Symbol,
		TokenDecimals: cfg.Token.Decimals,
		Deployer:      deployer,
		Emitter: events.MultiEmitter{
			feed,
			observability.Events(),
		},
		Pauses: nativecommon.NewPauses(map[string]bool{crowdsale.ModuleName: cfg.Pauses.Crowdsale}),
		ContributionQuota: nativecommon.Quota{
			MaxRequestsPerEpoch: cfg.Quotas.Contributions.MaxRequestsPerEpoch,
			EpochSeconds:        cfg.Quotas.Contributions.EpochSeconds,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Secret:   jwtSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      time.Duration(cfg.Auth.TokenTTLSeconds) * time.Second,
	}, nil)
	if err != nil {
		return nil, err
	}
	limit := middleware.RateLimit{RequestsPerSecond: cfg.RateLimit.RequestsPerSecond, Burst: cfg.RateLimit.Burst}
	router, err := routes.New(routes.Config{
		Sale:          a.node,
		Events:        a.eventStore,
		Feed:          feed,
		Authenticator: middleware.NewAuthenticator(authenticator, logger),
		RateLimiter:   middleware.NewRateLimiter(routes.RateLimits(limit, limit), logger),
		Idempotency:   middleware.NewIdempotency(a.idempotency, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "tokensaled",
			LogRequests: true,
		}, logger),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	a.handler = router
	if cfg.Telemetry.Traces {
		a.handler = otelhttp.NewHandler(router, "tokensaled")
	}
	ok = true
	return a, nil
}

// Serve runs the HTTP listeners until ctx is cancelled.
func (a *app) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.cfg.ListenAddress,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	listener, err := net.Listen("tcp", a.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("listening", slog.String("address", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var metricsServer *http.Server
	if a.cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", middleware.NewObservability(middleware.ObservabilityConfig{}, a.logger).MetricsHandler())
		metricsServer = &http.Server{Addr: a.cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			a.logger.Info("metrics listening", slog.String("address", a.cfg.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	ticker := time.NewTicker(idempotencyPruneEvery)
	defer ticker.Stop()

	var serveErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case serveErr = <-errCh:
			break loop
		case <-ticker.C:
			if removed, err := a.idempotency.Prune(); err != nil {
				a.logger.Warn("idempotency prune failed", slog.String("error", err.Error()))
			} else if removed > 0 {
				a.logger.Debug("idempotency records pruned", slog.Int("removed", removed))
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("graceful shutdown failed", slog.String("error", err.Error()))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return serveErr
}

func (a *app) Close() {
	if a.idempotency != nil {
		_ = a.idempotency.Close()
	}
	if a.eventStore != nil {
		_ = a.eventStore.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
