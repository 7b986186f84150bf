package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"kylan/config"
	"kylan/core"
	"kylan/crypto"
	"kylan/native/printer"
	"kylan/observability/logging"
	telemetry "kylan/observability/otel"
	"kylan/services/kyland/auth"
	"kylan/services/kyland/middleware"
	"kylan/services/kyland/receipts"
	"kylan/services/kyland/server"
	"kylan/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./kylan.toml", "path to kyland configuration (toml or yaml)")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("kyland exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("KYLAN_ENV"))
	opts := []logging.Option{logging.WithLevel(logging.ParseLevel(cfg.Log.Level))}
	if cfg.Log.File != "" {
		opts = append(opts, logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	logger := logging.Setup("kyland", env, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := printer.ParseCertModel(cfg.Model)
	if err != nil {
		return err
	}
	if cfg.Telemetry.Endpoint != "" {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Resolve(cfg.Telemetry, env, model.String(), os.Getenv))
		if err != nil {
			return fmt.Errorf("initialise telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	db, err := openState(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	hub := server.NewHub(logger)
	proc := core.NewProcessor(db)
	proc.SetLogger(logger)
	proc.SetModel(model)
	proc.SetEmitter(hub)
	proc.SetPaused(cfg.Paused)

	assets, err := genesisAssets(cfg.Assets)
	if err != nil {
		return err
	}
	if err := proc.Seed(ctx, assets); err != nil {
		return fmt.Errorf("seed assets: %w", err)
	}

	index, err := receipts.Open(cfg.ReceiptsDSN)
	if err != nil {
		return err
	}
	defer index.Close()

	var replay auth.ReplayPersistence
	if cfg.DataDir != "" {
		persistence, err := auth.NewLevelDBReplayPersistence(filepath.Join(cfg.DataDir, "replay"))
		if err != nil {
			return fmt.Errorf("open replay store: %w", err)
		}
		defer persistence.Close()
		replay = persistence
	}
	authenticator := auth.NewAuthenticator(cfg.SignatureWindow.Duration, 0, nil, replay)
	if err := authenticator.HydrateSignatures(ctx); err != nil {
		return fmt.Errorf("hydrate replay cache: %w", err)
	}

	var operator *middleware.OperatorAuth
	if cfg.Operator.JWTSecret != "" {
		operator = middleware.NewOperatorAuth(middleware.OperatorConfig{
			HMACSecret: cfg.Operator.JWTSecret,
			Issuer:     cfg.Operator.Issuer,
		}, logger)
	} else {
		logger.Warn("operator secret not configured; admin routes disabled")
	}

	srv, err := server.New(server.Config{
		Processor:     proc,
		Authenticator: authenticator,
		Receipts:      index,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		}, logger),
		Operator:      operator,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "kyland"}, logger),
		Hub:           hub,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Handler(), "kyland"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("kyland listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("model", model.String()),
			slog.Bool("paused", cfg.Paused))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openState(dataDir string) (storage.Database, error) {
	if dataDir == "" {
		slog.Warn("data directory not configured; state is kept in memory")
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(filepath.Join(dataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	return db, nil
}

func genesisAssets(assets []config.Asset) ([]core.GenesisAsset, error) {
	out := make([]core.GenesisAsset, 0, len(assets))
	for _, asset := range assets {
		addr, err := crypto.DecodeAddress(asset.Address)
		if err != nil {
			return nil, fmt.Errorf("asset %q: %w", asset.Address, err)
		}
		genesis := core.GenesisAsset{Address: addr, Decimals: asset.Decimals}
		for _, balance := range asset.Balances {
			owner, err := crypto.DecodeAddress(balance.Owner)
			if err != nil {
				return nil, fmt.Errorf("asset %q owner %q: %w", asset.Address, balance.Owner, err)
			}
			genesis.Balances = append(genesis.Balances, core.GenesisBalance{Owner: owner, Amount: balance.Amount})
		}
		out = append(out, genesis)
	}
	return out, nil
}
