package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"chainrelay/chain"
	"chainrelay/config"
	"chainrelay/keyvault"
	"chainrelay/middleware"
	"chainrelay/models"
	"chainrelay/observability/logging"
	"chainrelay/observability/telemetry"
	"chainrelay/relay"
	"chainrelay/report"
	"chainrelay/server"
	"chainrelay/storage"
	"chainrelay/wallet"
)

func main() {
	var (
		cfgPath      string
		initKeystore string
		exportWindow string
		exportDir    string
	)
	flag.StringVar(&cfgPath, "config", "", "path to relayerd configuration")
	flag.StringVar(&initKeystore, "init-keystore", "", "generate a relayer key, write it to the given keystore path, and exit")
	flag.StringVar(&exportWindow, "export", "", "export transactions created in the window START:END (YYYY-MM-DD, END inclusive) and exit")
	flag.StringVar(&exportDir, "export-dir", "", "output directory for -export (default relay-data/reports)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("RELAY_ENV"))

	if initKeystore != "" {
		logger := logging.Setup("relayerd", env, nil)
		address, err := bootstrapKeystore(initKeystore, os.Getenv("RELAY_RELAYER_PASSPHRASE"))
		if err != nil {
			logger.Error("initialise keystore", "path", initKeystore, "error", err)
			os.Exit(1)
		}
		logger.Info("relayer keystore written", "path", initKeystore, "address", address)
		return
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logging.Setup("relayerd", env, nil).Error("load config", "error", err)
		os.Exit(1)
	}

	var fileCfg *logging.FileConfig
	if cfg.Logging.File != "" {
		fileCfg = &logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}
	}
	logger := logging.Setup(cfg.Observability.ServiceName, env, fileCfg)

	shutdownTelemetry := setupTelemetry(logger, cfg, env)
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	relayerKey, err := cfg.Chain.LoadRelayerKey()
	if err != nil {
		logger.Error("load relayer key", "error", err)
		os.Exit(1)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	if exportWindow != "" {
		if err := runExport(context.Background(), db, exportDir, exportWindow, logger); err != nil {
			logger.Error("export transactions", "error", err)
			os.Exit(1)
		}
		return
	}

	vaultStore, err := keyvault.OpenLevelStore(cfg.Vault.Path)
	if err != nil {
		logger.Error("open key vault", "path", cfg.Vault.Path, "error", err)
		os.Exit(1)
	}
	vault := keyvault.New(vaultStore, cfg.Vault.VaultPassphrase())
	defer vault.Close()

	backend, err := chain.Dial(cfg.Chain.RPCURL)
	if err != nil {
		logger.Error("dial rpc endpoint", "error", err)
		os.Exit(1)
	}
	dialCtx, cancelDial := context.WithTimeout(context.Background(), 15*time.Second)
	chainClient, err := chain.NewClient(dialCtx, backend, relayerKey, logger)
	cancelDial()
	if err != nil {
		logger.Error("initialise chain client", "error", err)
		os.Exit(1)
	}

	svc, err := relay.New(relay.Config{
		Users:        storage.NewUsers(db),
		Transactions: storage.NewTransactions(db),
		Chain:        chainClient,
		Vault:        vault,
		MaxAmount:    cfg.MaxTxAmount,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("initialise relay service", "error", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		Relay:       svc,
		RateLimiter: middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName:   cfg.Observability.ServiceName,
			MetricsPrefix: cfg.Observability.MetricsPrefix,
			LogRequests:   cfg.Observability.LogRequests,
			Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
		}, logger),
		APIKey: cfg.APIKey(),
		Logger: logger,
	})

	handler := srv.Handler()
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(handler, cfg.Observability.ServiceName)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen and serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
}

func setupTelemetry(logger *slog.Logger, cfg config.Config, env string) telemetry.ShutdownFunc {
	if !cfg.Observability.Metrics && !cfg.Observability.Tracing {
		return nil
	}
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return nil
	}
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Observability.Metrics,
		Traces:      cfg.Observability.Tracing,
	})
	if err != nil {
		logger.Error("initialise telemetry", "error", err)
		os.Exit(1)
	}
	return shutdown
}

// bootstrapKeystore generates a fresh relayer key and writes it as a v3
// keystore file, ready for chain.keystoreFile plus RELAY_RELAYER_PASSPHRASE.
func bootstrapKeystore(path, passphrase string) (string, error) {
	key, err := wallet.GeneratePrivateKey()
	if err != nil {
		return "", err
	}
	if err := wallet.SaveToKeystore(path, key, passphrase); err != nil {
		return "", err
	}
	return key.Address().Hex(), nil
}

// parseExportWindow interprets "START:END" dates as the half-open range
// [START 00:00 UTC, END+1d 00:00 UTC), so END names the last included day.
func parseExportWindow(window string) (time.Time, time.Time, error) {
	parts := strings.Split(window, ":")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("export window must be START:END, got %q", window)
	}
	start, err := time.ParseInLocation("2006-01-02", parts[0], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse window start: %w", err)
	}
	last, err := time.ParseInLocation("2006-01-02", parts[1], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse window end: %w", err)
	}
	end := last.AddDate(0, 0, 1)
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("export window end %s precedes start %s", parts[1], parts[0])
	}
	return start, end, nil
}

func runExport(ctx context.Context, db *gorm.DB, outputDir, window string, logger *slog.Logger) error {
	start, end, err := parseExportWindow(window)
	if err != nil {
		return err
	}
	exporter, err := report.NewExporter(storage.NewTransactions(db), outputDir, logger)
	if err != nil {
		return err
	}
	result, err := exporter.Export(ctx, start, end)
	if err != nil {
		return err
	}
	logger.Info("export complete", "rows", result.Rows, "csv", result.CSVPath, "parquet", result.ParquetPath)
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	default:
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	}
}
