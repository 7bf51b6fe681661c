// Command helpline runs the pairing coordination backend: it loads the
// environment configuration, opens the relational store, bootstraps the
// operator and admin directory, and serves the coordination API over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/helpline/go-helpline-backend/internal/config"
	httpapi "github.com/helpline/go-helpline-backend/internal/http"
	"github.com/helpline/go-helpline-backend/internal/notify"
	"github.com/helpline/go-helpline-backend/internal/observability"
	"github.com/helpline/go-helpline-backend/internal/repo"
	"github.com/helpline/go-helpline-backend/internal/services"
	"github.com/helpline/go-helpline-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Local development convenience; missing .env files are not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	setupLogging(cfg)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown tracing")
		}
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Fatal().Err(err).Msg("instrument database")
		}
	}

	directory := services.NewUserDirectory(db, log.With().Str("component", "directory").Logger())
	if err := directory.Bootstrap(ctx, cfg.OperatorChatIDs, cfg.AdminChatIDs); err != nil {
		log.Fatal().Err(err).Msg("bootstrap directory")
	}

	ledger := services.NewInvitationLedger(
		newNotifier(cfg),
		notify.NewCopy(cfg.NoticeLanguage),
		log.With().Str("component", "invitations").Logger(),
	)
	coord := services.NewCoordinator(db, ledger, log.With().Str("component", "coordinator").Logger())

	r := gin.New()
	httpapi.RegisterRoutes(r, coord, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped with error")
		}
	}

	log.Info().Msg("exited cleanly")
}

// setupLogging configures the global zerolog logger from the configuration.
func setupLogging(cfg config.Config) {
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// openDatabase selects Postgres when a DSN is configured and falls back to a
// local SQLite file otherwise. The locking the pairing store depends on only
// works on Postgres; the SQLite path is for development.
func openDatabase(cfg config.Config) (*gorm.DB, error) {
	if cfg.PostgresDSN != "" {
		return repo.OpenPostgres(cfg.PostgresDSN)
	}
	log.Warn().Str("path", cfg.SQLitePath).Msg("no POSTGRES_DSN set, using sqlite (development only)")
	return repo.OpenSQLite(cfg.SQLitePath)
}

// newNotifier selects the notice transport. An empty gateway URL picks the
// in-process notifier, which logs and tracks notices instead of delivering
// them to a messenger. Useful for development; paired with the sqlite
// fallback it gives a fully self-contained run.
func newNotifier(cfg config.Config) notify.Notifier {
	if cfg.Gateway.URL == "" {
		log.Warn().Msg("no GATEWAY_URL set, notices stay in process")
		return notify.NewMemory()
	}
	return notify.NewGateway(cfg.Gateway.URL, cfg.Gateway.Token, cfg.Gateway.Timeout,
		log.With().Str("component", "gateway").Logger())
}
