package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"lpr-gate-service/internal/config"
	"lpr-gate-service/internal/db"
	"lpr-gate-service/internal/directory"
	api "lpr-gate-service/internal/http"
	"lpr-gate-service/internal/repository"
	"lpr-gate-service/internal/service"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)

	gdb, err := db.Open(cfg.DB.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	// A missing or empty directory is fatal: running without it would treat
	// every vehicle as unregistered.
	dir, err := directory.Load(cfg.RegisteredPlates)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load registered plates directory")
	}
	log.Info().Int("plates", dir.Size()).Str("file", cfg.RegisteredPlates).Msg("loaded registered plates directory")

	readRepo := repository.NewReadRepository(gdb)
	ledgerRepo := repository.NewLedgerRepository(gdb)
	verifySvc := service.NewVerifyService(readRepo, ledgerRepo, dir, cfg, log)
	ingestSvc := service.NewIngestService(readRepo, verifySvc, log)
	handler := api.NewHandler(ingestSvc, verifySvc, cfg, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.HTTP.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	handler.Register(router, api.JWTAuth(cfg.Auth.JWTSecret))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runRetentionSweep(ctx, ingestSvc, cfg, log)

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func runRetentionSweep(ctx context.Context, ingestSvc *service.IngestService, cfg *config.Config, log zerolog.Logger) {
	interval := time.Duration(cfg.Retention.SweepIntervalHours) * time.Hour
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
			if _, err := ingestSvc.CleanupOldReads(ctx, cfg.Retention.MaxAgeDays); err != nil {
				log.Error().Err(err).Msg("retention sweep failed")
			}
		}
	}
}
