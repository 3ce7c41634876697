package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clipcourse/credits-service/internal/config"
	"github.com/clipcourse/credits-service/internal/handler"
	"github.com/clipcourse/credits-service/internal/logging"
	"github.com/clipcourse/credits-service/internal/middleware"
	"github.com/clipcourse/credits-service/internal/repository"
	"github.com/clipcourse/credits-service/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("credits-api", cfg.LogLevel, cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	cancel()
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	walletSvc := service.NewService(
		repository.NewWalletRepository(db),
		repository.NewLedgerRepository(db),
		cfg,
	)

	walletHandler := handler.NewWalletHandler(walletSvc)
	healthHandler := handler.NewHealthHandler(db)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler.Check)

	authed := middleware.Auth(cfg.JWTSecret)
	mux.Handle("GET /api/v1/wallet", authed(http.HandlerFunc(walletHandler.Get)))
	mux.Handle("GET /api/v1/wallet/ledger", authed(http.HandlerFunc(walletHandler.Ledger)))
	mux.Handle("POST /api/v1/wallet/reserve", authed(http.HandlerFunc(walletHandler.Reserve)))
	mux.Handle("POST /api/v1/wallet/settle", authed(http.HandlerFunc(walletHandler.Settle)))
	mux.Handle("POST /api/v1/wallet/refund", authed(http.HandlerFunc(walletHandler.Refund)))
	mux.Handle("POST /api/v1/wallet/consume", authed(http.HandlerFunc(walletHandler.Consume)))

	root := middleware.Tracing(middleware.Logging(middleware.Recovery(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr, "bypass", cfg.Bypass)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
