// Lendops - operation log & compensating-undo back office
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/vkoval/lendops/internal/api"
	"github.com/vkoval/lendops/internal/config"
	"github.com/vkoval/lendops/internal/identity"
	"github.com/vkoval/lendops/internal/ledger"
	"github.com/vkoval/lendops/internal/middleware"
	"github.com/vkoval/lendops/internal/notify"
	"github.com/vkoval/lendops/internal/store"
	"github.com/vkoval/lendops/internal/undo"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Admin notification channel: structured log always, live dashboard feed,
	// and Telegram when configured.
	hub := notify.NewHub(cfg.IsDevelopment())
	sinks := []notify.Sink{notify.LogSink{}, hub}
	if cfg.Telegram.Enabled {
		sinks = append(sinks, notify.NewTelegramSink(cfg.Telegram.APIBase, cfg.Telegram.BotToken, cfg.AdminChatIDs))
		slog.Info("Telegram admin notifications enabled", "recipients", len(cfg.AdminChatIDs))
	}
	sink := notify.NewMulti(sinks...)

	// Undo engine.
	sessions := undo.NewSessionTracker(cfg.MaxUndoSequence)
	dates := undo.NewDateLock()
	registry := undo.NewRegistry(repo)
	verifier := undo.NewVerifier(repo)
	single := undo.NewSingleCoordinator(repo, registry, verifier, sessions, dates, sink)
	batch := undo.NewBatchCoordinator(repo, registry, verifier, dates, sink)
	mutator := ledger.NewService(repo, sessions, sink)

	handler := api.NewHandler(repo, mutator, single, batch)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	r.Get("/health", handler.Health)

	// Admin routes: authorization happens once here, at the dispatch
	// boundary; nothing inside the engine re-checks permissions.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.AdminToken))
		r.Use(identity.Middleware)

		r.Post("/undo/last", handler.UndoLast)
		r.Get("/restore/preview", handler.RestorePreview)
		r.Post("/restore/execute", handler.RestoreExecute)

		r.Get("/operations", handler.ListOperations)
		r.Delete("/operations/{id}", handler.DeleteOperation)
		r.Put("/operations/{id}", handler.ModifyOperation)

		r.Post("/ledger/interest", handler.PostInterest)
		r.Post("/ledger/expenses", handler.AddExpense)
		r.Post("/ledger/orders", handler.CreateOrder)
		r.Post("/ledger/orders/{id}/state", handler.ChangeOrderState)
		r.Post("/ledger/orders/{id}/complete", handler.CompleteOrder)
		r.Post("/ledger/orders/{id}/breach-end", handler.EndBreach)
		r.Post("/ledger/orders/{id}/principal", handler.ReducePrincipal)

		r.Get("/events", hub.ServeHTTP)
	})

	// Create server.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket event feed stays open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
