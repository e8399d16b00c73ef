// Laporan - field service report bot server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/laporan-bot/internal/api"
	"github.com/ashureev/laporan-bot/internal/config"
	"github.com/ashureev/laporan-bot/internal/engine"
	"github.com/ashureev/laporan-bot/internal/gdrive"
	"github.com/ashureev/laporan-bot/internal/identity"
	"github.com/ashureev/laporan-bot/internal/metrics"
	"github.com/ashureev/laporan-bot/internal/middleware"
	"github.com/ashureev/laporan-bot/internal/store"
	"github.com/ashureev/laporan-bot/internal/sweeper"
	"github.com/ashureev/laporan-bot/internal/telegram"
	"github.com/ashureev/laporan-bot/internal/upload"
	"github.com/ashureev/laporan-bot/internal/webchat"
	"github.com/ashureev/laporan-bot/web"
)

const (
	pollTimeoutSeconds = 30
	defaultWebhookPath = "/webhook"
)

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
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
	level.Set(cfg.LogLevel)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "session_backend", cfg.Session.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	sessions, err := openSessionStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sessions.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := sessions.Ping(ctx); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store connected")

	recorder := metrics.NewPrometheusRecorder()

	credentials, err := gdrive.ClientOptions(ctx, gdrive.CredentialConfig{
		ClientID:           cfg.Google.ClientID,
		ClientSecret:       cfg.Google.ClientSecret,
		RefreshToken:       cfg.Google.RefreshToken,
		ServiceAccountKey:  cfg.Google.ServiceAccountKey,
		ServiceAccountFile: cfg.Google.ServiceAccountFile,
	})
	if err != nil {
		slog.Error("Failed to load Google credentials", "error", err)
		os.Exit(1)
	}
	google, err := gdrive.New(ctx, gdrive.Config{
		SpreadsheetID: cfg.Google.SpreadsheetID,
		SheetName:     cfg.Google.SheetName,
	}, logger, credentials...)
	if err != nil {
		slog.Error("Failed to initialize Google client", "error", err)
		os.Exit(1)
	}
	slog.Info("Google Drive and Sheets client initialized")

	pipeline := upload.NewPipeline(google, upload.Config{
		Owner:            cfg.Google.OwnerEmail,
		InMemoryMaxBytes: cfg.Upload.InMemoryMaxBytes,
		AttemptTimeout:   cfg.ExternalCallTimeout,
	}, upload.WithLogger(logger), upload.WithRecorder(recorder))

	eng := engine.New(sessions, google, google, pipeline, engine.Options{
		ParentFolderID: cfg.Google.ParentFolderID,
		CallTimeout:    cfg.ExternalCallTimeout,
		Logger:         logger,
		Recorder:       recorder,
	})

	// Telegram transport. Long polling holds requests open for
	// pollTimeoutSeconds, so the client timeout must exceed it.
	tgAPI, err := telegram.NewAPI(cfg.Telegram.Token, &http.Client{
		Timeout: time.Duration(pollTimeoutSeconds)*time.Second + cfg.ExternalCallTimeout,
	})
	if err != nil {
		slog.Error("Failed to connect to Telegram", "error", err)
		os.Exit(1)
	}
	bot := telegram.NewBot(tgAPI, nil, logger)
	eng.RegisterFetcher(telegram.Source, telegram.NewFetcher(tgAPI, &http.Client{Timeout: cfg.ExternalCallTimeout}, cfg.Upload.TempDir))
	// Queued updates finish during shutdown instead of being cancelled mid-call.
	dispatcher := telegram.NewDispatcher(context.Background(), eng, bot, telegram.WithDispatcherLogger(logger))

	// Web chat transport.
	var chat *webchat.SessionManager
	var wsHandler *webchat.WebSocketHandler
	if cfg.WebchatEnabled {
		photos := webchat.NewPhotoStore(cfg.Upload.TempDir)
		eng.RegisterFetcher(webchat.Source, photos)
		chat = webchat.NewSessionManager(photos)
		wsHandler = webchat.NewWebSocketHandler(eng, chat, photos, cfg.FrontendURL, cfg.IsDevelopment())
		slog.Info("Web chat enabled")
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	telegramMode := "webhook"
	if cfg.UsePolling() {
		telegramMode = "polling"
	}
	healthHandler := api.NewHealthHandler(sessions, api.StatusInfo{
		TelegramMode:   telegramMode,
		WebchatEnabled: cfg.WebchatEnabled,
		SessionBackend: cfg.Session.Backend,
		SheetName:      cfg.Google.SheetName,
	}, 5*time.Second)
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", recorder.Handler())

	if !cfg.UsePolling() {
		path := webhookPath(cfg.Telegram.WebhookURL)
		r.With(middleware.TelegramSecret(cfg.Telegram.WebhookSecret)).
			Post(path, telegram.WebhookHandler(dispatcher))
		slog.Info("Telegram webhook route registered", "path", path)
	}

	if wsHandler != nil {
		r.With(identity.Middleware(cfg.IsDevelopment())).Get("/ws/chat", wsHandler.ServeHTTP)
		// Serve embedded frontend (SPA catch-all).
		r.Handle("/*", web.SPAHandler())
	}

	// Create server.
	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start idle session sweeper.
	sweeper.Start(ctx, eng, cfg.Session.SweepInterval, cfg.Session.TTL, expiryNotifier(bot, chat, cfg.ExternalCallTimeout))
	slog.Info("Session sweeper started", "session_ttl", cfg.Session.TTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Start receiving Telegram updates.
	if cfg.UsePolling() {
		go func() {
			if err := telegram.Poll(ctx, tgAPI, dispatcher, pollTimeoutSeconds); err != nil {
				slog.Error("Telegram polling failed", "error", err)
			}
		}()
	} else if err := telegram.RegisterWebhook(tgAPI, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
		slog.Error("Failed to register Telegram webhook", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if chat != nil {
		chat.CloseAll()
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Error("Telegram updates still in flight at shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
}

func openSessionStore(cfg *config.Config) (store.SessionStore, error) {
	if cfg.Session.Backend == config.BackendMemory {
		slog.Warn("Using in-memory session store, conversations are lost on restart")
		return store.NewMemory(), nil
	}
	st, err := store.NewSQLite(cfg.Session.DBPath)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

func webhookPath(webhookURL string) string {
	u, err := url.Parse(webhookURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return defaultWebhookPath
	}
	return u.Path
}

// expiryNotifier tells swept users their report was dropped, on whichever
// transport they were using.
func expiryNotifier(bot *telegram.Bot, chat *webchat.SessionManager, timeout time.Duration) sweeper.CleanupCallback {
	return func(userID string) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var err error
		switch {
		case strings.HasPrefix(userID, webchat.UserPrefix):
			if chat == nil {
				return
			}
			err = chat.Notify(ctx, userID, engine.ExpiredMessage)
		default:
			err = bot.Notify(ctx, userID, engine.ExpiredMessage)
		}
		if err != nil {
			slog.Warn("Failed to notify expired session", "user_id", userID, "error", err)
		}
	}
}
