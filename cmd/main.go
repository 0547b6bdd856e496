package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillbridge/chat-service/config"
	"github.com/skillbridge/chat-service/internal/broker"
	"github.com/skillbridge/chat-service/internal/notify"
	"github.com/skillbridge/chat-service/internal/postgres"
	"github.com/skillbridge/chat-service/internal/profile"
	"github.com/skillbridge/chat-service/internal/service"
	"github.com/skillbridge/chat-service/internal/sqlite"
	"github.com/skillbridge/chat-service/internal/store"
	httpx "github.com/skillbridge/chat-service/internal/transport/http"
	"github.com/skillbridge/chat-service/internal/transport/ws"
	"github.com/skillbridge/chat-service/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting chat-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "store", cfg.Store.Backend)

	// --- store ---
	ctx := context.Background()
	var msgStore store.MessageStore
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := postgres.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		msgStore = postgres.NewMessageRepository(db.Pool)
	default:
		repo, err := sqlite.New(ctx, cfg.Store.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite: %v", err)
		}
		msgStore = repo
	}
	defer msgStore.Close()

	// --- collaborators ---
	var profiles profile.Finder = profile.Noop{}
	if cfg.Profile.BaseURL != "" {
		profiles = profile.NewClient(cfg.Profile.BaseURL)
	} else {
		slog.Warn("profile.baseUrl is empty, push notifications disabled")
	}
	notifier := notify.NewExpoClient(cfg.Expo.URL)

	// --- WS hub & broadcast ---
	hub := ws.NewHub()
	var broadcaster service.Broadcaster = hub
	if cfg.NATS.URL != "" {
		bridge, err := broker.New(cfg.NATS.URL, hub)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		defer bridge.Close()
		broadcaster = bridge
		slog.Info("broadcast bridge enabled", "nats", cfg.NATS.URL)
	}

	// --- services ---
	chatSvc := service.NewMessageService(msgStore, profiles, notifier, broadcaster)

	// --- transports ---
	wsServer := ws.NewServer(hub, chatSvc)
	handler := httpx.NewHandler(chatSvc, cfg.Uploads.Dir, cfg.Uploads.MaxSizeMB<<20)
	router := httpx.NewRouter(handler, wsServer, msgStore, cfg.Uploads.Dir, cfg.HTTP.CORSOrigins)

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctxShutdown)
	slog.Info("stopped")
}
