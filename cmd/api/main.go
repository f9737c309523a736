package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cellsync/api/internal/app"
	"cellsync/api/internal/config"
	"cellsync/api/internal/email"
	"cellsync/api/internal/realtime"
	"cellsync/api/internal/search"
	"cellsync/api/internal/session"
	"cellsync/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	defer searchService.Close()

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, searchService)
	} else {
		log.Printf("Using PostgreSQL for session storage")
		service = app.New(cfg, dataStore, searchService)
	}
	service.WithNotifier(email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: "CellSync",
		AppURL:   cfg.AppURL,
	}))
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	origin := realtime.ExcludeOrigin
	if cfg.EchoEdits {
		origin = realtime.IncludeOrigin
	}
	hub := realtime.NewHub(realtime.Config{
		AuthTimeout:     cfg.AuthTimeout,
		Origin:          origin,
		ReadOnlyReaders: cfg.ReadOnlyReaders,
		WriteWait:       cfg.WSWriteWait,
		PongWait:        cfg.WSPongWait,
		MaxMessageSize:  cfg.WSMaxMessageLen,
		CheckOrigin:     allowedOrigin(cfg.CORSOrigin),
	}, service, service, slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin).WithRealtime(hub)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("CellSync API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// allowedOrigin mirrors the CORS setting for websocket upgrades.
func allowedOrigin(corsOrigin string) func(*http.Request) bool {
	corsOrigin = strings.TrimSpace(corsOrigin)
	if corsOrigin == "" || corsOrigin == "*" {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == corsOrigin
	}
}
