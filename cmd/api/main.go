package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"argmap/api/internal/analysis"
	"argmap/api/internal/app"
	"argmap/api/internal/archive"
	"argmap/api/internal/config"
	"argmap/api/internal/export"
	"argmap/api/internal/history"
	"argmap/api/internal/registry"
	"argmap/api/internal/search"
	"argmap/api/internal/session"
	"argmap/api/internal/store"
	"argmap/api/internal/tombstone"
	"argmap/api/internal/workspace"
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

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.ReposDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	// Redis backs refresh tokens and annotation tombstones; Postgres and an
	// in-memory store take over when it is not configured.
	var refresh interface {
		SaveRefreshSession(context.Context, string, store.User, time.Time) error
		LookupRefreshSession(context.Context, string) (store.User, error)
		RevokeRefreshSession(context.Context, string) error
	} = dataStore
	var tombs tombstone.Store = tombstone.NewMemoryStore(cfg.TombstoneTTL)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		refresh = redisStore

		redisTombs, err := tombstone.NewRedisStore(cfg.RedisURL, cfg.TombstoneTTL)
		if err != nil {
			log.Fatalf("redis tombstone store failed: %v", err)
		}
		tombs = redisTombs
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	var analyzer workspace.Analyzer
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		provider, err := analysis.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
		if err != nil {
			log.Fatalf("analysis provider failed: %v", err)
		}
		analyzer = analysis.New(provider)
		log.Printf("AI analysis enabled via %s", provider.Name())
	} else {
		log.Printf("OPENAI_API_KEY not set, AI analysis disabled")
	}

	coordinator := workspace.New(dataStore, registry.New(), tombs, analyzer).
		WithRecorder(historyService)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err := archive.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: raw analysis archive disabled: %v", err)
		} else {
			coordinator = coordinator.WithArchiver(archiver)
		}
	}

	exporter := export.NewService(dataStore)

	service := app.New(cfg, dataStore, dataStore, refresh, coordinator).
		WithHistory(historyService).
		WithSearch(searchService).
		WithExporter(exporter)

	go searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("argmap API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
