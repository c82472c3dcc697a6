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

	"github.com/joho/godotenv"

	"storyslip/api/internal/app"
	"storyslip/api/internal/archive"
	"storyslip/api/internal/authpw"
	"storyslip/api/internal/config"
	"storyslip/api/internal/conflicts"
	"storyslip/api/internal/email"
	"storyslip/api/internal/export"
	"storyslip/api/internal/locks"
	"storyslip/api/internal/media"
	"storyslip/api/internal/search"
	"storyslip/api/internal/session"
	"storyslip/api/internal/store"
	"storyslip/api/internal/versions"
)

func main() {
	_ = godotenv.Load()
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

	versionService := versions.New(dataStore, nil)
	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			log.Fatalf("failed to create archive dir: %v", err)
		}
		versionService = versions.New(dataStore, archive.New(cfg.ArchiveDir))
	}

	var lockManager locks.Manager
	if cfg.LockBackend == "redis" {
		log.Printf("Using Redis for edit locks")
		redisLocks, err := locks.NewRedisManager(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisLocks.Close()
		lockManager = redisLocks
	} else {
		log.Printf("Using PostgreSQL for edit locks")
		lockManager = locks.NewPostgresManager(db)
	}

	detector := conflicts.NewDetector(dataStore, lockManager)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		// Backfill the index so content saved during a Meilisearch outage
		// becomes searchable again.
		go searchService.ReindexAllFromPG(ctx)
	}

	var mediaService *media.Service
	if strings.TrimSpace(cfg.MediaEndpoint) != "" {
		mediaService, err = media.New(media.Config{
			Endpoint:  cfg.MediaEndpoint,
			AccessKey: cfg.MediaAccessKey,
			SecretKey: cfg.MediaSecretKey,
			Bucket:    cfg.MediaBucket,
			UseSSL:    cfg.MediaUseSSL,
		})
		if err != nil {
			log.Fatalf("media storage init failed: %v", err)
		}
		if err := mediaService.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: media bucket check failed: %v", err)
		}
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	deps := app.Deps{
		Store:    dataStore,
		Sessions: dataStore,
		Locks:    lockManager,
		Versions: versionService,
		Detector: detector,
		Search:   searchService,
		Export:   export.NewService(dataStore),
		Media:    mediaService,
		Email:    emailService,
		AuthPW:   authpw.NewService(dataStore),
	}

	// Refresh tokens live in Redis when configured, Postgres otherwise.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisSessions.Close()
		deps.Sessions = redisSessions
	}

	service := app.New(cfg, deps)

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
		log.Printf("StorySlip API listening on %s", cfg.Addr)
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
