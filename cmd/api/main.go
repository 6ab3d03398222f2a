package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"jobboard/api/internal/app"
	"jobboard/api/internal/attachments"
	"jobboard/api/internal/cache"
	"jobboard/api/internal/config"
	"jobboard/api/internal/search"
	"jobboard/api/internal/store"
	"jobboard/api/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := telemetry.ConfigureLogging(cfg.LogLevel); err != nil {
		log.Fatalf("logging: %v", err)
	}
	shutdownTracing := telemetry.InstallTracing("jobboard-api")
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	service := app.New(cfg, store.NewPostgresStore(db, cfg.LockTimeout))

	if strings.TrimSpace(cfg.RedisURL) != "" {
		boardCache, err := cache.NewBoardCache(cfg.RedisURL, cfg.BoardCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer boardCache.Close()
		service.UseCache(boardCache)
		log.Info("board listing cache enabled")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	service.UseSearch(search.NewService(meiliClient, search.NewPgSearch(db)))
	go service.Reindex(ctx)

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		bucket, err := attachments.New(attachments.Config{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Bucket:     cfg.MinioBucket,
			UseSSL:     cfg.MinioUseSSL,
			PresignTTL: cfg.PresignTTL,
		})
		if err != nil {
			log.Fatalf("object storage: %v", err)
		}
		if err := bucket.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("attachment bucket unavailable, uploads will fail until it exists")
		}
		service.UseAttachments(bucket)
	} else {
		log.Info("attachments disabled: no object storage endpoint configured")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("job board API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown error")
	}
}
