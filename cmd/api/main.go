package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"
	"golang.org/x/time/rate"

	"voxium/internal/app"
	"voxium/internal/config"
	"voxium/internal/hub"
	"voxium/internal/presence"
	"voxium/internal/search"
	"voxium/internal/store"
	"voxium/internal/uploads"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir), log); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	dataStore := store.NewPostgresStore(db)

	registry := presence.NewRegistry(log)
	defer registry.Close()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		mirror, err := presence.NewRedisMirror(cfg.RedisURL)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer mirror.Close()
		registry.SetMirror(mirror)
		log.Info("mirroring presence to redis")
	}

	files, uploadServer, err := openUploads(ctx, cfg, log)
	if err != nil {
		log.Error("uploads backend failed", "backend", cfg.UploadsBackend, "error", err)
		os.Exit(1)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, log)

	h := hub.New(log, registry, hub.Options{
		SendBuffer:       cfg.HubSendBuffer,
		BroadcastBuffer:  cfg.HubBroadcastBuffer,
		FilterByRoomRole: cfg.HubFilterByRoomRole,
		ReadLimit:        cfg.WSReadLimit,
		RateLimit:        rate.Limit(cfg.WSRateLimit),
		RateBurst:        cfg.WSRateBurst,
	})

	service := app.New(cfg, dataStore, h, h, files, searchService, log)
	if err := service.Bootstrap(ctx); err != nil {
		log.Warn("bootstrap error, will retry on next restart", "error", err)
	}
	h.SetInbound(service.HandleFrame)
	go h.Run()

	httpServer := app.NewHTTPServer(service, h, uploadServer, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("voxium listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := h.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Warn("hub shutdown", "error", err)
	}
	log.Info("voxium stopped")
}

// openUploads picks the image backend. Only the local backend serves files.
func openUploads(ctx context.Context, cfg config.Config, log *slog.Logger) (app.FileRemover, app.UploadServer, error) {
	if cfg.UploadsBackend == "minio" {
		minioStore, err := uploads.NewMinioStore(uploads.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
			URLPrefix: cfg.UploadsURLPrefix,
		})
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := minioStore.Ping(pingCtx); err != nil {
			log.Warn("minio bucket check failed, removals may fail", "bucket", cfg.MinioBucket, "error", err)
		}
		return minioStore, nil, nil
	}

	local, err := uploads.NewLocalStore(cfg.UploadsDir, cfg.UploadsURLPrefix)
	if err != nil {
		return nil, nil, err
	}
	log.Info("serving uploads", "dir", local.Dir(), "prefix", local.Prefix())
	return local, local, nil
}
