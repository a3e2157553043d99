// Package main is the entry point for the OCS scene server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ocs-studio/server/internal/api"
	"github.com/ocs-studio/server/internal/backend"
	"github.com/ocs-studio/server/internal/cache"
	"github.com/ocs-studio/server/internal/config"
	"github.com/ocs-studio/server/internal/export"
	"github.com/ocs-studio/server/internal/logging"
	"github.com/ocs-studio/server/internal/metrics"
	"github.com/ocs-studio/server/internal/ocs"
	"github.com/ocs-studio/server/internal/render"
	"github.com/ocs-studio/server/internal/scene"
	"github.com/ocs-studio/server/internal/store"
	"github.com/ocs-studio/server/pkg/colormap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Optional dotenv file")
	flag.Parse()

	// A missing .env is fine; real environment variables win.
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load %s: %v", *envPath, err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting OCS server",
		zap.Int("port", cfg.Server.Port),
		zap.String("ocs_url", cfg.Backend.OCSURL),
		zap.String("slice_url", cfg.Backend.SliceURL),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize cache manager (rendered frames + backend responses)
	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB:  cfg.Cache.FrameSizeMB,
		FrameTTL:          time.Duration(cfg.Cache.FrameTTLSeconds) * time.Second,
		ResponseCacheSize: cfg.Cache.ResponseCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheManager.Close()

	client := backend.New(backend.Config{
		OCSURL:        cfg.Backend.OCSURL,
		SliceURL:      cfg.Backend.SliceURL,
		SpectralDBURL: cfg.Backend.SpectralDBURL,
		Timeout:       cfg.Backend.Timeout(),
		SpectralTTL:   time.Duration(cfg.Cache.SpectralTTLMinutes) * time.Minute,
		Cache:         cacheManager,
		Logger:        logger,
	})

	bg, err := colormap.ParseHex(cfg.Render.Background)
	if err != nil {
		return fmt.Errorf("invalid render background: %w", err)
	}
	renderer := render.NewFrameRenderer(render.Config{
		FrameSize:      cfg.Render.FrameSize,
		SliceFrameSize: cfg.Render.SliceFrameSize,
		Background:     bg,
	}, cacheManager, m)

	st, err := store.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	blobs, err := export.OpenBlobStore(ctx, export.StoreConfig{
		Driver:    cfg.Export.Driver,
		Dir:       cfg.Export.Dir,
		Bucket:    cfg.Export.Bucket,
		Region:    cfg.Export.Region,
		Endpoint:  cfg.Export.Endpoint,
		PathStyle: cfg.Export.PathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to open export store: %w", err)
	}
	jobManager := export.NewJobManager(export.JobManagerConfig{
		MaxConcurrent: cfg.Export.MaxConcurrent,
		RetentionDays: cfg.Export.RetentionDays,
		CleanupPeriod: time.Hour,
	}, st, blobs, logger.Named("export"), m)
	jobManager.Start()
	defer jobManager.Stop()
	logger.Info("export job manager started",
		zap.String("driver", string(blobs.Driver())),
		zap.Int("max_concurrent", cfg.Export.MaxConcurrent),
		zap.Int("retention_days", cfg.Export.RetentionDays),
	)

	// The scene loop owns all scene state.
	loop := scene.NewLoop(client, scene.LoopConfig{
		FrameRate: cfg.Server.FrameRate,
		Scene: scene.Config{
			GridSpacing:     cfg.Scene.GridSpacing,
			SliceSpacing:    cfg.Scene.SliceSpacing,
			MeshScale:       cfg.Scene.MeshScale,
			SliceScale:      cfg.Scene.SliceScale,
			DragSensitivity: cfg.Scene.DragSensitivity,
			Logger:          logger,
			Outcomes:        m,
		},
	})
	// The session is restored before the first frame so the start-up
	// default entry is never fetched only to be replaced.
	sessions := api.NewSessionSaver(st, store.DefaultSessionID, logger)
	if err := sessions.Restore(ctx, loop); err != nil {
		logger.Warn("failed to restore session", zap.Error(err))
	}
	if err := sessions.Attach(ctx, loop); err != nil {
		return fmt.Errorf("failed to attach session saver: %w", err)
	}
	if err := loop.Setup(func(v *scene.View) error {
		v.OnEntriesChanged(func(entries []ocs.Entry) { m.SetEntries(len(entries)) })
		m.SetEntries(len(v.Entries()))
		return nil
	}); err != nil {
		return err
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		loop.Run(loopCtx)
		close(loopDone)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	saverCtx, stopSaver := context.WithCancel(context.Background())
	saverDone := make(chan struct{})
	go func() {
		sessions.Run(saverCtx)
		close(saverDone)
	}()
	defer func() {
		stopSaver()
		<-saverDone
	}()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Loop:        loop,
		Renderer:    renderer,
		Species:     client,
		Exports:     jobManager,
		Sessions:    sessions,
		Gatherer:    reg,
		Metrics:     m,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Backend.Timeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
