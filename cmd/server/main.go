// Package main is the entry point for the colocalization server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soma-tiles/spotcoloc/internal/api"
	"github.com/soma-tiles/spotcoloc/internal/cache"
	"github.com/soma-tiles/spotcoloc/internal/config"
	"github.com/soma-tiles/spotcoloc/internal/render"
	"github.com/soma-tiles/spotcoloc/internal/report"
	"github.com/soma-tiles/spotcoloc/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting colocalization server on port %d", cfg.Server.Port)
	log.Printf("Analysis: ymax=%d, coloc_threshold=%g, workers=%d",
		cfg.Analysis.YMax, cfg.Analysis.ColocThreshold, cfg.Analysis.Workers)

	ctx := context.Background()

	cacheManager, err := cache.NewManager(cache.Config{
		OverlayCacheSizeMB: cfg.Cache.OverlaySizeMB,
		OverlayTTL:         time.Duration(cfg.Cache.OverlayTTLMinutes) * time.Minute,
		ResultCacheSize:    cfg.Cache.ResultEntries,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	overlayRenderer, err := render.NewOverlayRenderer(render.Config{
		Size:         cfg.Render.Size,
		SpotRadius:   cfg.Render.SpotRadius,
		OutlineWidth: cfg.Render.OutlineWidth,
		Colormap:     cfg.Render.Colormap,
	})
	if err != nil {
		log.Fatalf("Failed to initialize overlay renderer: %v", err)
	}

	// Initialize run manager (SQLite persistence)
	runManager, err := api.NewRunManager(api.RunManagerConfig{
		MaxConcurrent: cfg.Server.MaxConcurrent,
		SQLitePath:    cfg.Store.SQLitePath,
		RetentionDays: cfg.Store.RetentionDays,
		CleanupPeriod: 1 * time.Hour,
	})
	if err != nil {
		log.Fatalf("Failed to initialize run manager: %v", err)
	}
	log.Printf("Run manager: max_concurrent=%d, retention_days=%d, sqlite=%s",
		cfg.Server.MaxConcurrent, cfg.Store.RetentionDays, cfg.Store.SQLitePath)

	executor := service.NewRunExecutor(cfg.Analysis.Workers, cacheManager)
	runManager.Executor = executor.Execute

	runManager.Start()
	defer runManager.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		RunManager:  runManager,
		Cache:       cacheManager,
		Renderer:    overlayRenderer,
		CORSOrigins: cfg.Server.CORSOrigins,
		YMax:        cfg.Analysis.YMax,
		Threshold:   cfg.Analysis.ColocThreshold,
		Columns:     report.Columns(cfg.Output.Columns),
		MaxUploadMB: cfg.Server.MaxUploadMB,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
