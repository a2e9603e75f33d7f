package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/visionclass/backend/internal/api"
	"github.com/visionclass/backend/internal/cache"
	"github.com/visionclass/backend/internal/config"
	"github.com/visionclass/backend/internal/database"
	"github.com/visionclass/backend/internal/metrics"
)

func main() {
	// Load .env if present; real environments set variables directly
	if err := godotenv.Load(); err == nil {
		log.Println("[main] Loaded configuration from .env")
	}

	cfg := config.Load()

	log.Printf("[main] Starting VisionClass API (env=%s)", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	dbCfg := database.DefaultConfig(cfg.DatabaseURL)
	db, err := database.New(ctx, dbCfg)
	if err != nil {
		log.Fatalf("[main] Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Counter and cache store: Redis in production, in-memory fallback for
	// local development without Redis.
	var store cache.Store
	redisStore, err := cache.NewRedisFromURL(cfg.RedisURL)
	if err != nil {
		if cfg.IsProduction() {
			log.Fatalf("[main] Failed to connect to Redis: %v", err)
		}
		log.Printf("[main] Redis unavailable (%v), using in-memory store", err)
		memStore := cache.NewMemory(time.Minute)
		defer memStore.Close()
		store = memStore
	} else {
		defer redisStore.Close()
		store = redisStore
	}

	if cfg.EnableMetrics {
		metrics.Register()
	}

	app := api.NewServer(cfg, db, store)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		log.Printf("[main] Server listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[main] Shutting down server...")

	// Websocket connections are hijacked, so Shutdown will not close them.
	app.Streams.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Server forced to shutdown: %v", err)
	}

	log.Println("[main] Server stopped")
}
