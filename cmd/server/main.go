package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruminate-app/backend/api"
	migrations "github.com/ruminate-app/backend/db"
	"github.com/ruminate-app/backend/internal/ai"
	"github.com/ruminate-app/backend/internal/config"
	"github.com/ruminate-app/backend/internal/db"
	"github.com/ruminate-app/backend/internal/queue"
	"github.com/ruminate-app/backend/internal/repository/sqlite"
	"github.com/ruminate-app/backend/pkg/ollama"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	log.Printf("Starting ruminate server version %s (built at %s)", version, buildTime)

	ctx := context.Background()

	// Open database connection and apply migrations
	database, err := db.New(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	if err := db.Migrate(ctx, database, migrations.Migrations); err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}

	repo := sqlite.New(database)

	// LLM engine
	ollamaClient, err := ollama.NewDefaultClient(cfg.OllamaConfig)
	if err != nil {
		log.Fatalf("Failed to create ollama client: %v", err)
	}
	engine, err := ai.NewEngine(ollamaClient, cfg.EngineConfig)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	// Processing queue
	cache := queue.NewTTLSnapshotCache(cfg.QueueConfig.SnapshotTTL)
	gate := queue.NewGate(repo, repo, repo, cache, cfg.QueueConfig.OverrideKey, nil)
	limiter := queue.NewRateLimiter(repo, cfg.QueueConfig)
	enqueuer := queue.NewEnqueuer(gate, limiter, repo, repo, repo, cfg.QueueConfig, nil)
	reverter := queue.NewReverter(repo, nil)
	contexts := ai.NewContextBuilder(repo)
	worker := queue.NewWorker(repo, repo, repo, repo, gate, limiter, engine, contexts, cfg.QueueConfig, nil)

	enqueuer.SetNotify(worker.Notify)
	worker.Start(ctx)

	handler := api.SetupRoutes(cfg, version, buildTime, database, enqueuer, reverter)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Stop the worker after the server stops accepting enqueues
	worker.Stop()

	if err := ollamaClient.Close(); err != nil {
		log.Printf("Error closing ollama client: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("Error closing DB: %v", err)
	}

	log.Println("Server exited")
}
