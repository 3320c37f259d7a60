package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dxson/mmv/internal/api"
	"github.com/dxson/mmv/internal/config"
	"github.com/dxson/mmv/internal/db"
	"github.com/dxson/mmv/internal/index"
	"github.com/dxson/mmv/internal/queue"
	"github.com/dxson/mmv/internal/services"
	"github.com/dxson/mmv/internal/storage"
	"github.com/dxson/mmv/internal/worker"
)

func main() {
	log.Println("Starting MMV API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.EnsureSchema(ctx); err != nil {
		cancelInit()
		log.Fatalf("Failed to ensure schema: %v", err)
	}
	cancelInit()
	log.Println("Connected to database")

	// Connect to Redis queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()
	log.Println("Connected to Redis queue")

	// Initialize object storage and search index clients
	stor := storage.New(cfg.StorageURL, cfg.StorageKey, cfg.StorageBucket)
	search := index.New(cfg.IndexURL, cfg.IndexCollection)

	// Initialize services
	llmSvc := services.NewSceneLLM(cfg.OpenAIKey, cfg.OpenAIModel)
	visionSvc := services.NewVisionService(cfg.GeminiKey, cfg.GeminiModel)
	narrationSvc := services.NewNarrationService(cfg.NarrationURL, cfg.NarrationKey, cfg.NarrationVoice)
	highlightSvc := services.NewHighlightService(cfg.HighlightURL)
	transcoder := services.NewTranscoder(cfg.TempDir)

	// Create worker. The api layer also drives it for session and video
	// deletion, so it exists even when queue processing is disabled.
	w := worker.New(
		database, database, q, stor, search,
		llmSvc, visionSvc, narrationSvc, highlightSvc, transcoder,
		worker.Options{
			JournalDir:    filepath.Join(cfg.TempDir, "journals"),
			MusicPath:     cfg.BackgroundMusicPath,
			SceneSec:      cfg.SceneSeconds,
			FragmentSec:   cfg.FragmentSeconds,
			TransitionSec: cfg.TransitionSeconds,
			BatchSize:     cfg.RenderBatchSize,
		},
	)

	// Create API handler
	handler := api.NewHandler(database, q, w, cfg.TempDir)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start worker if enabled
	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")
		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.MaxConcurrentJobs)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown worker
	if workerCancel != nil {
		workerCancel()
	}

	// Shutdown HTTP server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
