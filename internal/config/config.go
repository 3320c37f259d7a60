package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Object storage
	StorageURL    string
	StorageKey    string
	StorageBucket string

	// Search index
	IndexURL        string
	IndexCollection string

	// OpenAI (scene selection and description rewriting)
	OpenAIKey   string
	OpenAIModel string

	// Gemini (frame description during ingest)
	GeminiKey   string
	GeminiModel string

	// Narration synthesizer
	NarrationURL   string
	NarrationKey   string
	NarrationVoice string

	// Highlight detection service
	HighlightURL string

	// Media
	TempDir             string
	BackgroundMusicPath string  // Path to default background music file
	SceneSeconds        float64 // Target length of one scene segment
	FragmentSeconds     float64 // Pre-split ceiling for ingested sources
	TransitionSeconds   float64 // Crossfade overlap between scenes

	// Worker
	MaxConcurrentJobs int
	RenderBatchSize   int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:             getEnv("API_PORT", "8080"),
		WorkerEnabled:       getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:       getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:  getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageURL:          getEnv("STORAGE_URL", ""),
		StorageKey:          getEnv("STORAGE_KEY", ""),
		StorageBucket:       getEnv("STORAGE_BUCKET", "mmv"),
		IndexURL:            getEnv("INDEX_URL", ""),
		IndexCollection:     getEnv("INDEX_COLLECTION", "fragments"),
		OpenAIKey:           getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o"),
		GeminiKey:           getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		NarrationURL:        getEnv("NARRATION_URL", ""),
		NarrationKey:        getEnv("NARRATION_API_KEY", ""),
		NarrationVoice:      getEnv("NARRATION_VOICE_ID", ""),
		HighlightURL:        getEnv("HIGHLIGHT_URL", ""),
		TempDir:             getEnv("TEMP_DIR", os.TempDir()),
		BackgroundMusicPath: getEnv("BACKGROUND_MUSIC_PATH", "assets/music/music.mp3"),
		SceneSeconds:        getEnvFloat("SCENE_SECONDS", 20),
		FragmentSeconds:     getEnvFloat("FRAGMENT_SECONDS", 120),
		TransitionSeconds:   getEnvFloat("TRANSITION_SECONDS", 2),
		MaxConcurrentJobs:   getEnvInt("MAX_CONCURRENT_JOBS", 5),
		RenderBatchSize:     getEnvInt("RENDER_BATCH_SIZE", 5),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	if cfg.StorageURL == "" || cfg.StorageKey == "" {
		return nil, fmt.Errorf("STORAGE_URL and STORAGE_KEY are required")
	}

	if cfg.IndexURL == "" {
		return nil, fmt.Errorf("INDEX_URL is required")
	}

	if cfg.NarrationURL == "" {
		return nil, fmt.Errorf("NARRATION_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
