// Package config loads the process configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr string

	// DatabaseURL is the Postgres connection string. Empty selects the
	// in-memory store.
	DatabaseURL string

	// TriggerEnabled switches compute kinds between remote dispatch and
	// their local fallbacks.
	TriggerEnabled bool

	// TriggerAPIURL and TriggerAPIKey locate the remote task service.
	TriggerAPIURL string
	TriggerAPIKey string

	// TaskTimeout bounds one trigger-and-poll cycle.
	TaskTimeout time.Duration

	// PollInterval is the fixed delay between task status polls.
	PollInterval time.Duration

	// MaxLevelParallelism caps how many nodes of one level run at once.
	// Zero removes the cap, so every node of a level starts together.
	MaxLevelParallelism int

	// Durable asset provider credentials.
	DurableProviderName   string
	DurableProviderURL    string
	DurableProviderAPIKey string
	DurableProviderHost   string

	// Assembly API credentials for the resolver endpoint.
	AssemblyAPIURL string
	AssemblyAPIKey string

	// Model defaults applied when node data names none.
	DefaultLLMModel   string
	DefaultImageModel string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:            envString("HTTP_ADDR", ":8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		TriggerEnabled:      envBool("TRIGGER_ENABLED", false),
		TriggerAPIURL:       os.Getenv("TRIGGER_API_URL"),
		TriggerAPIKey:       os.Getenv("TRIGGER_API_KEY"),
		TaskTimeout:         envDurationMS("WORKFLOW_TASK_TIMEOUT_MS", 120000),
		PollInterval:        envDurationMS("WORKFLOW_POLL_INTERVAL_MS", 1000),
		MaxLevelParallelism: envNonNegativeInt("MAX_LEVEL_PARALLELISM", 8),

		DurableProviderName:   envString("DURABLE_PROVIDER_NAME", "cloudinary"),
		DurableProviderURL:    os.Getenv("DURABLE_PROVIDER_URL"),
		DurableProviderAPIKey: os.Getenv("DURABLE_PROVIDER_API_KEY"),
		DurableProviderHost:   os.Getenv("DURABLE_PROVIDER_HOST"),

		AssemblyAPIURL: os.Getenv("ASSEMBLY_API_URL"),
		AssemblyAPIKey: os.Getenv("ASSEMBLY_API_KEY"),

		DefaultLLMModel:   envString("DEFAULT_LLM_MODEL", "gpt-4o-mini"),
		DefaultImageModel: envString("DEFAULT_IMAGE_MODEL", "gpt-image-1"),
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	rawValue := os.Getenv(key)
	if rawValue == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(rawValue)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) int {
	rawValue := os.Getenv(key)
	if rawValue == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(rawValue)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func envNonNegativeInt(key string, fallback int) int {
	rawValue := os.Getenv(key)
	if rawValue == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(rawValue)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envDurationMS(key string, fallbackMS int) time.Duration {
	return time.Duration(envInt(key, fallbackMS)) * time.Millisecond
}
