// Package config loads runtime settings from the environment and pipeline
// definitions from TOML files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Settings holds all runtime configuration for the pipeline engine.
type Settings struct {
	Store  StoreSettings
	Oracle OracleSettings
	Run    RunSettings
	App    AppSettings
}

// StoreSettings selects and configures the run state store backend.
type StoreSettings struct {
	Backend   string `validate:"oneof=memory badger postgres"`
	BadgerDir string `validate:"required_if=Backend badger"`
	DSN       string `validate:"required_if=Backend postgres"`
}

// OracleSettings configures the LLM collaborator.
type OracleSettings struct {
	APIKey      string
	Model       string
	MaxTokens   int     `validate:"min=0"`
	Temperature float64 `validate:"gte=0,lte=2"`
	InputPer1K  float64 `validate:"gte=0"`
	OutputPer1K float64 `validate:"gte=0"`
	EvalTimeout time.Duration
}

// RunSettings carries the run-level execution defaults.
type RunSettings struct {
	BudgetLimit   float64 `validate:"gte=0"`
	MaxConcurrent int     `validate:"min=1"`
	RunTimeout    time.Duration
}

// AppSettings holds process-level configuration.
type AppSettings struct {
	LogLevel     string `validate:"oneof=debug info warn error"`
	PipelineFile string
}

// Load reads settings from the environment, consulting a .env file when one
// exists, and validates the result.
func Load() (*Settings, error) {
	_ = godotenv.Load()

	s := &Settings{
		Store: StoreSettings{
			Backend:   getEnvWithDefault("COGWORKS_STORE", "memory"),
			BadgerDir: getEnvWithDefault("COGWORKS_BADGER_DIR", ".cogworks/state"),
			DSN:       getEnvWithDefault("COGWORKS_POSTGRES_DSN", ""),
		},
		Oracle: OracleSettings{
			APIKey:      getEnvWithDefault("OPENAI_API_KEY", ""),
			Model:       getEnvWithDefault("OPENAI_MODEL", ""),
			MaxTokens:   getEnvAsInt("OPENAI_MAX_TOKENS", 4096),
			Temperature: getEnvAsFloat("OPENAI_TEMPERATURE", 0.2),
			InputPer1K:  getEnvAsFloat("COGWORKS_COST_INPUT_PER_1K", 0.0),
			OutputPer1K: getEnvAsFloat("COGWORKS_COST_OUTPUT_PER_1K", 0.0),
			EvalTimeout: getEnvAsDuration("COGWORKS_ORACLE_TIMEOUT", 30*time.Second),
		},
		Run: RunSettings{
			BudgetLimit:   getEnvAsFloat("COGWORKS_BUDGET_LIMIT", 0),
			MaxConcurrent: getEnvAsInt("COGWORKS_MAX_CONCURRENT", 3),
			RunTimeout:    getEnvAsDuration("COGWORKS_RUN_TIMEOUT", 0),
		},
		App: AppSettings{
			LogLevel:     getEnvWithDefault("COGWORKS_LOG_LEVEL", "info"),
			PipelineFile: getEnvWithDefault("COGWORKS_PIPELINE_FILE", ".cogworks/pipeline.toml"),
		},
	}

	if err := validator.New().Struct(s); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

func getEnvWithDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
