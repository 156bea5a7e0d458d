package config

import (
	"os"
	"strconv"
	"strings"

	"wearsurvey/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Data      DataConfig
	Fit       FitConfig
	Analysis  AnalysisConfig
	Profiling ProfilingConfig
	LogLevel  string
}

// DatabaseConfig holds database connection settings. An empty URL disables
// result persistence.
type DatabaseConfig struct {
	URL     string
	SSLMode string
}

// Enabled reports whether results should be stored.
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

// DSN returns the URL with sslmode appended unless it already sets one.
func (d DatabaseConfig) DSN() string {
	if d.SSLMode == "" || strings.Contains(d.URL, "sslmode=") {
		return d.URL
	}
	sep := "?"
	if strings.Contains(d.URL, "?") {
		sep = "&"
	}
	return d.URL + sep + "sslmode=" + d.SSLMode
}

// ServerConfig holds report server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// DataConfig holds input and output locations
type DataConfig struct {
	DataFile  string
	PlanFile  string
	OutputDir string
}

// FitConfig holds the model fitter settings
type FitConfig struct {
	QuadraturePoints  int
	Optimizer         string
	MaxIterations     int
	GradientTolerance float64
	Link              string
}

// AnalysisConfig holds pipeline settings
type AnalysisConfig struct {
	Workers     int
	CodeVersion string
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string
	Enabled bool
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Database: DatabaseConfig{
			URL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
			SSLMode: getEnvOrDefault("SSL_MODE", "disable"),
		},
		Server: ServerConfig{
			Port:    getEnvOrDefault("PORT", "8080"),
			GinMode: getEnvOrDefault("GIN_MODE", "release"),
		},
		Data: DataConfig{
			DataFile:  getEnvOrDefault("DATA_FILE", ""),
			PlanFile:  getEnvOrDefault("PLAN_FILE", "plan.yaml"),
			OutputDir: getEnvOrDefault("OUTPUT_DIR", "out"),
		},
		Fit: FitConfig{
			QuadraturePoints:  getEnvIntOrDefault("QUADRATURE_POINTS", 10),
			Optimizer:         getEnvOrDefault("OPTIMIZER", "bfgs"),
			MaxIterations:     getEnvIntOrDefault("MAX_ITERATIONS", 500),
			GradientTolerance: getEnvFloatOrDefault("GRADIENT_TOLERANCE", 1e-3),
			Link:              getEnvOrDefault("LINK", "logit"),
		},
		Analysis: AnalysisConfig{
			Workers:     getEnvIntOrDefault("ANALYSIS_WORKERS", 1),
			CodeVersion: getEnvOrDefault("CODE_VERSION", "dev"),
		},
		Profiling: ProfilingConfig{
			Port:    getEnvOrDefault("PPROF_PORT", "6060"),
			Enabled: getEnvBoolOrDefault("PPROF_ENABLED", false),
		},
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.Fit.QuadraturePoints < 1 {
		return errors.ConfigInvalid("QUADRATURE_POINTS must be at least 1")
	}
	if config.Fit.MaxIterations < 1 {
		return errors.ConfigInvalid("MAX_ITERATIONS must be positive")
	}
	if !(config.Fit.GradientTolerance > 0) {
		return errors.ConfigInvalid("GRADIENT_TOLERANCE must be positive")
	}
	if config.Analysis.Workers < 1 {
		return errors.ConfigInvalid("ANALYSIS_WORKERS must be at least 1")
	}
	if config.Server.Port == "" {
		return errors.ConfigInvalid("PORT is required")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
