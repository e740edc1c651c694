package logger

import (
	"io"
	"os"
	"strconv"
)

// Config holds logger configuration.
type Config struct {
	Level       string    // debug, info, warn, error
	Format      string    // json, text
	Output      io.Writer // explicit output destination (highest priority)
	ServiceName string    // service name for log tagging
	Environment string    // local, dev, prod

	// File output with rotation, used outside the local environment
	File       string
	FileOnly   bool
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stdout,
		ServiceName: "listingsync",
		Environment: "local",
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	return &Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: getEnv("SERVICE_NAME", "listingsync"),
		Environment: getEnv("APP_ENV", "local"),

		File:     getEnv("LOG_FILE", "/var/log/listingsync/app.log"),
		FileOnly: getEnvBool("LOG_FILE_ONLY", false),

		MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 7),
		MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		Compress:   getEnvBool("LOG_COMPRESS", true),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return i
}
