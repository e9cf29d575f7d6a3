// Package config provides configuration for the tutoring service.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// AI tutor (injected client; no ambient singletons)
	AIProvider string
	AIModel    string
	AIAPIKey   string
	AIBaseURL  string
	AITimeout  time.Duration

	// Voice service (optional)
	VoiceURL     string
	VoiceAPIKey  string
	VoiceTimeout time.Duration

	// Conversation context window
	ContextWindow int

	// WebSocket settings
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:    getEnvInt("HTTP_PORT", 8080),
		DatabaseURL: getEnv("DATABASE_URL", "file:tutorboard.db?cache=shared&mode=rwc&_foreign_keys=on"),

		AIProvider: getEnv("AI_PROVIDER", "openai"),
		AIModel:    getEnv("AI_MODEL", "gpt-4o-mini"),
		AIAPIKey:   getEnv("AI_API_KEY", ""),
		AIBaseURL:  getEnv("AI_BASE_URL", ""),
		AITimeout:  time.Duration(getEnvInt("AI_TIMEOUT_MS", 30000)) * time.Millisecond,

		VoiceURL:     getEnv("VOICE_URL", ""),
		VoiceAPIKey:  getEnv("VOICE_API_KEY", ""),
		VoiceTimeout: time.Duration(getEnvInt("VOICE_TIMEOUT_MS", 20000)) * time.Millisecond,

		ContextWindow: getEnvInt("CONTEXT_WINDOW", 5),

		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 262144)),

		LogFile:  getEnv("LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("LOG_LEVEL", "info")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
