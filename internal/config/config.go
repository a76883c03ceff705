package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPPort        int
	RelayHost       string
	RelayPort       int
	SandboxEnabled  bool
	SandboxPort     int
	SandboxPassword string
	SandboxReject   []string
	MaxUploadBytes  int64
	LogLevel        slog.Level
}

func Load() Config {
	return Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 3030),
		RelayHost:       getEnvString("RELAY_HOST", "smtp.gmail.com"),
		RelayPort:       getEnvInt("RELAY_PORT", 587),
		SandboxEnabled:  getEnvBool("SANDBOX_ENABLED", false),
		SandboxPort:     getEnvInt("SANDBOX_PORT", 2525),
		SandboxPassword: getEnvString("SANDBOX_PASSWORD", "sandbox"),
		SandboxReject:   getEnvList("SANDBOX_REJECT"),
		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_MB", 200)) << 20,
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var result []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	if value, ok := os.LookupEnv(key); ok {
		var level slog.Level
		if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err == nil {
			return level
		}
	}
	return fallback
}
