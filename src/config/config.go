package config

import (
	"log"
	"os"
	"strconv"
)

type AppConfig struct {
	DatabasePath       string
	LogLevel           string
	ChunkSizeDays      int   // Calendar days covered by one import chunk
	MaxImportFileBytes int64 // Upper bound on a single statement file
}

var Cfg *AppConfig

// LoadConfig reads the application configuration from the environment,
// optionally seeded from a .env file. Call once at startup.
func LoadConfig() {
	loadDotEnv()

	log.Println("Loading application configuration...")

	chunkSizeDays := getEnvAsInt("CHUNK_SIZE_DAYS", 30)
	if chunkSizeDays < 1 {
		log.Printf("WARNING: CHUNK_SIZE_DAYS must be at least 1, got %d. Using default 30.", chunkSizeDays)
		chunkSizeDays = 30
	}

	maxImportFileBytesStr := getEnv("MAX_IMPORT_FILE_BYTES", "20971520")
	maxImportFileBytes, err := strconv.ParseInt(maxImportFileBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_IMPORT_FILE_BYTES format '%s'. Using default 20MB. Error: %v", maxImportFileBytesStr, err)
		maxImportFileBytes = 20 * 1024 * 1024
	}

	Cfg = &AppConfig{
		DatabasePath:       getEnv("DATABASE_PATH", "./optionfolio.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ChunkSizeDays:      chunkSizeDays,
		MaxImportFileBytes: maxImportFileBytes,
	}

	log.Printf("Configuration loaded: LogLevel=%s, DBPath=%s, ChunkSizeDays=%d",
		Cfg.LogLevel, Cfg.DatabasePath, Cfg.ChunkSizeDays)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}
