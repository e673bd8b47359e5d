// Package config centralizes how voxform reads environment variables and
// exposes them as strongly typed values.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration for the service and CLI.
type Config struct {
	Address      string
	DataDir      string
	SQLitePath   string
	MaxAudioSize int64

	// Remote processing (MAUI). An empty BaseURL degrades transcription and
	// form compilation to the mock backend.
	MauiBaseURL     string
	MauiAPIKey      string
	GraphQLEndpoint string
	Language        string
	RequestTimeout  time.Duration

	// Auth backend. Empty AuthBaseURL selects mock login/validation.
	AuthBaseURL string

	// Form compilation inputs: a JSON document bundling the schema, example
	// data and choice set submitted alongside each transcript.
	FormSchemaPath string

	// Distributed mode (cmd/worker and the Postgres-backed store).
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Blob storage for the Postgres-backed store. Empty S3Endpoint keeps
	// audio payloads on the local filesystem under DataDir.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Region    string
	AudioBucket string

	Workers int
}

const (
	defaultAddress      = ":8080"
	defaultMaxAudioSize = 50 << 20 // 50 MiB
	defaultLanguage     = "ITA"
	defaultTimeout      = 2 * time.Minute
	defaultWorkerCount  = 2
	defaultAudioBucket  = "voxform-audio"
)

// Load reads configuration from environment variables falling back to
// defaults. A .env file in the working directory is honored for keys not
// already set.
func Load() (*Config, error) {
	LoadDotEnv(".env")
	dataDir := readEnv("VOXFORM_DATA_DIR", defaultDataDir())
	cfg := &Config{
		Address:         readEnv("VOXFORM_ADDRESS", defaultAddress),
		DataDir:         dataDir,
		SQLitePath:      readEnv("VOXFORM_SQLITE_PATH", filepath.Join(dataDir, "voxform.sqlite")),
		MaxAudioSize:    parseInt64("VOXFORM_MAX_AUDIO_BYTES", defaultMaxAudioSize),
		MauiBaseURL:     strings.TrimRight(readEnv("VOXFORM_MAUI_URL", ""), "/"),
		MauiAPIKey:      readEnv("VOXFORM_MAUI_API_KEY", ""),
		GraphQLEndpoint: readEnv("VOXFORM_GRAPHQL_ENDPOINT", ""),
		Language:        readEnv("VOXFORM_LANGUAGE", defaultLanguage),
		RequestTimeout:  parseDuration("VOXFORM_REQUEST_TIMEOUT", defaultTimeout),
		AuthBaseURL:     strings.TrimRight(readEnv("VOXFORM_AUTH_URL", ""), "/"),
		FormSchemaPath:  readEnv("VOXFORM_FORM_SCHEMA", ""),
		DatabaseURL:     readEnv("VOXFORM_DATABASE_URL", ""),
		RedisAddr:       readEnv("VOXFORM_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:   readEnv("VOXFORM_REDIS_PASSWORD", ""),
		RedisDB:         parseInt("VOXFORM_REDIS_DB", 0),
		S3Endpoint:      readEnv("VOXFORM_S3_ENDPOINT", ""),
		S3AccessKey:     readEnv("VOXFORM_S3_ACCESS_KEY", ""),
		S3SecretKey:     readEnv("VOXFORM_S3_SECRET_KEY", ""),
		S3UseSSL:        parseBool("VOXFORM_S3_USE_SSL", false),
		S3Region:        readEnv("VOXFORM_S3_REGION", "us-east-1"),
		AudioBucket:     readEnv("VOXFORM_AUDIO_BUCKET", defaultAudioBucket),
		Workers:         parseInt("VOXFORM_WORKERS", defaultWorkerCount),
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.MaxAudioSize <= 0 {
		cfg.MaxAudioSize = defaultMaxAudioSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	return cfg, nil
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".voxform")
	}
	return filepath.Join(os.TempDir(), "voxform")
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
