package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Asset backends
const (
	AssetBackendContentStore = "contentstore"
	AssetBackendR2           = "r2"
	AssetBackendLocal        = "local"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port            string        `json:"port"`
	Env             string        `json:"env"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	HTTPTimeout     time.Duration `json:"http_timeout"`

	// Content store configuration
	ContentProjectID    string `json:"content_project_id"`
	ContentDataset      string `json:"content_dataset"`
	ContentAPIVersion   string `json:"content_api_version"`
	ContentAPIHost      string `json:"content_api_host"`
	ContentToken        string `json:"-"`
	ContentDocumentType string `json:"content_document_type"`
	ContentRetryCount   int    `json:"content_retry_count"`

	// Asset storage
	AssetBackend   string `json:"asset_backend"`
	AssetPublicURL string `json:"asset_public_url"`
	LocalAssetPath string `json:"local_asset_path"`
	MaxAssetSize   int64  `json:"max_asset_size"`

	// CloudFlare R2 Configuration
	R2Endpoint  string `json:"r2_endpoint"`
	R2AccessKey string `json:"-"`
	R2SecretKey string `json:"-"`
	R2Bucket    string `json:"r2_bucket"`
	R2AccountID string `json:"r2_account_id"`

	// Publishing transactions
	UploadTimeout      time.Duration `json:"upload_timeout"`
	TransactionTimeout time.Duration `json:"transaction_timeout"`
	CleanupTimeout     time.Duration `json:"cleanup_timeout"`
	MaxContentDepth    int           `json:"max_content_depth"`
	SlugAttempts       int           `json:"slug_attempts"`
	ArticleLockTTL     time.Duration `json:"article_lock_ttl"`

	// Redis configuration
	RedisURL            string        `json:"redis_url"`
	RedisPrefix         string        `json:"redis_prefix"`
	OrphanSweepInterval time.Duration `json:"orphan_sweep_interval"`

	// Logging
	LogLevel  string `json:"log_level"`
	LogFile   string `json:"log_file"`
	LogPretty bool   `json:"log_pretty"`

	// Security
	APIKey      string `json:"-"`
	AdminAPIKey string `json:"-"`
}

// Load loads configuration from environment variables and validates it
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg := FromEnv()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg
}

// FromEnv reads the configuration without loading .env or validating.
func FromEnv() *Config {
	return &Config{
		// Server configuration
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("APP_ENV", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HTTPTimeout:     getEnvAsDuration("HTTP_TIMEOUT", 60*time.Second),

		// Content store
		ContentProjectID:    getEnv("CONTENT_PROJECT_ID", ""),
		ContentDataset:      getEnv("CONTENT_DATASET", "production"),
		ContentAPIVersion:   getEnv("CONTENT_API_VERSION", "2024-01-01"),
		ContentAPIHost:      getEnv("CONTENT_API_HOST", "api.sanity.io"),
		ContentToken:        getEnv("CONTENT_TOKEN", ""),
		ContentDocumentType: getEnv("CONTENT_DOCUMENT_TYPE", "post"),
		ContentRetryCount:   getEnvAsInt("CONTENT_RETRY_COUNT", 2),

		// Asset storage
		AssetBackend:   strings.ToLower(getEnv("ASSET_BACKEND", AssetBackendContentStore)),
		AssetPublicURL: getEnv("ASSET_PUBLIC_URL", ""),
		LocalAssetPath: getEnv("LOCAL_ASSET_PATH", "./data/assets"),
		MaxAssetSize:   getEnvAsInt64("MAX_ASSET_SIZE", 10<<20), // 10MB

		// CloudFlare R2 Configuration
		R2Endpoint:  getEnv("R2_ENDPOINT", ""),
		R2AccessKey: getEnv("R2_ACCESS_KEY", ""),
		R2SecretKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:    getEnv("R2_BUCKET", "church-assets"),
		R2AccountID: getEnv("CLOUDFLARE_ACCOUNT_ID", ""),

		// Publishing transactions
		UploadTimeout:      getEnvAsDuration("UPLOAD_TIMEOUT", 20*time.Second),
		TransactionTimeout: getEnvAsDuration("TRANSACTION_TIMEOUT", 2*time.Minute),
		CleanupTimeout:     getEnvAsDuration("CLEANUP_TIMEOUT", 30*time.Second),
		MaxContentDepth:    getEnvAsInt("MAX_CONTENT_DEPTH", 64),
		SlugAttempts:       getEnvAsInt("SLUG_ATTEMPTS", 3),
		ArticleLockTTL:     getEnvAsDuration("ARTICLE_LOCK_TTL", 3*time.Minute),

		// Redis configuration
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:         getEnv("REDIS_PREFIX", "publisher:"),
		OrphanSweepInterval: getEnvAsDuration("ORPHAN_SWEEP_INTERVAL", 15*time.Minute),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFile:   getEnv("LOG_FILE", ""),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),

		// Security
		APIKey:      getEnv("API_KEY", ""),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ContentProjectID == "" {
		return fmt.Errorf("CONTENT_PROJECT_ID is required")
	}
	if c.ContentDataset == "" {
		return fmt.Errorf("CONTENT_DATASET is required")
	}

	switch c.AssetBackend {
	case AssetBackendContentStore:
	case AssetBackendR2:
		if c.R2AccessKey == "" || c.R2SecretKey == "" {
			return fmt.Errorf("asset backend %q requires R2_ACCESS_KEY and R2_SECRET_ACCESS_KEY", c.AssetBackend)
		}
		if c.R2Endpoint == "" && c.R2AccountID == "" {
			return fmt.Errorf("asset backend %q requires R2_ENDPOINT or CLOUDFLARE_ACCOUNT_ID", c.AssetBackend)
		}
	case AssetBackendLocal:
		if c.LocalAssetPath == "" {
			return fmt.Errorf("asset backend %q requires LOCAL_ASSET_PATH", c.AssetBackend)
		}
	default:
		return fmt.Errorf("unknown asset backend %q", c.AssetBackend)
	}

	if c.UploadTimeout <= 0 || c.TransactionTimeout <= 0 || c.CleanupTimeout <= 0 {
		return fmt.Errorf("upload, transaction and cleanup timeouts must be positive")
	}
	if c.MaxContentDepth <= 0 {
		return fmt.Errorf("MAX_CONTENT_DEPTH must be positive")
	}
	if c.SlugAttempts <= 0 {
		return fmt.Errorf("SLUG_ATTEMPTS must be positive")
	}

	return nil
}

// ContentBaseURL returns the versioned content store API root.
func (c *Config) ContentBaseURL() string {
	return fmt.Sprintf("https://%s.%s/v%s", c.ContentProjectID, c.ContentAPIHost, strings.TrimPrefix(c.ContentAPIVersion, "v"))
}

// R2BaseEndpoint returns the S3-compatible endpoint for the R2 account.
func (c *Config) R2BaseEndpoint() string {
	if c.R2Endpoint != "" {
		return c.R2Endpoint
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2AccountID)
}

// Helper functions for environment variable handling
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultVal int) int {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %d", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsInt64(name string, defaultVal int64) int64 {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %d", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %v", name, err, defaultVal)
		return defaultVal
	}
	return value
}

func getEnvAsBool(name string, defaultVal bool) bool {
	valueStr := getEnv(name, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid %s value: %v, using default: %t", name, err, defaultVal)
		return defaultVal
	}
	return value
}
