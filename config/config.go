// Package config provides configuration types and loading for cardexd.
// Values come from the environment, keyed by the CARDEX prefix plus the
// group and field names, e.g. CARDEX_SERVER_LISTEN_ADDR,
// CARDEX_STORE_DATA_DIR, CARDEX_EMBEDDER_BASE_URL.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cardexio/cardex/persistence"
)

// EnvPrefix is the environment variable prefix for all settings.
const EnvPrefix = "cardex"

// Config is the root configuration struct.
// Top-level groups: Server, Store, Embedder, Price, Blob, Log.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Store    StoreConfig    `json:"store"`
	Embedder EmbedderConfig `json:"embedder"`
	Price    PriceConfig    `json:"price"`
	Blob     BlobConfig     `json:"blob"`
	Log      LogConfig      `json:"log"`
}

// ServerConfig groups the HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string        `json:"listenAddr" envconfig:"LISTEN_ADDR" default:":8080"`
	MaxUploadBytes  int64         `json:"maxUploadBytes" envconfig:"MAX_UPLOAD_BYTES" default:"16777216"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	EnableMetrics   bool          `json:"enableMetrics" envconfig:"ENABLE_METRICS" default:"true"`
}

// StoreConfig groups the matching store settings.
type StoreConfig struct {
	DataDir          string `json:"dataDir" envconfig:"DATA_DIR" default:"./data"`
	Dimension        int    `json:"dimension" envconfig:"DIMENSION" default:"2048"`
	CheckpointEveryN int    `json:"checkpointEveryN" envconfig:"CHECKPOINT_EVERY" default:"100"`
	Compression      string `json:"compression" envconfig:"COMPRESSION" default:"none"`
	DisableWAL       bool   `json:"disableWal" envconfig:"DISABLE_WAL"`
	WALSync          bool   `json:"walSync" envconfig:"WAL_SYNC"`
}

// EmbedderConfig groups the embedding service settings. An empty BaseURL
// disables embedding; the service runs in hash-only mode.
type EmbedderConfig struct {
	BaseURL string        `json:"baseUrl" envconfig:"BASE_URL"`
	Timeout time.Duration `json:"timeout" envconfig:"TIMEOUT" default:"30s"`
}

// PriceConfig groups the external price provider settings. An empty
// BaseURL disables price enrichment.
type PriceConfig struct {
	BaseURL           string        `json:"baseUrl" envconfig:"BASE_URL"`
	TTL               time.Duration `json:"ttl" envconfig:"TTL" default:"1h"`
	RequestsPerSecond float64       `json:"requestsPerSecond" envconfig:"RPS" default:"10"`
}

// BlobConfig groups the card image store settings. Backend selects the
// implementation: "local", "s3" or "minio"; empty disables image storage.
type BlobConfig struct {
	Backend   string `json:"backend" envconfig:"BACKEND"`
	LocalDir  string `json:"localDir" envconfig:"LOCAL_DIR"`
	Bucket    string `json:"bucket" envconfig:"BUCKET"`
	Prefix    string `json:"prefix" envconfig:"PREFIX"`
	Endpoint  string `json:"endpoint" envconfig:"ENDPOINT"`
	Region    string `json:"region" envconfig:"REGION"`
	AccessKey string `json:"accessKey" envconfig:"ACCESS_KEY"`
	SecretKey string `json:"secretKey" envconfig:"SECRET_KEY"`
	UseSSL    bool   `json:"useSsl" envconfig:"USE_SSL" default:"true"`
}

// LogConfig groups logging settings.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL" default:"info"`
	Format string `json:"format" envconfig:"FORMAT" default:"text"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the env parser cannot express.
func (c *Config) Validate() error {
	if c.Store.Dimension <= 0 {
		return fmt.Errorf("store dimension must be positive, got %d", c.Store.Dimension)
	}
	if c.Store.CheckpointEveryN <= 0 {
		return fmt.Errorf("checkpoint interval must be positive, got %d", c.Store.CheckpointEveryN)
	}
	if !persistence.ValidCompression(c.Store.Compression) {
		return fmt.Errorf("unsupported compression %q", c.Store.Compression)
	}

	switch c.Blob.Backend {
	case "", "local", "s3", "minio":
	default:
		return fmt.Errorf("unsupported blob backend %q", c.Blob.Backend)
	}
	if c.Blob.Backend == "local" && c.Blob.LocalDir == "" {
		return fmt.Errorf("blob backend %q requires CARDEX_BLOB_LOCAL_DIR", c.Blob.Backend)
	}
	if (c.Blob.Backend == "s3" || c.Blob.Backend == "minio") && c.Blob.Bucket == "" {
		return fmt.Errorf("blob backend %q requires CARDEX_BLOB_BUCKET", c.Blob.Backend)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}

	return nil
}
