// Package config loads bloodledger settings from BLOODLEDGER_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Blob drivers.
const (
	BlobFS     = "fs"
	BlobS3     = "s3"
	BlobMemory = "memory"
)

// Config is the process configuration.
type Config struct {
	Storage Storage
	Blob    Blob
	Tracing Tracing
	// TxTimeout bounds store calls made without a caller deadline.
	TxTimeout     time.Duration `env:"BLOODLEDGER_TX_TIMEOUT" envDefault:"5s"`
	RetryAttempts int           `env:"BLOODLEDGER_RETRY_ATTEMPTS" envDefault:"3"`
	LogEnv        string        `env:"BLOODLEDGER_LOG_ENV" envDefault:"development"`
	MetricsAddr   string        `env:"BLOODLEDGER_METRICS_ADDR" envDefault:":9090"`
}

// Storage selects the persistent store backend.
type Storage struct {
	Driver      string `env:"BLOODLEDGER_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"BLOODLEDGER_SQLITE_PATH" envDefault:"bloodledger.db"`
	PostgresDSN string `env:"BLOODLEDGER_POSTGRES_DSN"`
}

// Blob selects the photo blob backend.
type Blob struct {
	Driver string `env:"BLOODLEDGER_BLOB_DRIVER" envDefault:"fs"`
	FSRoot string `env:"BLOODLEDGER_BLOB_FS_ROOT" envDefault:"./blobdata"`
	S3     S3
}

// S3 holds the S3-compatible blob settings.
type S3 struct {
	Bucket    string `env:"BLOODLEDGER_BLOB_S3_BUCKET"`
	Region    string `env:"BLOODLEDGER_BLOB_S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"BLOODLEDGER_BLOB_S3_ENDPOINT"`
	PathStyle bool   `env:"BLOODLEDGER_BLOB_S3_PATH_STYLE"`
}

// Tracing configures span export. An empty endpoint leaves tracing off.
type Tracing struct {
	Endpoint    string `env:"BLOODLEDGER_OTEL_ENDPOINT"`
	ServiceName string `env:"BLOODLEDGER_OTEL_SERVICE_NAME" envDefault:"bloodledger"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// FromMap parses the given variables instead of the process environment.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and incomplete backend settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("BLOODLEDGER_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case BlobFS, BlobMemory:
	case BlobS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("BLOODLEDGER_BLOB_S3_BUCKET is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.TxTimeout <= 0 {
		return fmt.Errorf("BLOODLEDGER_TX_TIMEOUT must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("BLOODLEDGER_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}
