// Package config loads service settings from the environment, optionally seeded
// from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment variable read by Load.
const Prefix = "MITSNEWS_"

// Blob backends understood by cmd/api.
const (
	BlobMemory = "memory"
	BlobDir    = "dir"
	BlobOSS    = "oss"
)

// Config holds the runtime settings shared by the binaries under cmd/.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`
	PGDSN    string `env:"PG_DSN"`

	AuthSecret   string `env:"AUTH_SECRET"`
	AuthIssuer   string `env:"AUTH_ISSUER"`
	AuthAudience string `env:"AUTH_AUDIENCE"`

	BlobBackend    string `env:"BLOB_BACKEND" envDefault:"memory"`
	BlobDir        string `env:"BLOB_DIR" envDefault:"data/blobs"`
	BlobPublicBase string `env:"BLOB_PUBLIC_BASE" envDefault:"http://localhost:8080/media"`

	OSSEndpoint   string `env:"OSS_ENDPOINT"`
	OSSAccessKey  string `env:"OSS_ACCESS_KEY"`
	OSSSecretKey  string `env:"OSS_SECRET_KEY"`
	OSSBucket     string `env:"OSS_BUCKET"`
	OSSPublicBase string `env:"OSS_PUBLIC_BASE"`

	MaxUploadBytes    int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	UploadParallelism int           `env:"UPLOAD_PARALLELISM" envDefault:"4"`
	BlobTimeout       time.Duration `env:"BLOB_TIMEOUT" envDefault:"20s"`
	BlobRetries       uint          `env:"BLOB_RETRIES" envDefault:"3"`
	DBTimeout         time.Duration `env:"DB_TIMEOUT" envDefault:"5s"`

	SweepSchedule  string        `env:"SWEEP_SCHEDULE" envDefault:"@every 1h"`
	SweepRetention time.Duration `env:"SWEEP_RETENTION" envDefault:"24h"`

	RateBurst  int `env:"RATE_BURST" envDefault:"40"`
	RatePerSec int `env:"RATE_PER_SEC" envDefault:"20"`
}

// Load reads an optional .env file and parses the prefixed environment into a Config.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c Config) Validate() error {
	switch strings.ToLower(c.BlobBackend) {
	case BlobMemory, BlobDir:
	case BlobOSS:
		if c.OSSEndpoint == "" || c.OSSAccessKey == "" || c.OSSSecretKey == "" || c.OSSBucket == "" {
			return errors.New("config: oss backend requires OSS_ENDPOINT, OSS_ACCESS_KEY, OSS_SECRET_KEY and OSS_BUCKET")
		}
	default:
		return fmt.Errorf("config: unknown blob backend %q", c.BlobBackend)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("config: MAX_UPLOAD_BYTES must be positive")
	}
	if c.UploadParallelism <= 0 {
		return errors.New("config: UPLOAD_PARALLELISM must be positive")
	}
	return nil
}
