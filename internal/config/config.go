package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete packfs configuration. It is read
// only after process start; jobs never mutate it.
type Configuration struct {
	Collection CollectionConfig `yaml:"collection"`
	Scratch    ScratchConfig    `yaml:"scratch"`
	Lock       LockConfig       `yaml:"lock"`
	Codec      CodecConfig      `yaml:"codec"`
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// CollectionConfig describes the governed collection.
type CollectionConfig struct {
	// Root is the collection root; only objects strictly under it are
	// ever processed.
	Root string `yaml:"root"`

	// Pattern is the filename pattern an object must match, either a
	// plain suffix (".fastq") or a glob ("*.fastq").
	Pattern string `yaml:"pattern"`
}

// ScratchConfig describes the staging area roots and retention toggles.
type ScratchConfig struct {
	RemoteRoot string `yaml:"remote_root"`
	LocalRoot  string `yaml:"local_root"`

	// DeleteRemote and DeleteLocal control scratch cleanup. Disabling
	// them retains scratch files for debugging.
	DeleteRemote bool `yaml:"delete_remote"`
	DeleteLocal  bool `yaml:"delete_local"`
}

// LockConfig describes the object lock table.
type LockConfig struct {
	Dir          string        `yaml:"dir"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// StaleAfter is the staleness ceiling after which a lock left behind
	// by a crashed holder may be stolen.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// CodecConfig describes the transform engine.
type CodecConfig struct {
	// Algorithm selects the compressed form: "gzip" or "zstd".
	Algorithm string `yaml:"algorithm"`

	// Level is the compression level; zero selects the algorithm's fast
	// default.
	Level int `yaml:"level"`
}

// StoreConfig selects and configures the object store backend.
type StoreConfig struct {
	// Backend is "posix" for a mounted collection or "s3".
	Backend string `yaml:"backend"`

	S3 S3Config `yaml:"s3"`
}

// S3Config configures the S3 object store backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// EnableOptimizedUpload routes uploads through the CargoShip
	// transporter instead of plain PutObject.
	EnableOptimizedUpload bool `yaml:"enable_optimized_upload"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// MetricsConfig represents metrics settings. Jobs always record in
// process; enabling exposition additionally serves the registry over HTTP
// for the lifetime of the run. It defaults to off because a one-shot
// invocation rarely lives long enough to be scraped.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Collection: CollectionConfig{
			Pattern: ".fastq",
		},
		Scratch: ScratchConfig{
			LocalRoot:    "/tmp/packfs",
			DeleteRemote: true,
			DeleteLocal:  true,
		},
		Lock: LockConfig{
			Dir:          "/tmp/packfs/locks",
			Timeout:      30 * time.Second,
			PollInterval: 100 * time.Millisecond,
			StaleAfter:   1 * time.Hour,
		},
		Codec: CodecConfig{
			Algorithm: "gzip",
			Level:     0,
		},
		Store: StoreConfig{
			Backend: "posix",
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("PACKFS_COLLECTION_ROOT"); val != "" {
		c.Collection.Root = val
	}
	if val := os.Getenv("PACKFS_COLLECTION_PATTERN"); val != "" {
		c.Collection.Pattern = val
	}
	if val := os.Getenv("PACKFS_REMOTE_SCRATCH"); val != "" {
		c.Scratch.RemoteRoot = val
	}
	if val := os.Getenv("PACKFS_LOCAL_SCRATCH"); val != "" {
		c.Scratch.LocalRoot = val
	}
	if val := os.Getenv("PACKFS_LOCK_DIR"); val != "" {
		c.Lock.Dir = val
	}
	if val := os.Getenv("PACKFS_LOCK_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Lock.Timeout = duration
		}
	}
	if val := os.Getenv("PACKFS_LOCK_STALE_AFTER"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Lock.StaleAfter = duration
		}
	}
	if val := os.Getenv("PACKFS_CODEC"); val != "" {
		c.Codec.Algorithm = val
	}
	if val := os.Getenv("PACKFS_CODEC_LEVEL"); val != "" {
		if level, err := strconv.Atoi(val); err == nil {
			c.Codec.Level = level
		}
	}
	if val := os.Getenv("PACKFS_STORE_BACKEND"); val != "" {
		c.Store.Backend = val
	}
	if val := os.Getenv("PACKFS_S3_BUCKET"); val != "" {
		c.Store.S3.Bucket = val
	}
	if val := os.Getenv("PACKFS_S3_REGION"); val != "" {
		c.Store.S3.Region = val
	}
	if val := os.Getenv("PACKFS_S3_ENDPOINT"); val != "" {
		c.Store.S3.Endpoint = val
	}
	if val := os.Getenv("PACKFS_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("PACKFS_LOG_FILE"); val != "" {
		c.Logging.File = val
	}
	if val := os.Getenv("PACKFS_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Collection.Root == "" {
		return fmt.Errorf("collection root is required")
	}
	if c.Collection.Pattern == "" {
		return fmt.Errorf("collection pattern is required")
	}
	if c.Scratch.LocalRoot == "" {
		return fmt.Errorf("local scratch root is required")
	}
	if c.Lock.Timeout <= 0 {
		return fmt.Errorf("lock timeout must be greater than 0")
	}
	if c.Lock.PollInterval <= 0 {
		return fmt.Errorf("lock poll_interval must be greater than 0")
	}
	if c.Lock.StaleAfter <= c.Lock.Timeout {
		return fmt.Errorf("lock stale_after must exceed the lock timeout")
	}

	switch c.Codec.Algorithm {
	case "gzip", "zstd":
	default:
		return fmt.Errorf("invalid codec algorithm: %s (must be gzip or zstd)", c.Codec.Algorithm)
	}

	switch c.Store.Backend {
	case "posix":
	case "s3":
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid store backend: %s (must be posix or s3)", c.Store.Backend)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Logging.Level) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)",
			c.Logging.Level, strings.Join(validLogLevels, ", "))
	}

	return nil
}
