// Package config provides unified configuration for all Meridian services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll     Mode = "all"
	ModeIngest  Mode = "ingest"
	ModeServe   Mode = "serve"
	ModeCompact Mode = "compact"
)

// Metadata key policies for unknown keys at the ingestion boundary.
const (
	MetadataPolicyDrop   = "drop"
	MetadataPolicyReject = "reject"
)

// Dedup tie-break rules for records with equal processed_at.
const (
	TieBreakHighestID = "highest_id"
	TieBreakLowestID  = "lowest_id"
)

// Config holds the unified configuration for all Meridian services.
type Config struct {
	// Mode specifies which services to run: all, ingest, serve, compact
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for local data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Ingest service configuration
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Compaction service configuration
	Compaction CompactionConfig `json:"compaction" yaml:"compaction"`

	// Serving configuration
	Serving ServingConfig `json:"serving" yaml:"serving"`

	// Ranking source configuration
	Ranking RankingConfig `json:"ranking" yaml:"ranking"`

	// Popularity aggregate configuration
	Popularity PopularityConfig `json:"popularity" yaml:"popularity"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// IngestAddr is the HTTP address for the ingest service
	IngestAddr string `json:"ingest_addr" yaml:"ingest_addr"`

	// ServeAddr is the HTTP address for the recommendation service
	ServeAddr string `json:"serve_addr" yaml:"serve_addr"`

	// CompactAddr is the HTTP address for the compaction service
	CompactAddr string `json:"compact_addr" yaml:"compact_addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// IngestConfig holds ingest service configuration.
type IngestConfig struct {
	// MaxBatchRecords caps the number of records in one ingest request
	MaxBatchRecords int `json:"max_batch_records" yaml:"max_batch_records"`

	// RetryMaxAttempts is the number of write attempts before a record
	// is reported as an ingestion failure
	RetryMaxAttempts int `json:"retry_max_attempts" yaml:"retry_max_attempts"`

	// RetryBackoffBase is the base delay for exponential backoff between attempts
	RetryBackoffBase time.Duration `json:"retry_backoff_base" yaml:"retry_backoff_base"`

	// WriteConcurrency bounds concurrent partition writes per batch
	WriteConcurrency int `json:"write_concurrency" yaml:"write_concurrency"`

	// RateLimitPerSec is the ingest endpoint token refill rate (0 disables)
	RateLimitPerSec float64 `json:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`

	// RateLimitBurst is the ingest endpoint token bucket size
	RateLimitBurst int `json:"rate_limit_burst" yaml:"rate_limit_burst"`

	// MetadataAllowedKeys enumerates the metadata keys accepted at the boundary
	MetadataAllowedKeys []string `json:"metadata_allowed_keys" yaml:"metadata_allowed_keys"`

	// MetadataPolicy decides what happens to unknown metadata keys: drop or reject
	MetadataPolicy string `json:"metadata_policy" yaml:"metadata_policy"`
}

// CompactionConfig holds compaction service configuration.
type CompactionConfig struct {
	// CheckInterval is the interval between compaction runs
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`

	// WindowHours is the number of hourly partitions compacted per window
	WindowHours int `json:"window_hours" yaml:"window_hours"`

	// Delay is how far behind wall clock a window must be before it is
	// considered closed and eligible for compaction
	Delay time.Duration `json:"delay" yaml:"delay"`

	// LeaseTTL is how long a window lease is held before it may be taken over
	LeaseTTL time.Duration `json:"lease_ttl" yaml:"lease_ttl"`

	// ScanConcurrency bounds concurrent raw record downloads during a scan
	ScanConcurrency int `json:"scan_concurrency" yaml:"scan_concurrency"`

	// TieBreak selects the winner among duplicates with equal processed_at:
	// highest_id or lowest_id (by idempotency id)
	TieBreak string `json:"tie_break" yaml:"tie_break"`
}

// ServingConfig holds recommendation serving configuration.
type ServingConfig struct {
	// RankingTimeout is the sub-budget for the ranking source call (Tr)
	RankingTimeout time.Duration `json:"ranking_timeout" yaml:"ranking_timeout"`

	// PopularityTimeout is the sub-budget for the popularity store call (Tm)
	PopularityTimeout time.Duration `json:"popularity_timeout" yaml:"popularity_timeout"`

	// DefaultLimit is the item count when the request omits limit
	DefaultLimit int `json:"default_limit" yaml:"default_limit"`

	// MaxLimit caps the requested item count
	MaxLimit int `json:"max_limit" yaml:"max_limit"`
}

// RankingConfig holds ranking source configuration.
type RankingConfig struct {
	// Source selects the adapter: sqlite or http
	Source string `json:"source" yaml:"source"`

	// DBPath is the score database path (for sqlite source)
	DBPath string `json:"db_path" yaml:"db_path"`

	// Endpoint is the model server base URL (for http source)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// BreakerFailureThreshold trips the circuit after this many consecutive failures
	BreakerFailureThreshold uint32 `json:"breaker_failure_threshold" yaml:"breaker_failure_threshold"`

	// BreakerCooldown is how long the circuit stays open before probing
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// PopularityConfig holds popularity aggregate configuration.
type PopularityConfig struct {
	// DBPath is the aggregate database path
	DBPath string `json:"db_path" yaml:"db_path"`

	// RefreshInterval is the aggregate refresh cadence
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`

	// LookbackHours is how many canonical partitions each refresh scans
	LookbackHours int `json:"lookback_hours" yaml:"lookback_hours"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultMetadataKeys are the metadata keys producers are known to emit.
var DefaultMetadataKeys = []string{"session_id", "device_type", "location", "referrer"}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/meridian",
		HTTP: HTTPConfig{
			IngestAddr:   ":8080",
			ServeAddr:    ":8081",
			CompactAddr:  ":8082",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBatchRecords:     500,
			RetryMaxAttempts:    3,
			RetryBackoffBase:    100 * time.Millisecond,
			WriteConcurrency:    8,
			RateLimitPerSec:     0,
			RateLimitBurst:      100,
			MetadataAllowedKeys: DefaultMetadataKeys,
			MetadataPolicy:      MetadataPolicyDrop,
		},
		Compaction: CompactionConfig{
			CheckInterval:   5 * time.Minute,
			WindowHours:     1,
			Delay:           15 * time.Minute,
			LeaseTTL:        10 * time.Minute,
			ScanConcurrency: 8,
			TieBreak:        TieBreakHighestID,
		},
		Serving: ServingConfig{
			RankingTimeout:    150 * time.Millisecond,
			PopularityTimeout: 100 * time.Millisecond,
			DefaultLimit:      10,
			MaxLimit:          100,
		},
		Ranking: RankingConfig{
			Source:                  "sqlite",
			DBPath:                  "",
			BreakerFailureThreshold: 5,
			BreakerCooldown:         30 * time.Second,
		},
		Popularity: PopularityConfig{
			DBPath:          "",
			RefreshInterval: time.Minute,
			LookbackHours:   24,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/meridian"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}

	if c.Ranking.DBPath == "" {
		c.Ranking.DBPath = filepath.Join(c.DataDir, "rankings.db")
	}

	if c.Popularity.DBPath == "" {
		c.Popularity.DBPath = filepath.Join(c.DataDir, "popularity.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeIngest, ModeServe, ModeCompact:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, ingest, serve, or compact)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	switch c.Ingest.MetadataPolicy {
	case MetadataPolicyDrop, MetadataPolicyReject:
	default:
		return fmt.Errorf("invalid metadata policy: %s (must be drop or reject)", c.Ingest.MetadataPolicy)
	}

	switch c.Compaction.TieBreak {
	case TieBreakHighestID, TieBreakLowestID:
	default:
		return fmt.Errorf("invalid tie-break rule: %s (must be highest_id or lowest_id)", c.Compaction.TieBreak)
	}

	if c.Ingest.RetryMaxAttempts < 1 {
		return fmt.Errorf("ingest.retry_max_attempts must be >= 1, got %d", c.Ingest.RetryMaxAttempts)
	}

	if c.Compaction.WindowHours < 1 {
		return fmt.Errorf("compaction.window_hours must be >= 1, got %d", c.Compaction.WindowHours)
	}

	if c.Serving.DefaultLimit < 1 {
		return fmt.Errorf("serving.default_limit must be >= 1, got %d", c.Serving.DefaultLimit)
	}

	if c.Serving.MaxLimit < c.Serving.DefaultLimit {
		return fmt.Errorf("serving.max_limit must be >= default_limit, got %d", c.Serving.MaxLimit)
	}

	if c.Ranking.Source != "sqlite" && c.Ranking.Source != "http" {
		return fmt.Errorf("invalid ranking source: %s (must be sqlite or http)", c.Ranking.Source)
	}

	if c.Ranking.Source == "http" && c.Ranking.Endpoint == "" {
		return fmt.Errorf("ranking.endpoint is required when ranking source is http")
	}

	return nil
}

// ShouldRunIngest returns true if the ingest service should run.
func (c *Config) ShouldRunIngest() bool {
	return c.Mode == ModeAll || c.Mode == ModeIngest
}

// ShouldRunServe returns true if the recommendation service should run.
func (c *Config) ShouldRunServe() bool {
	return c.Mode == ModeAll || c.Mode == ModeServe
}

// ShouldRunCompact returns true if the compaction service should run.
func (c *Config) ShouldRunCompact() bool {
	return c.Mode == ModeAll || c.Mode == ModeCompact
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MERIDIAN_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MERIDIAN_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("MERIDIAN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("MERIDIAN_HTTP_INGEST_ADDR"); v != "" {
		cfg.HTTP.IngestAddr = v
	}
	if v := os.Getenv("MERIDIAN_HTTP_SERVE_ADDR"); v != "" {
		cfg.HTTP.ServeAddr = v
	}
	if v := os.Getenv("MERIDIAN_HTTP_COMPACT_ADDR"); v != "" {
		cfg.HTTP.CompactAddr = v
	}

	// Ingest configuration
	if v := os.Getenv("MERIDIAN_INGEST_RETRY_MAX_ATTEMPTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Ingest.RetryMaxAttempts)
	}
	if v := os.Getenv("MERIDIAN_INGEST_RETRY_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.RetryBackoffBase = d
		}
	}
	if v := os.Getenv("MERIDIAN_INGEST_METADATA_POLICY"); v != "" {
		cfg.Ingest.MetadataPolicy = v
	}

	// Compaction configuration
	if v := os.Getenv("MERIDIAN_COMPACTION_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Compaction.CheckInterval = d
		}
	}
	if v := os.Getenv("MERIDIAN_COMPACTION_WINDOW_HOURS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Compaction.WindowHours)
	}
	if v := os.Getenv("MERIDIAN_COMPACTION_TIE_BREAK"); v != "" {
		cfg.Compaction.TieBreak = v
	}

	// Serving configuration
	if v := os.Getenv("MERIDIAN_SERVING_RANKING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Serving.RankingTimeout = d
		}
	}
	if v := os.Getenv("MERIDIAN_SERVING_POPULARITY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Serving.PopularityTimeout = d
		}
	}

	// Ranking configuration
	if v := os.Getenv("MERIDIAN_RANKING_SOURCE"); v != "" {
		cfg.Ranking.Source = v
	}
	if v := os.Getenv("MERIDIAN_RANKING_ENDPOINT"); v != "" {
		cfg.Ranking.Endpoint = v
	}

	// Storage configuration
	if v := os.Getenv("MERIDIAN_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("MERIDIAN_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("MERIDIAN_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("MERIDIAN_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("MERIDIAN_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
