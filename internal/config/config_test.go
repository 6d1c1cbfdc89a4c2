package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	if cfg.Mode != ModeAll {
		t.Errorf("expected mode all, got %s", cfg.Mode)
	}
	if cfg.Serving.DefaultLimit != 10 {
		t.Errorf("expected default limit 10, got %d", cfg.Serving.DefaultLimit)
	}
	if cfg.Compaction.TieBreak != TieBreakHighestID {
		t.Errorf("expected tie-break highest_id, got %s", cfg.Compaction.TieBreak)
	}
}

func TestResolve_DerivesPathsFromDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/meridian"
	cfg.Resolve()

	if cfg.Storage.Path != filepath.Join("/var/lib/meridian", "storage") {
		t.Errorf("unexpected storage path: %s", cfg.Storage.Path)
	}
	if cfg.Ranking.DBPath != filepath.Join("/var/lib/meridian", "rankings.db") {
		t.Errorf("unexpected ranking db path: %s", cfg.Ranking.DBPath)
	}
	if cfg.Popularity.DBPath != filepath.Join("/var/lib/meridian", "popularity.db") {
		t.Errorf("unexpected popularity db path: %s", cfg.Popularity.DBPath)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid mode", func(c *Config) { c.Mode = "query" }},
		{"invalid storage type", func(c *Config) { c.Storage.Type = "gcs" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"invalid metadata policy", func(c *Config) { c.Ingest.MetadataPolicy = "ignore" }},
		{"invalid tie-break", func(c *Config) { c.Compaction.TieBreak = "random" }},
		{"zero retry attempts", func(c *Config) { c.Ingest.RetryMaxAttempts = 0 }},
		{"zero window hours", func(c *Config) { c.Compaction.WindowHours = 0 }},
		{"max limit below default", func(c *Config) { c.Serving.MaxLimit = 5 }},
		{"invalid ranking source", func(c *Config) { c.Ranking.Source = "redis" }},
		{"http ranking without endpoint", func(c *Config) { c.Ranking.Source = "http" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
mode: serve
data_dir: /tmp/meridian-test
serving:
  ranking_timeout: 200ms
  default_limit: 20
  max_limit: 50
compaction:
  tie_break: lowest_id
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Mode != ModeServe {
		t.Errorf("expected mode serve, got %s", cfg.Mode)
	}
	if cfg.Serving.RankingTimeout != 200*time.Millisecond {
		t.Errorf("expected ranking timeout 200ms, got %v", cfg.Serving.RankingTimeout)
	}
	if cfg.Serving.DefaultLimit != 20 {
		t.Errorf("expected default limit 20, got %d", cfg.Serving.DefaultLimit)
	}
	if cfg.Compaction.TieBreak != TieBreakLowestID {
		t.Errorf("expected tie-break lowest_id, got %s", cfg.Compaction.TieBreak)
	}
	// Untouched sections keep defaults.
	if cfg.HTTP.IngestAddr != ":8080" {
		t.Errorf("expected default ingest addr, got %s", cfg.HTTP.IngestAddr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MERIDIAN_MODE", "compact")
	t.Setenv("MERIDIAN_COMPACTION_TIE_BREAK", "lowest_id")
	t.Setenv("MERIDIAN_SERVING_RANKING_TIMEOUT", "75ms")
	t.Setenv("MERIDIAN_STORAGE_TYPE", "s3")
	t.Setenv("MERIDIAN_S3_BUCKET", "meridian-events")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Mode != ModeCompact {
		t.Errorf("expected mode compact, got %s", cfg.Mode)
	}
	if cfg.Compaction.TieBreak != TieBreakLowestID {
		t.Errorf("expected tie-break lowest_id, got %s", cfg.Compaction.TieBreak)
	}
	if cfg.Serving.RankingTimeout != 75*time.Millisecond {
		t.Errorf("expected ranking timeout 75ms, got %v", cfg.Serving.RankingTimeout)
	}
	if cfg.Storage.S3.Bucket != "meridian-events" {
		t.Errorf("expected bucket meridian-events, got %s", cfg.Storage.S3.Bucket)
	}
}

func TestModeFlags(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Mode = ModeAll
	if !cfg.ShouldRunIngest() || !cfg.ShouldRunServe() || !cfg.ShouldRunCompact() {
		t.Error("mode all should run every service")
	}

	cfg.Mode = ModeIngest
	if !cfg.ShouldRunIngest() || cfg.ShouldRunServe() || cfg.ShouldRunCompact() {
		t.Error("mode ingest should run only the ingest service")
	}

	cfg.Mode = ModeServe
	if cfg.ShouldRunIngest() || !cfg.ShouldRunServe() || cfg.ShouldRunCompact() {
		t.Error("mode serve should run only the recommendation service")
	}
}
