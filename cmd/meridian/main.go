// Package main implements the unified meridian binary.
// This binary can run all three services (ingest, serve, compact)
// concurrently or individual services based on the --mode flag.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/meridianlabs/meridian/internal/app"
	"github.com/meridianlabs/meridian/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpIngest  string
		httpServe   string
		httpCompact string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "all", "Service mode: all, ingest, serve, compact")
	flag.StringVar(&httpIngest, "http-ingest", "", "HTTP address for ingest service")
	flag.StringVar(&httpServe, "http-serve", "", "HTTP address for recommendation service")
	flag.StringVar(&httpCompact, "http-compact", "", "HTTP address for compaction service")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Meridian - Interaction Ingestion and Recommendation Serving\n\n")
		fmt.Fprintf(os.Stderr, "Usage: meridian [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  meridian --data-dir /data/meridian\n")
		fmt.Fprintf(os.Stderr, "  meridian --mode ingest --data-dir /data/meridian\n")
		fmt.Fprintf(os.Stderr, "  meridian --config /etc/meridian/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_MODE           Service mode (all, ingest, serve, compact)\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_DATA_DIR       Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_HTTP_*_ADDR    HTTP addresses for services\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_STORAGE_TYPE   Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  MERIDIAN_S3_BUCKET      S3 bucket for event storage\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("meridian version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Optional .env for local development; ignored when absent.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, dataDir, mode, httpIngest, httpServe, httpCompact)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Printf("Received signal: %v", sig)

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, mode, httpIngest, httpServe, httpCompact string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Command line flags win over file and environment.
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpIngest != "" {
		cfg.HTTP.IngestAddr = httpIngest
	}
	if httpServe != "" {
		cfg.HTTP.ServeAddr = httpServe
	}
	if httpCompact != "" {
		cfg.HTTP.CompactAddr = httpCompact
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                       MERIDIAN                            ║")
	log.Printf("║    Interaction Ingestion and Recommendation Serving       ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	log.Printf("")

	if cfg.ShouldRunIngest() {
		log.Printf("Ingest Service:")
		log.Printf("  HTTP: %s", cfg.HTTP.IngestAddr)
	}

	if cfg.ShouldRunServe() {
		log.Printf("Recommendation Service:")
		log.Printf("  HTTP: %s", cfg.HTTP.ServeAddr)
		log.Printf("  Ranking Source: %s", cfg.Ranking.Source)
	}

	if cfg.ShouldRunCompact() {
		log.Printf("Compaction Service:")
		log.Printf("  HTTP: %s", cfg.HTTP.CompactAddr)
		log.Printf("  Check Interval: %v", cfg.Compaction.CheckInterval)
	}

	log.Printf("")
}
