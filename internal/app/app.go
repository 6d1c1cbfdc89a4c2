// Package app provides the unified application lifecycle management for Meridian.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/meridianlabs/meridian/internal/aggregate"
	httpapi "github.com/meridianlabs/meridian/internal/api/http"
	"github.com/meridianlabs/meridian/internal/compaction"
	"github.com/meridianlabs/meridian/internal/config"
	"github.com/meridianlabs/meridian/internal/ingest"
	"github.com/meridianlabs/meridian/internal/metrics"
	"github.com/meridianlabs/meridian/internal/ranking"
	"github.com/meridianlabs/meridian/internal/recommend"
	"github.com/meridianlabs/meridian/internal/server"
	"github.com/meridianlabs/meridian/internal/storage"
)

// App manages all Meridian service lifecycles.
type App struct {
	cfg *config.Config

	// Shared resources
	storage  storage.ObjectStorage
	metrics  *metrics.Metrics
	shutdown *server.ShutdownManager

	// Service components
	ingestServer  *http.Server
	serveServer   *http.Server
	compactServer *http.Server
	compactDaemon *compaction.Daemon
	refresher     *aggregate.Refresher

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg: cfg,
	}, nil
}

// Start initializes shared resources and starts all configured services.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	if a.cfg.ShouldRunIngest() {
		if err := a.startIngestService(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start ingest service: %w", err)
		}
	}

	if a.cfg.ShouldRunServe() {
		if err := a.startServeService(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start recommendation service: %w", err)
		}
	}

	if a.cfg.ShouldRunCompact() {
		if err := a.startCompactService(ctx); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start compaction service: %w", err)
		}
	}

	log.Printf("Meridian started in %s mode", a.cfg.Mode)
	return nil
}

// initSharedResources initializes storage, metrics, and the shutdown manager.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		}
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Storage initialized: type=%s", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == "s3" {
		log.Printf("S3 Config: Bucket=%s, Region=%s, Endpoint=%s",
			a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
	}

	a.metrics = metrics.New()
	a.shutdown = server.NewShutdownManager()

	return nil
}

// startIngestService starts the ingest HTTP server.
func (a *App) startIngestService() error {
	writer := ingest.NewPartitionedWriter(a.storage, a.cfg.Ingest.RetryMaxAttempts, a.cfg.Ingest.RetryBackoffBase, a.metrics)
	processor := ingest.NewProcessor(writer, a.cfg.Ingest)
	router := httpapi.NewIngestRouter(processor, a.cfg.Ingest, a.metrics)

	a.ingestServer = a.newHTTPServer(a.cfg.HTTP.IngestAddr, router)
	a.serveHTTP("ingest", a.ingestServer)
	return nil
}

// startServeService starts the recommendation HTTP server along with the
// popularity refresher feeding its aggregates.
func (a *App) startServeService(ctx context.Context) error {
	popStore, err := aggregate.NewStore(a.cfg.Popularity.DBPath)
	if err != nil {
		return err
	}
	a.shutdown.RegisterCloser(popStore)

	var source ranking.Source
	switch a.cfg.Ranking.Source {
	case "http":
		source = ranking.NewHTTPSource(a.cfg.Ranking)
	default:
		source, err = ranking.NewSQLiteSource(a.cfg.Ranking.DBPath)
		if err != nil {
			return err
		}
	}
	a.shutdown.RegisterCloser(source)
	log.Printf("Ranking source initialized: type=%s", a.cfg.Ranking.Source)

	a.refresher = aggregate.NewRefresher(a.storage, popStore, a.cfg.Popularity)
	if err := a.refresher.Start(ctx); err != nil {
		return err
	}
	a.shutdown.RegisterCloser(server.CloserFunc(a.refresher.Stop))

	recommender := recommend.NewRecommender(source, popStore, a.cfg.Serving)
	router := httpapi.NewServeRouter(recommender, a.metrics)

	a.serveServer = a.newHTTPServer(a.cfg.HTTP.ServeAddr, router)
	a.serveHTTP("recommendation", a.serveServer)
	return nil
}

// startCompactService starts the compaction daemon and its admin server.
func (a *App) startCompactService(ctx context.Context) error {
	a.compactDaemon = compaction.NewDaemon(a.cfg.Compaction, a.storage, a.metrics)
	if err := a.compactDaemon.Start(ctx); err != nil {
		return err
	}
	a.shutdown.RegisterCloser(server.CloserFunc(a.compactDaemon.Stop))
	log.Printf("Compaction daemon started: interval=%v, window=%dh",
		a.cfg.Compaction.CheckInterval, a.cfg.Compaction.WindowHours)

	router := httpapi.NewCompactRouter(a.compactDaemon, a.metrics)
	a.compactServer = a.newHTTPServer(a.cfg.HTTP.CompactAddr, router)
	a.serveHTTP("compaction", a.compactServer)
	return nil
}

func (a *App) newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
}

func (a *App) serveHTTP(name string, srv *http.Server) {
	graceful := server.NewGracefulHTTPServer(srv, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("%s HTTP server listening on %s", name, srv.Addr)
		if err := graceful.ListenAndServe(); err != nil {
			log.Printf("%s HTTP server error: %v", name, err)
		}
	}()
}

// Wait blocks until a shutdown signal arrives, then stops everything.
func (a *App) Wait(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.cleanup()
	return err
}

// Stop shuts the application down.
func (a *App) Stop(ctx context.Context) error {
	var err error
	if a.shutdown != nil {
		err = a.shutdown.Shutdown(ctx, "stop requested")
	}
	a.cleanup()
	return err
}

func (a *App) cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.running = false
}
