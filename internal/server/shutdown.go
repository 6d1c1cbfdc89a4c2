// Package server provides server lifecycle management including graceful shutdown.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager coordinates graceful shutdown across the HTTP servers
// and background daemons of a process. Resources close in reverse order
// of registration, so servers registered last stop accepting work before
// the stores they depend on go away.
type ShutdownManager struct {
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	closers   []io.Closer
	closersMu sync.Mutex

	onShutdownStart []func()
	callbacksMu     sync.Mutex
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager() *ShutdownManager {
	return &ShutdownManager{
		shutdownCh: make(chan struct{}),
	}
}

// RegisterCloser adds a closer to be called during shutdown.
// Closers are called in reverse order of registration (LIFO).
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// OnShutdownStart registers a callback to be called when shutdown begins.
func (sm *ShutdownManager) OnShutdownStart(fn func()) {
	sm.callbacksMu.Lock()
	defer sm.callbacksMu.Unlock()
	sm.onShutdownStart = append(sm.onShutdownStart, fn)
}

// ListenForSignals blocks until SIGTERM, SIGINT or context cancellation,
// then runs graceful shutdown.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(ctx, fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(ctx, "context cancelled")
	case <-sm.shutdownCh:
		return nil
	}
}

// Shutdown closes all registered resources. The first error wins; the
// rest still close.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	var shutdownErr error

	sm.shutdownOnce.Do(func() {
		close(sm.shutdownCh)

		sm.callbacksMu.Lock()
		callbacks := sm.onShutdownStart
		sm.callbacksMu.Unlock()
		for _, fn := range callbacks {
			fn()
		}

		sm.closersMu.Lock()
		closers := sm.closers
		sm.closersMu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && shutdownErr == nil {
				shutdownErr = fmt.Errorf("close failed: %w", err)
			}
		}
	})

	return shutdownErr
}

// ShutdownCh returns a channel that is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.shutdownCh
}

// GracefulHTTPServer wraps an http.Server with graceful shutdown support.
type GracefulHTTPServer struct {
	server   *http.Server
	shutdown *ShutdownManager
}

// NewGracefulHTTPServer creates a new graceful HTTP server.
func NewGracefulHTTPServer(server *http.Server, shutdown *ShutdownManager) *GracefulHTTPServer {
	return &GracefulHTTPServer{
		server:   server,
		shutdown: shutdown,
	}
}

// ListenAndServe starts the HTTP server and handles graceful shutdown.
func (gs *GracefulHTTPServer) ListenAndServe() error {
	gs.shutdown.RegisterCloser(&httpServerCloser{server: gs.server})

	errCh := make(chan error, 1)
	go func() {
		if err := gs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-gs.shutdown.ShutdownCh():
		// Shutdown initiated, server will be closed by shutdown manager
		return <-errCh
	}
}

// httpServerCloser wraps http.Server to implement io.Closer with graceful shutdown.
type httpServerCloser struct {
	server *http.Server
}

func (c *httpServerCloser) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}

// CloserFunc is an adapter to allow ordinary functions to be used as io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
