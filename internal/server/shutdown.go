// Package server provides process lifecycle management: signal handling,
// in-flight request draining, and ordered resource teardown.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ShutdownManager coordinates graceful shutdown. Termination can come from
// a signal, context cancellation, or an explicit Trigger (the gate's
// shutdown action). Registered closers run in reverse registration order.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	inFlight     atomic.Int64
	stopping     atomic.Bool

	mu      sync.Mutex
	closers []io.Closer
}

// ShutdownConfig bounds how long shutdown may take.
type ShutdownConfig struct {
	// ShutdownTimeout caps the whole shutdown sequence. Default 30s.
	ShutdownTimeout time.Duration

	// DrainTimeout caps the wait for in-flight requests. Default 15s.
	DrainTimeout time.Duration
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.DrainTimeout == 0 {
		config.DrainTimeout = 15 * time.Second
	}
	return &ShutdownManager{
		shutdownTimeout: config.ShutdownTimeout,
		drainTimeout:    config.DrainTimeout,
		shutdownCh:      make(chan struct{}),
	}
}

// RegisterCloser adds a resource to close on shutdown. Closers run LIFO, so
// register in dependency order (stores before servers that use them).
func (sm *ShutdownManager) RegisterCloser(closer io.Closer) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, closer)
}

// ListenForSignals blocks until SIGTERM/SIGINT, context cancellation, or a
// Trigger call, then runs the shutdown sequence.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(ctx, fmt.Sprintf("received signal %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(ctx, "context cancelled")
	case <-sm.shutdownCh:
		return sm.Shutdown(ctx, "shutdown triggered")
	}
}

// Trigger initiates shutdown without a signal. It returns immediately; the
// sequence runs on whichever goroutine is blocked in ListenForSignals.
func (sm *ShutdownManager) Trigger() {
	sm.stopping.Store(true)
	sm.closeOnce()
}

func (sm *ShutdownManager) closeOnce() {
	sm.shutdownOnce.Do(func() {
		close(sm.shutdownCh)
	})
}

// Shutdown drains in-flight requests and closes registered resources.
// Safe to call more than once; later calls only re-run the closer errors of
// resources already closed, which all tolerate double close.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.stopping.Store(true)
	sm.closeOnce()
	log.Printf("server: shutting down: %s", reason)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sm.shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := sm.drain(shutdownCtx); err != nil {
		firstErr = err
	}

	sm.mu.Lock()
	closers := sm.closers
	sm.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close failed: %w", err)
		}
	}
	return firstErr
}

// drain waits for in-flight requests to finish, bounded by the drain timeout.
func (sm *ShutdownManager) drain(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if sm.inFlight.Load() == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			if n := sm.inFlight.Load(); n > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight requests", n)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// TrackRequest counts a request in; returns false once shutdown has begun
// and new work must be rejected.
func (sm *ShutdownManager) TrackRequest() bool {
	if sm.stopping.Load() {
		return false
	}
	sm.inFlight.Add(1)
	return true
}

// UntrackRequest counts a request out.
func (sm *ShutdownManager) UntrackRequest() {
	sm.inFlight.Add(-1)
}

// IsShuttingDown reports whether shutdown has been initiated.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return sm.stopping.Load()
}

// ShutdownCh is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.shutdownCh
}

// ShutdownMiddleware tracks in-flight HTTP requests and rejects new ones
// once shutdown has begun.
func ShutdownMiddleware(sm *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.TrackRequest() {
				w.Header().Set("Connection", "close")
				http.Error(w, "service unavailable: shutting down", http.StatusServiceUnavailable)
				return
			}
			defer sm.UntrackRequest()
			next.ServeHTTP(w, r)
		})
	}
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls the underlying function.
func (f CloserFunc) Close() error {
	return f()
}
