// Package app wires the fluxbridge services together and manages their
// lifecycle: the optimization engine, the action gate, and the gRPC/HTTP
// front doors, selected by mode.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	grpcapi "github.com/fluxbridge/fluxbridge/internal/api/grpc"
	httpapi "github.com/fluxbridge/fluxbridge/internal/api/http"
	"github.com/fluxbridge/fluxbridge/internal/auth"
	"github.com/fluxbridge/fluxbridge/internal/bridge"
	"github.com/fluxbridge/fluxbridge/internal/config"
	"github.com/fluxbridge/fluxbridge/internal/engine"
	"github.com/fluxbridge/fluxbridge/internal/gate"
	"github.com/fluxbridge/fluxbridge/internal/persist"
	"github.com/fluxbridge/fluxbridge/internal/registry"
	"github.com/fluxbridge/fluxbridge/internal/server"
	"github.com/fluxbridge/fluxbridge/internal/storage"
)

// App manages all fluxbridge service lifecycles.
type App struct {
	cfg *config.Config

	// Shared resources
	shutdown *server.ShutdownManager
	registry *registry.Registry

	// Gate components
	userStore  *auth.UserStore
	persistSt  *persist.Store
	bridgeCli  *bridge.Client
	httpServer *http.Server
	grpcServer *grpc.Server

	// Engine
	engineServer *engine.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start initializes shared resources and starts the configured services.
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

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{})
	a.registry = registry.New()

	if a.cfg.ShouldRunEngine() {
		if err := a.startEngine(ctx); err != nil {
			a.shutdown.Shutdown(context.Background(), "startup failed")
			return fmt.Errorf("failed to start engine: %w", err)
		}
	}

	if a.cfg.ShouldRunGate() {
		if err := a.startGate(ctx); err != nil {
			a.shutdown.Shutdown(context.Background(), "startup failed")
			return fmt.Errorf("failed to start gate: %w", err)
		}
	}

	log.Printf("fluxbridge started in %s mode", a.cfg.Mode)
	return nil
}

// startEngine starts the optimization engine's TCP listener.
func (a *App) startEngine(ctx context.Context) error {
	a.engineServer = engine.NewServer(a.cfg.Engine.Addr, nil)
	if err := a.engineServer.Start(ctx); err != nil {
		return err
	}
	a.shutdown.RegisterCloser(a.engineServer)
	return nil
}

// startGate initializes the gate's collaborators and its front doors.
func (a *App) startGate(ctx context.Context) error {
	userStore, err := auth.OpenUserStore(a.cfg.Auth.UserDBPath)
	if err != nil {
		return err
	}
	a.userStore = userStore
	a.shutdown.RegisterCloser(userStore)
	authenticator := auth.NewAuthenticator(userStore)

	exporter, err := a.snapshotExporter(ctx)
	if err != nil {
		return err
	}
	persistStore, err := persist.Open(a.cfg.Persist.DBPath, exporter)
	if err != nil {
		return err
	}
	a.persistSt = persistStore
	a.shutdown.RegisterCloser(persistStore)

	a.bridgeCli = bridge.NewClient(a.cfg.Engine.BridgeAddr)
	a.shutdown.RegisterCloser(a.bridgeCli)

	g := gate.New(a.registry, a.bridgeCli, persistStore, a.shutdown.Trigger)

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(g, authenticator); err != nil {
			return err
		}
	}
	if a.cfg.HTTP.Enabled {
		a.startHTTP(g, authenticator)
	}
	return nil
}

// snapshotExporter builds the optional object-storage exporter.
func (a *App) snapshotExporter(ctx context.Context) (storage.ObjectStorage, error) {
	if !a.cfg.Persist.ExportEnabled {
		return nil, nil
	}
	switch a.cfg.Storage.Type {
	case "local":
		store, err := storage.NewLocalStorage(a.cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		log.Printf("snapshot export to local storage at %s", a.cfg.Storage.Path)
		return store, nil
	case "s3":
		store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:   a.cfg.Storage.S3.Bucket,
			Region:   a.cfg.Storage.S3.Region,
			Endpoint: a.cfg.Storage.S3.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		log.Printf("snapshot export to s3 bucket %s", a.cfg.Storage.S3.Bucket)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
}

func (a *App) startGRPC(g *gate.Gate, authenticator *auth.Authenticator) error {
	a.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(grpcapi.UnaryAuthInterceptor(authenticator)),
	)
	grpcapi.NewGateServer(g).Register(a.grpcServer)

	listener, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}

	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("gRPC server listening on %s", a.cfg.GRPC.Addr)
		if err := a.grpcServer.Serve(listener); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()
	return nil
}

func (a *App) startHTTP(g *gate.Gate, authenticator *auth.Authenticator) {
	handler := server.ShutdownMiddleware(a.shutdown)(
		httpapi.NewGateHandler(g, authenticator).Mux(),
	)

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
}

// WaitForShutdown blocks until a signal, context cancellation, or the gate's
// shutdown action stops the process, then runs the shutdown sequence.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

// Stop gracefully stops all services and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}
	err := a.shutdown.Shutdown(ctx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Printf("shutdown timeout, some goroutines may not have finished")
	}

	log.Printf("fluxbridge stopped")
	return err
}
