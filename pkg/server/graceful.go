// Package server wraps net/http with signal-driven graceful shutdown so
// in-memory room state gets flushed before the process exits.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mapsync/mapsync/pkg/logging"
)

// ShutdownHook runs after the listener stops accepting and before Start
// returns. Hooks flush room documents and tear down websocket sessions.
type ShutdownHook func()

// GracefulServer wraps an HTTP server with graceful shutdown.
type GracefulServer struct {
	server       *http.Server
	logger       logging.Logger
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	hookMu sync.Mutex
	hooks  []ShutdownHook
}

// NewGracefulServer creates a graceful HTTP server on addr.
func NewGracefulServer(addr string, handler http.Handler, logger logging.Logger) *GracefulServer {
	return &GracefulServer{
		server: &http.Server{
			Addr:           addr,
			Handler:        handler,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// OnShutdown registers a hook to run during shutdown, in registration
// order.
func (gs *GracefulServer) OnShutdown(hook ShutdownHook) {
	gs.hookMu.Lock()
	defer gs.hookMu.Unlock()
	gs.hooks = append(gs.hooks, hook)
}

// Start serves until the listener fails or a shutdown signal arrives.
func (gs *GracefulServer) Start() error {
	go gs.handleSignals()

	gs.logger.Info("http server listening", logging.String("addr", gs.server.Addr))
	if err := gs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, runs the registered hooks, and
// waits up to timeout for in-flight requests to finish.
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	var err error
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("graceful shutdown started", logging.Duration("timeout", timeout))

		// Websocket connections are hijacked, so server.Shutdown will not
		// wait for them; the hooks close sessions and flush rooms.
		gs.hookMu.Lock()
		hooks := gs.hooks
		gs.hookMu.Unlock()
		for _, hook := range hooks {
			hook()
		}

		if shutdownErr := gs.server.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
			gs.logger.Error("shutdown error", logging.Error(shutdownErr))
		} else {
			gs.logger.Info("shutdown complete")
		}
	})
	return err
}

func (gs *GracefulServer) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,
		syscall.SIGTERM,
	)

	sig := <-sigCh
	gs.logger.Info("signal received, shutting down", logging.String("signal", sig.String()))
	if err := gs.Shutdown(30 * time.Second); err != nil {
		os.Exit(1)
	}
}

// IsShuttingDown reports whether shutdown has been initiated.
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel closes when shutdown is initiated.
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}
