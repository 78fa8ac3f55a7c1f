package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/teemow/inboxagent/internal/instrumentation"
	"github.com/teemow/inboxagent/internal/logging"
)

const (
	// DefaultOpsAddr is the default address for the ops server.
	DefaultOpsAddr = ":9090"

	// DefaultReadTimeout is the default read header timeout for the ops server.
	DefaultReadTimeout = 10 * time.Second

	// DefaultWriteTimeout is the default write timeout for the ops server.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the default idle timeout for the ops server.
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful server shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// OpsServerConfig holds configuration for the ops server.
type OpsServerConfig struct {
	// Addr is the address to bind to (e.g., ":9090").
	Addr string

	// Provider supplies the Prometheus handler. /metrics is omitted when it
	// is nil or not exporting to Prometheus.
	Provider *instrumentation.Provider

	Health *HealthChecker
	Logger *slog.Logger
}

// OpsServer serves metrics and health probes on a dedicated port.
type OpsServer struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// NewOpsServer binds the listener so that address errors surface before
// the bridge starts.
func NewOpsServer(config OpsServerConfig) (*OpsServer, error) {
	if config.Addr == "" {
		config.Addr = DefaultOpsAddr
	}
	if config.Health == nil {
		return nil, fmt.Errorf("health checker is required for ops server")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	config.Health.RegisterHealthEndpoints(mux)
	if config.Provider != nil {
		if h := config.Provider.PrometheusHandler(); h != nil {
			mux.Handle("/metrics", h)
		}
	}

	ln, err := net.Listen("tcp", config.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", config.Addr, err)
	}

	return &OpsServer{
		listener: ln,
		logger:   logging.WithComponent(logger, "ops"),
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}, nil
}

// Serve blocks until Shutdown. It never returns http.ErrServerClosed.
func (s *OpsServer) Serve() error {
	s.logger.Info("starting ops server", "addr", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the ops server.
func (s *OpsServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down ops server")
	err := s.httpServer.Shutdown(ctx)

	// Serve may never have been called; the listener is still open then.
	if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}

// Addr returns the bound address, which differs from the configured one
// when port 0 was requested.
func (s *OpsServer) Addr() string {
	return s.listener.Addr().String()
}
