package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
)

// DefaultMetricsAddr keeps scraping off the MCP port.
const DefaultMetricsAddr = ":9090"

// DefaultShutdownTimeout bounds graceful shutdown of either listener.
const DefaultShutdownTimeout = 30 * time.Second

// MetricsServerConfig configures the scrape endpoint.
type MetricsServerConfig struct {
	Addr     string
	Provider *instrumentation.Provider
	Logger   *slog.Logger
}

// MetricsServer exposes /metrics and a bare /healthz.
type MetricsServer struct {
	mu     sync.Mutex
	addr   string
	srv    *http.Server
	logger *slog.Logger
}

// NewMetricsServer rejects providers that do not export to Prometheus,
// since /metrics would then always be empty.
func NewMetricsServer(cfg MetricsServerConfig) (*MetricsServer, error) {
	if cfg.Provider == nil {
		return nil, errors.New("instrumentation provider is required for metrics server")
	}
	if !cfg.Provider.ServesPrometheus() {
		return nil, errors.New("instrumentation provider does not export prometheus metrics")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultMetricsAddr
	}
	return &MetricsServer{addr: cfg.Addr, logger: logging.OrDefault(cfg.Logger)}, nil
}

// StartWithReadySignal binds, closes ready, then serves until Shutdown.
// ready stays open when the bind fails.
func (s *MetricsServer) StartWithReadySignal(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info("metrics server listening", slog.String("addr", ln.Addr().String()))
	if ready != nil {
		close(ready)
	}
	return srv.Serve(ln)
}

// Shutdown is a no-op before the server has started.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr is the configured address until bound, then the bound one.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
