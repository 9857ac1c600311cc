package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/server"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// ServeConfig is the full configuration of the serve command.
type ServeConfig struct {
	Debug     bool
	Transport string
	HTTP      server.HTTPConfig

	// ConnectionID is the mailbox served over stdio.
	ConnectionID string

	Plan           string
	ReplayWindow   time.Duration
	SessionTimeout time.Duration

	Vault   VaultConfig
	Metrics MetricsConfig
}

func newServeCmd() *cobra.Command {
	var cfg ServeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server exposing the mailbox tool
catalog to AI assistants.

Supports multiple transport types:
  - stdio: Standard input/output (default), serves the connection given by
    --connection or MAILAGENT_CONNECTION
  - streamable-http: Streamable HTTP transport; each request names its
    connection in the X-Mailbox-Connection header

Destructive tools (send, reply, archive, trash, unsubscribe, schedule) refuse
to run until called again with confirmed=true after the user approved.

Connections are created with the connect command and stored in the
configured store (memory, sqlite or valkey).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadVaultEnvVars(cmd, &cfg.Vault)
			envString(cmd, "connection", "MAILAGENT_CONNECTION", &cfg.ConnectionID)
			envString(cmd, "api-key", "MAILAGENT_API_KEY", &cfg.HTTP.APIKey)
			envString(cmd, "plan", "MAILAGENT_PLAN", &cfg.Plan)
			if !cmd.Flags().Changed("metrics-enabled") {
				cfg.Metrics.Enabled = getEnvBoolOrDefault("METRICS_ENABLED", cfg.Metrics.Enabled)
			}
			envString(cmd, "metrics-addr", "METRICS_ADDR", &cfg.Metrics.Addr)
			return runServe(cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&cfg.Transport, "transport", "stdio", "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&cfg.HTTP.Addr, "http-addr", ":8080", "HTTP server address (for streamable-http transport)")
	cmd.Flags().BoolVar(&cfg.HTTP.DisableStreaming, "disable-streaming", false, "Disable streaming for HTTP transport (for compatibility with certain clients)")
	cmd.Flags().StringVar(&cfg.HTTP.APIKey, "api-key", "", "Bearer token required on the MCP HTTP endpoint. Can also use MAILAGENT_API_KEY env var.")
	cmd.Flags().StringVar(&cfg.ConnectionID, "connection", "", "Connection ID served over stdio. Can also use MAILAGENT_CONNECTION env var.")
	cmd.Flags().StringVar(&cfg.Plan, "plan", string(tools.PlanFree), "Subscription plan of the mailbox owner: free or pro. Can also use MAILAGENT_PLAN env var.")
	cmd.Flags().DurationVar(&cfg.ReplayWindow, "replay-window", tools.DefaultReplayWindow, "Window in which an identical confirmed destructive call returns the earlier result. Negative disables.")
	cmd.Flags().DurationVar(&cfg.SessionTimeout, "session-timeout", server.DefaultSessionTimeout, "Idle time after which a connection's session is evicted")
	addVaultFlags(cmd, &cfg.Vault)

	// Metrics server flags
	cmd.Flags().BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&cfg.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

func runServe(cfg ServeConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(cfg.Debug)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("failed to shutdown instrumentation", slog.Any("error", err))
		}
	}()

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.ServesPrometheus() {
		metricsServer, err = startMetricsServer(cfg.Metrics, provider, logger)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Warn("error shutting down metrics server", slog.Any("error", err))
			}
		}()
	}

	v, store, err := openVault(shutdownCtx, cfg.Vault, logger, provider.Metrics())
	if err != nil {
		return err
	}
	defer store.Close()

	var audit *instrumentation.AuditLogger
	if instrConfig.AuditLogging.Enabled {
		audit = instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging)
	}

	serverContext, err := server.NewServerContext(shutdownCtx, server.Config{
		Vault:          v,
		Plan:           tools.ParsePlan(cfg.Plan),
		ReplayWindow:   cfg.ReplayWindow,
		SessionTimeout: cfg.SessionTimeout,
		Logger:         logger,
		Metrics:        provider.Metrics(),
		Audit:          audit,
	})
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("error during server context shutdown", slog.Any("error", err))
		}
	}()

	mcpSrv := mcpserver.NewMCPServer("mailagent", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	switch cfg.Transport {
	case "stdio":
		if cfg.ConnectionID == "" {
			return errors.New("stdio transport requires --connection or MAILAGENT_CONNECTION")
		}
		server.RegisterTools(mcpSrv, serverContext, server.StaticConnection(cfg.ConnectionID))
		return runStdioServer(mcpSrv)
	case "streamable-http":
		server.RegisterTools(mcpSrv, serverContext, server.ConnectionFromContext)
		if cfg.HTTP.APIKey == "" {
			logger.Warn("MCP endpoint has no API key; put it behind an authenticating proxy")
		}
		return runStreamableHTTPServer(shutdownCtx, mcpSrv, serverContext, cfg.HTTP, logger)
	default:
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", cfg.Transport)
	}
}

// startMetricsServer starts the metrics server and waits until it is bound.
func startMetricsServer(cfg MetricsConfig, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:     cfg.Addr,
		Provider: provider,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		if err := metricsServer.StartWithReadySignal(ready); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ready:
		return metricsServer, nil
	case err := <-errCh:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(5 * time.Second):
		return nil, errors.New("metrics server did not start within 5s")
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runStreamableHTTPServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, cfg server.HTTPConfig, logger *slog.Logger) error {
	httpServer := server.NewHTTPServer(mcpSrv, sc, cfg)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
		return nil
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	}
}
