package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/londonzade-stack/agent-seller-sub000/internal/gmail"
	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mutation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/scan"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools"
	"github.com/londonzade-stack/agent-seller-sub000/internal/unsubscribe"
	"github.com/londonzade-stack/agent-seller-sub000/internal/vault"
)

const (
	// DefaultSessionTimeout is how long an unused session stays cached.
	DefaultSessionTimeout = 30 * time.Minute

	defaultCleanupInterval = 5 * time.Minute
)

// ErrShutdown is returned by Session after Shutdown.
var ErrShutdown = errors.New("server is shutting down")

// ProviderFactory builds a mailbox provider on an authorized HTTP client.
type ProviderFactory func(ctx context.Context, httpClient *http.Client) (mailbox.Provider, error)

// Config configures a ServerContext.
type Config struct {
	Vault *vault.Vault

	// NewProvider defaults to a Gmail client.
	NewProvider ProviderFactory

	Plan       tools.Plan
	Scheduler  tools.Scheduler
	Researcher tools.Researcher

	// UnsubscribeHTTPClient performs one-click POSTs. Defaults to the
	// resolver's own client.
	UnsubscribeHTTPClient *http.Client

	ReplayWindow    time.Duration
	SessionTimeout  time.Duration
	CleanupInterval time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

// Session is one connection's engines and tool registry.
type Session struct {
	tools.Session
	Deps     *tools.Deps
	Registry *tools.Registry

	lastAccess time.Time
}

// ServerContext caches per-connection sessions for the MCP server.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	build    singleflight.Group
	shutdown bool

	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
}

// NewServerContext creates a server context and starts idle-session cleanup.
func NewServerContext(ctx context.Context, cfg Config) (*ServerContext, error) {
	if cfg.Vault == nil {
		return nil, errors.New("vault is required")
	}
	if cfg.NewProvider == nil {
		cfg.NewProvider = gmailProvider(cfg.Logger, cfg.Metrics)
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Plan == "" {
		cfg.Plan = tools.PlanFree
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	sc := &ServerContext{
		ctx:           shutdownCtx,
		cancel:        cancel,
		cfg:           cfg,
		logger:        logging.OrDefault(cfg.Logger).With(slog.String("component", "server")),
		sessions:      make(map[string]*Session),
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		cleanupDone:   make(chan struct{}),
	}
	go sc.cleanupExpiredSessions()
	return sc, nil
}

func gmailProvider(logger *slog.Logger, metrics *instrumentation.Metrics) ProviderFactory {
	return func(ctx context.Context, httpClient *http.Client) (mailbox.Provider, error) {
		return gmail.New(ctx, httpClient, gmail.Options{Logger: logger, Metrics: metrics})
	}
}

// Context returns the server context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// Metrics returns the metrics recorder, possibly nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.cfg.Metrics
}

// Vault returns the token vault.
func (sc *ServerContext) Vault() *vault.Vault {
	return sc.cfg.Vault
}

// Session returns the cached session for connectionID, building it on
// first use. Concurrent first calls share one build.
func (sc *ServerContext) Session(ctx context.Context, connectionID string) (*Session, error) {
	if connectionID == "" {
		return nil, mailbox.NewError(mailbox.ErrNoConnection, "session", "", nil)
	}
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil, ErrShutdown
	}
	if s, ok := sc.sessions[connectionID]; ok {
		s.lastAccess = time.Now()
		sc.mu.Unlock()
		return s, nil
	}
	sc.mu.Unlock()

	v, err, _ := sc.build.Do(connectionID, func() (any, error) {
		sc.mu.Lock()
		cached, ok := sc.sessions[connectionID]
		sc.mu.Unlock()
		if ok {
			return cached, nil
		}
		s, err := sc.newSession(ctx, connectionID)
		if err != nil {
			return nil, err
		}
		sc.mu.Lock()
		defer sc.mu.Unlock()
		if sc.shutdown {
			return nil, ErrShutdown
		}
		sc.sessions[connectionID] = s
		if sc.cfg.Metrics != nil {
			sc.cfg.Metrics.IncrementActiveSessions(ctx)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (sc *ServerContext) newSession(ctx context.Context, connectionID string) (*Session, error) {
	conn, err := sc.cfg.Vault.Connection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	logger := logging.WithConnection(logging.OrDefault(sc.cfg.Logger), connectionID)

	// Engines outlive the request that built them.
	provider, err := sc.cfg.NewProvider(sc.ctx, sc.cfg.Vault.HTTPClient(sc.ctx, connectionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create mailbox provider: %w", err)
	}

	scanner := scan.New(provider, scan.DefaultConfig(), logger)
	unsubCfg := unsubscribe.DefaultConfig()
	if sc.cfg.UnsubscribeHTTPClient != nil {
		unsubCfg.HTTPClient = sc.cfg.UnsubscribeHTTPClient
	}
	deps := &tools.Deps{
		Provider:     provider,
		Scanner:      scanner,
		Mutator:      mutation.New(provider, mutation.DefaultConfig(), logger, sc.cfg.Metrics),
		Unsubscriber: unsubscribe.New(provider, scanner, unsubCfg, logger),
		Scheduler:    sc.cfg.Scheduler,
		Researcher:   sc.cfg.Researcher,
	}

	logger.Info("session created", logging.OwnerHash(conn.OwnerID))
	return &Session{
		Session: tools.Session{
			ConnectionID: connectionID,
			OwnerID:      conn.OwnerID,
			Plan:         sc.cfg.Plan,
		},
		Deps: deps,
		Registry: tools.NewRegistry(deps, tools.Options{
			Logger:       logger,
			Metrics:      sc.cfg.Metrics,
			Audit:        sc.cfg.Audit,
			ReplayWindow: sc.cfg.ReplayWindow,
		}),
		lastAccess: time.Now(),
	}, nil
}

// Drop evicts a session so the next call rebuilds it. Used after fatal
// provider errors such as an expired grant.
func (sc *ServerContext) Drop(connectionID string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, ok := sc.sessions[connectionID]; !ok {
		return
	}
	delete(sc.sessions, connectionID)
	if sc.cfg.Metrics != nil {
		sc.cfg.Metrics.DecrementActiveSessions(sc.ctx)
	}
	logging.WithConnection(sc.logger, connectionID).Info("session dropped")
}

// ActiveSessions returns the number of cached sessions.
func (sc *ServerContext) ActiveSessions() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.sessions)
}

func (sc *ServerContext) cleanupExpiredSessions() {
	for {
		select {
		case <-sc.cleanupTicker.C:
			if n := sc.expire(time.Now()); n > 0 {
				sc.logger.Info("cleaned up idle sessions", logging.Count(n))
			}
		case <-sc.cleanupDone:
			return
		}
	}
}

func (sc *ServerContext) expire(now time.Time) int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	n := 0
	for id, s := range sc.sessions {
		if now.Sub(s.lastAccess) > sc.cfg.SessionTimeout {
			delete(sc.sessions, id)
			n++
			if sc.cfg.Metrics != nil {
				sc.cfg.Metrics.DecrementActiveSessions(sc.ctx)
			}
		}
	}
	return n
}

// IsShutdown returns whether the server has been shut down.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.shutdown
}

// Shutdown stops cleanup, drops every session and cancels the context.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.shutdown {
		return nil
	}
	sc.shutdown = true
	sc.cleanupTicker.Stop()
	close(sc.cleanupDone)
	sc.sessions = make(map[string]*Session)
	sc.cancel()
	return nil
}
