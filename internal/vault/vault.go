package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

// DefaultExpirySkew is how close to its deadline a token may get before the
// vault refreshes it.
const DefaultExpirySkew = time.Minute

// Config configures a Vault.
type Config struct {
	// OAuth is the provider client used for refresh. Its Endpoint.TokenURL is
	// the only endpoint the vault talks to.
	OAuth *oauth2.Config

	Encryption *Encryption

	ExpirySkew time.Duration

	// SerializeRefresh collapses concurrent refreshes of one connection into a
	// single token-endpoint call. When false, concurrent callers may each
	// refresh and the last Put wins; both tokens are valid.
	SerializeRefresh bool

	// HTTPClient is used for the token endpoint. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// Now is the clock; tests override it.
	Now func() time.Time
}

// Vault hands out valid access tokens for stored connections.
type Vault struct {
	store   Store
	cfg     Config
	logger  *slog.Logger
	refresh singleflight.Group
}

// New returns a Vault over store.
func New(store Store, cfg Config) *Vault {
	if cfg.ExpirySkew <= 0 {
		cfg.ExpirySkew = DefaultExpirySkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Encryption == nil {
		cfg.Encryption = &Encryption{}
	}
	logger := logging.OrDefault(cfg.Logger).With(slog.String("component", "vault"))
	if !cfg.Encryption.Enabled() {
		logger.Warn("token encryption disabled, tokens are stored in plaintext")
	}
	return &Vault{store: store, cfg: cfg, logger: logger}
}

// Connect stores tok as the connection for (ownerID, provider), replacing
// any previous connection for that pair.
func (v *Vault) Connect(ctx context.Context, ownerID, provider string, tok *oauth2.Token) (*Connection, error) {
	if ownerID == "" {
		return nil, errors.New("owner id cannot be empty")
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, errors.New("token cannot be empty")
	}
	conn := &Connection{
		ID:       ConnectionID(ownerID, provider),
		OwnerID:  ownerID,
		Provider: provider,
	}
	if err := v.seal(conn, tok); err != nil {
		return nil, err
	}
	if err := v.store.Put(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to store connection: %w", err)
	}
	logging.WithConnection(v.logger, conn.ID).Info("connection stored",
		logging.OwnerHash(ownerID),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
	)
	return conn, nil
}

// Disconnect deletes the connection.
func (v *Vault) Disconnect(ctx context.Context, connectionID string) error {
	if err := v.store.Delete(ctx, connectionID); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	logging.WithConnection(v.logger, connectionID).Info("connection deleted")
	return nil
}

// Ping checks the backing store when it supports health checks.
func (v *Vault) Ping(ctx context.Context) error {
	if p, ok := v.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Connection returns the stored connection with its token fields cleared.
func (v *Vault) Connection(ctx context.Context, connectionID string) (*Connection, error) {
	conn, err := v.store.Get(ctx, connectionID)
	if errors.Is(err, ErrNotFound) {
		return nil, mailbox.NewError(mailbox.ErrNoConnection, "connection", connectionID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}
	out := *conn
	out.AccessToken = ""
	out.RefreshToken = ""
	return &out, nil
}

// GetValidAccessToken returns an access token that is valid for at least the
// expiry skew, refreshing it first if needed.
func (v *Vault) GetValidAccessToken(ctx context.Context, connectionID string) (string, error) {
	tok, err := v.validToken(ctx, connectionID)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (v *Vault) validToken(ctx context.Context, connectionID string) (*oauth2.Token, error) {
	conn, tok, err := v.load(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !v.needsRefresh(tok) {
		return tok, nil
	}

	if !v.cfg.SerializeRefresh {
		return v.refreshToken(ctx, conn, tok)
	}
	res, err, _ := v.refresh.Do(connectionID, func() (any, error) {
		// Another caller may have refreshed while we waited.
		conn, tok, err := v.load(ctx, connectionID)
		if err != nil {
			return nil, err
		}
		if !v.needsRefresh(tok) {
			return tok, nil
		}
		return v.refreshToken(ctx, conn, tok)
	})
	if err != nil {
		return nil, err
	}
	return res.(*oauth2.Token), nil
}

func (v *Vault) needsRefresh(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return !v.cfg.Now().Add(v.cfg.ExpirySkew).Before(tok.Expiry)
}

func (v *Vault) load(ctx context.Context, connectionID string) (*Connection, *oauth2.Token, error) {
	conn, err := v.store.Get(ctx, connectionID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, mailbox.NewError(mailbox.ErrNoConnection, "token", connectionID, nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load connection %s: %w", connectionID, err)
	}
	access, err := v.cfg.Encryption.Decrypt(conn.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := v.cfg.Encryption.Decrypt(conn.RefreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return conn, &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       conn.ExpiresAt,
	}, nil
}

func (v *Vault) refreshToken(ctx context.Context, conn *Connection, tok *oauth2.Token) (*oauth2.Token, error) {
	logger := logging.WithConnection(v.logger, conn.ID)

	if tok.RefreshToken == "" {
		v.cfg.Metrics.RecordTokenRefresh(ctx, instrumentation.RefreshExpired)
		logger.Warn("access token expired and no refresh token is stored")
		return nil, mailbox.NewError(mailbox.ErrAuthExpired, "refresh", conn.ID, nil)
	}
	if v.cfg.OAuth == nil {
		return nil, errors.New("vault has no oauth config, cannot refresh")
	}

	if v.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, v.cfg.HTTPClient)
	}
	// A token with only a refresh token forces the source to hit the endpoint.
	fresh, err := v.cfg.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			v.cfg.Metrics.RecordTokenRefresh(ctx, instrumentation.RefreshExpired)
			logger.Warn("refresh token rejected, reconnect required")
			return nil, mailbox.NewError(mailbox.ErrAuthExpired, "refresh", conn.ID, err)
		}
		v.cfg.Metrics.RecordTokenRefresh(ctx, instrumentation.RefreshFailure)
		logger.Error("token refresh failed", logging.Err(err))
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}

	updated := *conn
	if err := v.seal(&updated, fresh); err != nil {
		return nil, err
	}
	if err := v.store.Put(ctx, &updated); err != nil {
		v.cfg.Metrics.RecordTokenRefresh(ctx, instrumentation.RefreshFailure)
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	v.cfg.Metrics.RecordTokenRefresh(ctx, instrumentation.RefreshSuccess)
	logger.Info("token refreshed",
		slog.String("access_token", logging.SanitizeToken(fresh.AccessToken)),
		slog.Time("expires_at", fresh.Expiry),
		slog.Bool("refresh_rotated", fresh.RefreshToken != tok.RefreshToken),
	)
	return fresh, nil
}

// seal writes tok into conn, encrypted.
func (v *Vault) seal(conn *Connection, tok *oauth2.Token) error {
	access, err := v.cfg.Encryption.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := v.cfg.Encryption.Encrypt(tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	conn.AccessToken = access
	conn.RefreshToken = refresh
	conn.ExpiresAt = tok.Expiry
	conn.UpdatedAt = v.cfg.Now()
	return nil
}

type tokenSource struct {
	ctx context.Context
	v   *Vault
	id  string
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	return s.v.validToken(s.ctx, s.id)
}

// TokenSource returns a source of valid tokens for the connection. Tokens
// are cached until they enter the expiry skew.
func (v *Vault) TokenSource(ctx context.Context, connectionID string) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, &tokenSource{ctx: ctx, v: v, id: connectionID}, v.cfg.ExpirySkew)
}

// HTTPClient returns a client that authorizes every request with the
// connection's current access token.
func (v *Vault) HTTPClient(ctx context.Context, connectionID string) *http.Client {
	return oauth2.NewClient(ctx, v.TokenSource(ctx, connectionID))
}
