package unsubscribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
	"github.com/londonzade-stack/agent-seller-sub000/internal/scan"
	"github.com/londonzade-stack/agent-seller-sub000/internal/tools/batch"
)

// Method names reported in an Outcome.
const (
	MethodOneClick = "one-click"
	MethodLink     = "link"
	MethodMailto   = "mailto"
	MethodNone     = "none"
)

const (
	DefaultQuery   = "unsubscribe newer_than:90d"
	DefaultMaxScan = 200
	defaultTimeout = 10 * time.Second
	userAgent      = "mailagent/1.0"
)

// Candidate is one unsubscribable sender found by a scan.
type Candidate struct {
	MessageID    string  `json:"messageId"`
	SenderDomain string  `json:"senderDomain"`
	Sender       string  `json:"sender"`
	Subject      string  `json:"subject"`
	Methods      Methods `json:"methods"`
}

// Outcome is the result of unsubscribing from one message's sender.
type Outcome struct {
	Success bool   `json:"success"`
	Method  string `json:"method"`
	// URL or Address is set when the action is deferred to a human.
	URL     string `json:"url,omitempty"`
	Address string `json:"address,omitempty"`
	Detail  string `json:"detail"`
}

// BulkOutcome aggregates per-message outcomes.
type BulkOutcome = batch.Summary[Outcome]

// Config tunes a Resolver.
type Config struct {
	DefaultQuery   string
	DefaultMaxScan int
	// HTTPClient performs one-click POSTs. It must not follow redirects.
	HTTPClient *http.Client
}

// DefaultConfig returns the standard discovery defaults with an instrumented
// HTTP client that has its own timeout.
func DefaultConfig() Config {
	return Config{
		DefaultQuery:   DefaultQuery,
		DefaultMaxScan: DefaultMaxScan,
		HTTPClient:     NewHTTPClient(defaultTimeout),
	}
}

// NewHTTPClient returns a traced client that reports redirects instead of
// following them.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Resolver discovers and executes unsubscribe methods for one mailbox.
type Resolver struct {
	provider mailbox.Provider
	scanner  *scan.Engine
	cfg      Config
	logger   *slog.Logger
}

// New creates a Resolver. Zero fields in cfg take their defaults.
func New(provider mailbox.Provider, scanner *scan.Engine, cfg Config, logger *slog.Logger) *Resolver {
	def := DefaultConfig()
	if cfg.DefaultQuery == "" {
		cfg.DefaultQuery = def.DefaultQuery
	}
	if cfg.DefaultMaxScan <= 0 {
		cfg.DefaultMaxScan = def.DefaultMaxScan
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = def.HTTPClient
	}
	return &Resolver{provider: provider, scanner: scanner, cfg: cfg, logger: logging.OrDefault(logger)}
}

// FindCandidates scans headers of up to maxScan messages matching query and
// returns one candidate per sender domain, in scan order.
func (r *Resolver) FindCandidates(ctx context.Context, query string, maxScan int) ([]Candidate, error) {
	if strings.TrimSpace(query) == "" {
		query = r.cfg.DefaultQuery
	}
	if maxScan <= 0 {
		maxScan = r.cfg.DefaultMaxScan
	}

	res, err := r.scanner.ScanMetadata(ctx, query, maxScan)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	seen := make(map[string]bool)
	noSender := 0
	for _, rec := range res.Records {
		methods := ParseListUnsubscribe(rec.Headers.ListUnsubscribe, rec.Headers.ListUnsubscribePost)
		if methods.Empty() {
			continue
		}
		// Candidates are one per sender domain; a From without an address
		// has none.
		domain := SenderDomain(rec.Headers.From)
		if domain == "" {
			noSender++
			continue
		}
		if seen[domain] {
			continue
		}
		seen[domain] = true
		out = append(out, Candidate{
			MessageID:    rec.ID,
			SenderDomain: domain,
			Sender:       rec.Headers.From,
			Subject:      rec.Headers.Subject,
			Methods:      methods,
		})
	}

	r.logger.Info("unsubscribe candidates found",
		logging.Operation("find_unsubscribe_candidates"),
		slog.Int("scanned", len(res.Records)),
		slog.Int("no_sender", noSender),
		logging.Count(len(out)))
	return out, nil
}

// Unsubscribe executes the best method advertised by messageID. The error is
// non-nil only when the message could not be read.
func (r *Resolver) Unsubscribe(ctx context.Context, messageID string) (Outcome, error) {
	rec, err := r.provider.GetMessage(ctx, messageID, mailbox.FormatMetadata)
	if err != nil {
		return Outcome{Method: MethodNone, Detail: "could not read message"}, err
	}
	methods := ParseListUnsubscribe(rec.Headers.ListUnsubscribe, rec.Headers.ListUnsubscribePost)
	domain := SenderDomain(rec.Headers.From)

	var oneClickErr error
	if methods.OneClickURL != "" {
		oneClickErr = r.postOneClick(ctx, methods.OneClickURL)
		if oneClickErr == nil {
			r.logger.Info("unsubscribed",
				slog.String("method", MethodOneClick),
				slog.String("sender_domain", domain))
			return Outcome{Success: true, Method: MethodOneClick, Detail: "unsubscribed from " + domain}, nil
		}
		r.logger.Warn("one-click unsubscribe failed, falling back",
			slog.String("sender_domain", domain),
			logging.Err(oneClickErr))
	}

	switch {
	case methods.LinkURL != "":
		detail := "open the link to finish unsubscribing"
		if oneClickErr != nil {
			detail = fmt.Sprintf("one-click failed (%v); %s", oneClickErr, detail)
		}
		return Outcome{Success: true, Method: MethodLink, URL: methods.LinkURL, Detail: detail}, nil
	case methods.Mailto != "":
		return Outcome{
			Success: true,
			Method:  MethodMailto,
			Address: MailtoAddress(methods.Mailto),
			URL:     methods.Mailto,
			Detail:  "send an email to this address to unsubscribe",
		}, nil
	}
	return Outcome{Method: MethodNone, Detail: "message has no unsubscribe information"}, nil
}

// BulkUnsubscribe unsubscribes from each message's sender in order. Items
// without any method count as failed; one failure never stops the rest.
func (r *Resolver) BulkUnsubscribe(ctx context.Context, ids []string) BulkOutcome {
	return batch.Process(ctx, ids, func(ctx context.Context, id string) (Outcome, error) {
		out, err := r.Unsubscribe(ctx, id)
		if err != nil {
			return out, err
		}
		if !out.Success {
			return out, fmt.Errorf("%s", out.Detail)
		}
		return out, nil
	})
}

func (r *Resolver) postOneClick(ctx context.Context, target string) error {
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid one-click URL %q", target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(oneClickValue))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send unsubscribe request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return nil
	}
	return fmt.Errorf("unsubscribe request failed with status %d", resp.StatusCode)
}
