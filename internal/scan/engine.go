// Package scan turns a search query and a requested result size into message
// records, choosing a full or metadata fetch by size.
package scan

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

const (
	// SmallScanThreshold is the largest request answered with full content.
	SmallScanThreshold = 50
	// MaxScanResults caps one logical scan.
	MaxScanResults = 500
	// DefaultMaxResults applies when the caller gives no positive size.
	DefaultMaxResults = 20
	// FetchConcurrency bounds parallel detail fetches.
	FetchConcurrency = 50
)

// Config tunes an Engine.
type Config struct {
	SmallScanThreshold int
	MaxResults         int
	DefaultMaxResults  int
	PageSize           int
	FetchConcurrency   int
}

// DefaultConfig returns the standard scan limits.
func DefaultConfig() Config {
	return Config{
		SmallScanThreshold: SmallScanThreshold,
		MaxResults:         MaxScanResults,
		DefaultMaxResults:  DefaultMaxResults,
		PageSize:           mailbox.MaxPageSize,
		FetchConcurrency:   FetchConcurrency,
	}
}

// Stats describes how a scan went.
type Stats struct {
	Requested int            `json:"requested"`
	Matched   int            `json:"matched"`
	Returned  int            `json:"returned"`
	Skipped   int            `json:"skipped"`
	Format    mailbox.Format `json:"format"`
}

// Result is the outcome of Scan. Records keep provider order.
type Result struct {
	Records []mailbox.MessageRecord
	Stats   Stats
}

// Engine runs scans against one mailbox. It holds no per-scan state.
type Engine struct {
	provider mailbox.Provider
	cfg      Config
	logger   *slog.Logger
}

// New creates an Engine. Zero fields in cfg take their defaults.
func New(provider mailbox.Provider, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.SmallScanThreshold <= 0 {
		cfg.SmallScanThreshold = def.SmallScanThreshold
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = def.DefaultMaxResults
	}
	if cfg.PageSize <= 0 || cfg.PageSize > mailbox.MaxPageSize {
		cfg.PageSize = def.PageSize
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}
	return &Engine{provider: provider, cfg: cfg, logger: logging.OrDefault(logger)}
}

// FormatFor reports which fetch strategy a request of maxResults uses.
func (e *Engine) FormatFor(maxResults int) mailbox.Format {
	if e.clamp(maxResults) <= e.cfg.SmallScanThreshold {
		return mailbox.FormatFull
	}
	return mailbox.FormatMetadata
}

func (e *Engine) clamp(maxResults int) int {
	if maxResults <= 0 {
		return e.cfg.DefaultMaxResults
	}
	return min(maxResults, e.cfg.MaxResults)
}

// Scan returns up to maxResults records matching query. Small requests are
// fetched in full; larger ones return headers and snippet only. A message
// whose detail fetch fails is skipped and counted; an authorization failure
// or cancellation aborts the scan.
func (e *Engine) Scan(ctx context.Context, query string, maxResults int) (Result, error) {
	return e.scan(ctx, query, e.clamp(maxResults), e.FormatFor(maxResults))
}

// ScanMetadata is Scan with the metadata strategy regardless of size, for
// callers that only read headers.
func (e *Engine) ScanMetadata(ctx context.Context, query string, maxResults int) (Result, error) {
	return e.scan(ctx, query, e.clamp(maxResults), mailbox.FormatMetadata)
}

func (e *Engine) scan(ctx context.Context, query string, n int, format mailbox.Format) (Result, error) {
	refs, err := e.ListRefs(ctx, query, n)
	if err != nil {
		return Result{}, err
	}

	records, skipped, err := e.fetch(ctx, refs, format)
	if err != nil {
		return Result{}, err
	}

	stats := Stats{
		Requested: n,
		Matched:   len(refs),
		Returned:  len(records),
		Skipped:   skipped,
		Format:    format,
	}
	e.logger.Debug("scan completed",
		logging.Operation("scan"),
		logging.Count(stats.Returned),
		slog.Int("skipped", stats.Skipped),
		slog.String("format", string(format)))
	return Result{Records: records, Stats: stats}, nil
}

// ListRefs follows continuation tokens until limit refs are collected or the
// provider has no more pages.
func (e *Engine) ListRefs(ctx context.Context, query string, limit int) ([]mailbox.MessageRef, error) {
	var refs []mailbox.MessageRef
	pageToken := ""
	for len(refs) < limit {
		page, err := e.provider.List(ctx, query, pageToken, min(limit-len(refs), e.cfg.PageSize))
		if err != nil {
			return nil, err
		}
		refs = append(refs, page.Refs...)
		if page.NextPageToken == "" || len(page.Refs) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// Get fetches one message in full.
func (e *Engine) Get(ctx context.Context, id string) (mailbox.MessageRecord, error) {
	return e.provider.GetMessage(ctx, id, mailbox.FormatFull)
}

func (e *Engine) fetch(ctx context.Context, refs []mailbox.MessageRef, format mailbox.Format) ([]mailbox.MessageRecord, int, error) {
	slots := make([]*mailbox.MessageRecord, len(refs))
	var skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FetchConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			rec, err := e.provider.GetMessage(gctx, ref.ID, format)
			if err != nil {
				if mailbox.IsFatal(err) || gctx.Err() != nil {
					return err
				}
				skipped.Add(1)
				e.logger.Warn("skipping message",
					logging.Operation("scan"),
					slog.String("message_id", ref.ID),
					logging.Err(err))
				return nil
			}
			slots[i] = &rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, err
	}

	records := make([]mailbox.MessageRecord, 0, len(refs))
	for _, r := range slots {
		if r != nil {
			records = append(records, *r)
		}
	}
	return records, int(skipped.Load()), nil
}
