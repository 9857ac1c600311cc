package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

// Operation names a mutation.
type Operation string

const (
	OpLabelAdd    Operation = "label-add"
	OpLabelRemove Operation = "label-remove"
	OpLabelChange Operation = "label-change"
	OpArchive     Operation = "archive"
	OpTrash       Operation = "trash"
	OpUntrash     Operation = "untrash"
	OpMarkRead    Operation = "mark-read"
	OpMarkUnread  Operation = "mark-unread"
)

const (
	// TrashPageSize bounds each fresh search in TrashByQuery.
	TrashPageSize = 500
	// DefaultMaxToTrash applies when TrashByQuery is given no positive ceiling.
	DefaultMaxToTrash = 1000
	// MaxToTrashCeiling is the largest ceiling a caller may request.
	MaxToTrashCeiling = 10000
)

// ErrApprovalRequired is returned by Apply for an unconfirmed request.
var ErrApprovalRequired = errors.New("approval required")

// Config tunes an Engine.
type Config struct {
	BatchLimit        int
	TrashPageSize     int
	DefaultMaxToTrash int
	MaxToTrashCeiling int
}

// DefaultConfig returns the provider limits.
func DefaultConfig() Config {
	return Config{
		BatchLimit:        mailbox.BatchLimit,
		TrashPageSize:     TrashPageSize,
		DefaultMaxToTrash: DefaultMaxToTrash,
		MaxToTrashCeiling: MaxToTrashCeiling,
	}
}

// ChunkError records one failed chunk.
type ChunkError struct {
	Chunk int    `json:"chunk"`
	Size  int    `json:"size"`
	Error string `json:"error"`
}

// Report is the outcome of an id-based mutation.
type Report struct {
	Operation Operation    `json:"operation"`
	Attempted int          `json:"attempted"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Chunks    int          `json:"chunks"`
	Errors    []ChunkError `json:"errors,omitempty"`

	// fatal is the first chunk error that invalidates the connection.
	fatal error
}

// OK reports whether every id was applied.
func (r Report) OK() bool {
	return r.Failed == 0
}

// Err returns the connection-level failure seen while applying, if any.
func (r Report) Err() error {
	return r.fatal
}

// Engine applies mutations through a mailbox provider. It holds no
// per-request state.
type Engine struct {
	provider mailbox.Provider
	cfg      Config
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

// New creates an Engine. Zero fields in cfg take their defaults.
func New(provider mailbox.Provider, cfg Config, logger *slog.Logger, metrics *instrumentation.Metrics) *Engine {
	def := DefaultConfig()
	if cfg.BatchLimit <= 0 || cfg.BatchLimit > mailbox.BatchLimit {
		cfg.BatchLimit = def.BatchLimit
	}
	if cfg.TrashPageSize <= 0 || cfg.TrashPageSize > mailbox.MaxPageSize {
		cfg.TrashPageSize = def.TrashPageSize
	}
	if cfg.DefaultMaxToTrash <= 0 {
		cfg.DefaultMaxToTrash = def.DefaultMaxToTrash
	}
	if cfg.MaxToTrashCeiling <= 0 {
		cfg.MaxToTrashCeiling = def.MaxToTrashCeiling
	}
	return &Engine{provider: provider, cfg: cfg, logger: logging.OrDefault(logger), metrics: metrics}
}

// ApplyLabelChange adds and removes labels on ids.
func (e *Engine) ApplyLabelChange(ctx context.Context, ids, add, remove []string) Report {
	op := OpLabelChange
	switch {
	case len(remove) == 0:
		op = OpLabelAdd
	case len(add) == 0:
		op = OpLabelRemove
	}
	return e.apply(ctx, op, ids, mailbox.ModifyOps{AddLabels: add, RemoveLabels: remove})
}

// Archive removes ids from the inbox.
func (e *Engine) Archive(ctx context.Context, ids []string) Report {
	return e.apply(ctx, OpArchive, ids, opsFor(OpArchive))
}

// Trash moves ids to the trash.
func (e *Engine) Trash(ctx context.Context, ids []string) Report {
	return e.apply(ctx, OpTrash, ids, opsFor(OpTrash))
}

// Untrash restores ids from the trash to the inbox.
func (e *Engine) Untrash(ctx context.Context, ids []string) Report {
	return e.apply(ctx, OpUntrash, ids, opsFor(OpUntrash))
}

// MarkRead clears the unread flag on ids.
func (e *Engine) MarkRead(ctx context.Context, ids []string) Report {
	return e.apply(ctx, OpMarkRead, ids, opsFor(OpMarkRead))
}

// MarkUnread sets the unread flag on ids.
func (e *Engine) MarkUnread(ctx context.Context, ids []string) Report {
	return e.apply(ctx, OpMarkUnread, ids, opsFor(OpMarkUnread))
}

func opsFor(op Operation) mailbox.ModifyOps {
	switch op {
	case OpArchive:
		return mailbox.ModifyOps{RemoveLabels: []string{mailbox.LabelInbox}}
	case OpTrash:
		return mailbox.ModifyOps{AddLabels: []string{mailbox.LabelTrash}, RemoveLabels: []string{mailbox.LabelInbox}}
	case OpUntrash:
		return mailbox.ModifyOps{AddLabels: []string{mailbox.LabelInbox}, RemoveLabels: []string{mailbox.LabelTrash}}
	case OpMarkRead:
		return mailbox.ModifyOps{RemoveLabels: []string{mailbox.LabelUnread}}
	case OpMarkUnread:
		return mailbox.ModifyOps{AddLabels: []string{mailbox.LabelUnread}}
	}
	return mailbox.ModifyOps{}
}

// apply issues one BatchModify per chunk, sequentially, and attempts every
// chunk regardless of earlier failures. Duplicate and empty ids are dropped.
func (e *Engine) apply(ctx context.Context, op Operation, ids []string, ops mailbox.ModifyOps) Report {
	ids = uniqueIDs(ids)
	report := Report{Operation: op, Attempted: len(ids)}
	if len(ids) == 0 || ops.IsEmpty() {
		report.Succeeded = len(ids)
		return report
	}

	for i, chunk := range chunkIDs(ids, e.cfg.BatchLimit) {
		report.Chunks++
		if err := e.provider.BatchModify(ctx, chunk, ops); err != nil {
			report.Failed += len(chunk)
			report.Errors = append(report.Errors, ChunkError{Chunk: i, Size: len(chunk), Error: err.Error()})
			if report.fatal == nil && (mailbox.IsFatal(err) || ctx.Err() != nil) {
				report.fatal = err
			}
			e.logger.Warn("batch modify failed",
				logging.Operation(string(op)),
				slog.Int("chunk", i),
				logging.Count(len(chunk)),
				logging.Err(err))
			continue
		}
		report.Succeeded += len(chunk)
	}

	e.metrics.RecordMutation(ctx, string(op), report.Succeeded, report.Failed)
	e.logger.Info("mutation applied",
		logging.Operation(string(op)),
		slog.Int("attempted", report.Attempted),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("chunks", report.Chunks))
	return report
}

func chunkIDs(ids []string, size int) [][]string {
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for chunk := range slices.Chunk(ids, size) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// TrashReport is the outcome of TrashByQuery.
type TrashReport struct {
	Query      string `json:"query"`
	MaxToTrash int    `json:"maxToTrash"`
	Trashed    int    `json:"trashedCount"`
	Failed     int    `json:"failed"`
	Searches   int    `json:"searches"`
	// Capped is set when the ceiling stopped the run while matches remained.
	Capped bool `json:"capped"`
	// Aborted is set when a chunk failed and the run stopped early.
	Aborted bool `json:"aborted"`
}

// Incomplete reports whether the run stopped on a failure.
func (r TrashReport) Incomplete() bool {
	return r.Aborted || r.Failed > 0
}

// TrashByQuery trashes every message matching query, up to maxToTrash.
//
// Reaching the ceiling is a success with Capped set. A failed chunk aborts
// the run, since the same ids would otherwise be returned by every later
// search, and is returned as an error alongside the counts so far.
func (e *Engine) TrashByQuery(ctx context.Context, query string, maxToTrash int) (TrashReport, error) {
	if maxToTrash <= 0 {
		maxToTrash = e.cfg.DefaultMaxToTrash
	}
	maxToTrash = min(maxToTrash, e.cfg.MaxToTrashCeiling)
	report := TrashReport{Query: query, MaxToTrash: maxToTrash}

	processed := make(map[string]bool)
	// fresh runs a token-less search and drops ids handled earlier in the
	// run. n is the size of the unfiltered page.
	fresh := func(pageSize int) (ids []string, n int, err error) {
		page, err := e.provider.List(ctx, query, "", pageSize)
		report.Searches++
		if err != nil {
			return nil, 0, err
		}
		for _, ref := range page.Refs {
			if !processed[ref.ID] {
				ids = append(ids, ref.ID)
			}
		}
		return ids, len(page.Refs), nil
	}

	empties := 0
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		remaining := maxToTrash - report.Trashed
		if remaining <= 0 {
			// A lagging index may still list processed ids first, so the peek
			// asks for one more than were processed. A full page of
			// processed ids cannot rule out further matches.
			peek := min(len(processed)+1, mailbox.MaxPageSize)
			more, n, err := fresh(peek)
			if err != nil {
				return report, err
			}
			report.Capped = len(more) > 0 || n == peek
			break
		}

		ids, _, err := fresh(min(e.cfg.TrashPageSize, remaining))
		if err != nil {
			return report, err
		}
		if len(ids) == 0 {
			empties++
			if empties >= 2 {
				break
			}
			continue
		}
		empties = 0

		for _, id := range ids {
			processed[id] = true
		}
		r := e.Trash(ctx, ids)
		report.Trashed += r.Succeeded
		report.Failed += r.Failed
		if !r.OK() {
			report.Aborted = true
			e.logger.Warn("trash by query aborted",
				logging.Operation(string(OpTrash)),
				slog.Int("trashed", report.Trashed),
				slog.Int("failed", report.Failed))
			if fatal := r.Err(); fatal != nil {
				return report, fatal
			}
			return report, fmt.Errorf("trash by query aborted after %d messages: %s", report.Trashed, r.Errors[0].Error)
		}
	}

	e.logger.Info("trash by query completed",
		logging.Operation(string(OpTrash)),
		slog.Int("trashed", report.Trashed),
		slog.Int("searches", report.Searches),
		slog.Bool("capped", report.Capped))
	return report, nil
}
