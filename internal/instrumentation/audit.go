package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
)

// Audit outcomes for a tool invocation.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRefused  = "refused"
	OutcomeReplayed = "replayed"
	OutcomeUpgrade  = "upgrade_required"
)

// ToolInvocation is one audit record.
//
// OwnerID identifies the mailbox owner and is PII; the audit logger hashes
// it unless configured otherwise.
type ToolInvocation struct {
	Tool         string
	ConnectionID string
	OwnerID      string

	Destructive bool
	Confirmed   bool

	StartTime time.Time
	Duration  time.Duration
	Outcome   string
	Error     string

	TraceID string
	SpanID  string
}

// NewToolInvocation starts timing an invocation.
func NewToolInvocation(tool, connectionID, ownerID string) *ToolInvocation {
	return &ToolInvocation{
		Tool:         tool,
		ConnectionID: connectionID,
		OwnerID:      ownerID,
		StartTime:    time.Now(),
	}
}

// WithGate records the approval-relevant flags of the call.
func (ti *ToolInvocation) WithGate(destructive, confirmed bool) *ToolInvocation {
	ti.Destructive = destructive
	ti.Confirmed = confirmed
	return ti
}

// WithSpanContext copies trace ids from the span in ctx.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	ti.TraceID = GetTraceID(ctx)
	ti.SpanID = GetSpanID(ctx)
	return ti
}

// Complete stops timing and records the outcome.
func (ti *ToolInvocation) Complete(outcome string, errMsg string) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Outcome = outcome
	ti.Error = errMsg
	return ti
}

// Status maps the outcome onto the metric status label. Refusals and plan
// gates are successful invocations of the gate itself.
func (ti *ToolInvocation) Status() string {
	if ti.Outcome == OutcomeError {
		return StatusError
	}
	return StatusSuccess
}

func (ti *ToolInvocation) attrs(includePII bool) []any {
	owner := slog.String(logging.KeyOwnerHash, logging.AnonymizeEmail(ti.OwnerID))
	if includePII {
		owner = slog.String("owner", ti.OwnerID)
	}
	args := []any{
		logging.Tool(ti.Tool),
		logging.Connection(ti.ConnectionID),
		owner,
		slog.Bool("destructive", ti.Destructive),
		slog.Bool("confirmed", ti.Confirmed),
		slog.String("outcome", ti.Outcome),
		slog.Duration("duration", ti.Duration),
	}
	if ti.TraceID != "" {
		args = append(args, slog.String("trace_id", ti.TraceID), slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		args = append(args, slog.String(logging.KeyError, ti.Error))
	}
	return args
}

// AuditLogger writes one structured line per tool invocation.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger returns an enabled audit logger that hashes owner ids.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	return &AuditLogger{
		logger:     logging.OrDefault(logger).With(slog.String("component", "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolInvocation writes ti. Failed invocations log at warn level.
// A nil logger discards.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}
	if ti.Outcome == OutcomeError {
		al.logger.Warn("tool_failed", ti.attrs(al.includePII)...)
		return
	}
	al.logger.Info("tool_executed", ti.attrs(al.includePII)...)
}
