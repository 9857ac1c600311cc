package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/londonzade-stack/agent-seller-sub000/internal/instrumentation"
	"github.com/londonzade-stack/agent-seller-sub000/internal/logging"
	"github.com/londonzade-stack/agent-seller-sub000/internal/mailbox"
)

// Options configures a Registry. The zero value is usable.
type Options struct {
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger

	// ReplayWindow defaults to DefaultReplayWindow. A negative value
	// disables the replay guard.
	ReplayWindow time.Duration
	Now          func() time.Time
}

// Registry dispatches tool calls for one connection's engines.
type Registry struct {
	deps    *Deps
	tools   map[string]Tool
	order   []Tool
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	replay  *replayGuard
}

// NewRegistry builds the full catalog bound to deps.
func NewRegistry(deps *Deps, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReplayWindow == 0 {
		opts.ReplayWindow = DefaultReplayWindow
	}
	r := &Registry{
		deps:    deps,
		tools:   make(map[string]Tool),
		logger:  logging.OrDefault(opts.Logger),
		metrics: opts.Metrics,
		audit:   opts.Audit,
	}
	if opts.ReplayWindow > 0 {
		r.replay = newReplayGuard(opts.ReplayWindow, opts.Now)
	}
	for _, t := range Catalog() {
		r.tools[t.Name()] = t
		r.order = append(r.order, t)
	}
	return r
}

// Tools returns the catalog in declaration order.
func (r *Registry) Tools() []Tool {
	return append([]Tool(nil), r.order...)
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Invoke runs one tool call. The Result is always well formed. The error is
// non-nil only for failures that invalidate the connection
// (mailbox.ErrNoConnection, mailbox.ErrAuthExpired); callers should stop the
// turn on it.
func (r *Registry) Invoke(ctx context.Context, s Session, name string, input json.RawMessage) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return failure(fmt.Errorf("unknown tool %q", name)), nil
	}

	ctx, span := instrumentation.StartToolSpan(ctx, name, s.ConnectionID, t.Destructive())
	start := time.Now()
	inv := instrumentation.NewToolInvocation(name, s.ConnectionID, s.OwnerID).WithSpanContext(ctx)

	res, outcome, err := r.invoke(ctx, t, s, input, inv)

	dur := time.Since(start)
	status := instrumentation.StatusSuccess
	if !res.Success && outcome == instrumentation.OutcomeError {
		status = instrumentation.StatusError
	}
	r.metrics.RecordToolInvocation(ctx, name, status, s.ConnectionID, dur)
	r.audit.LogToolInvocation(inv.Complete(outcome, res.Error))
	var spanErr error
	if status == instrumentation.StatusError {
		spanErr = errors.New(res.Error)
	}
	instrumentation.EndSpan(span, spanErr)
	return res, err
}

func (r *Registry) invoke(ctx context.Context, t Tool, s Session, input json.RawMessage, inv *instrumentation.ToolInvocation) (Result, string, error) {
	logger := logging.WithTool(logging.WithConnection(r.logger, s.ConnectionID), t.Name())

	c, err := t.prepare(input)
	if err != nil {
		inv.WithGate(t.Destructive(), false)
		return failure(err), instrumentation.OutcomeError, nil
	}
	inv.WithGate(t.Destructive(), c.confirmed())

	if !s.Plan.Allows(t.Entitlement()) {
		logger.Info("tool requires upgrade", slog.String("entitlement", string(t.Entitlement())))
		return upgradeRequired(t.Name(), t.Entitlement()), instrumentation.OutcomeUpgrade, nil
	}

	if t.Destructive() && !c.confirmed() {
		desc, details := c.approval()
		r.metrics.RecordApprovalRefusal(ctx, t.Name())
		logger.Info("destructive tool refused without confirmation")
		return approvalRequired(t.Name(), desc, details), instrumentation.OutcomeRefused, nil
	}

	exec := func() (Result, error) {
		data, err := c.run(ctx, r.deps, s)
		if err != nil {
			logger.Warn("tool failed", logging.Err(err))
			res := failure(err)
			if mailbox.IsFatal(err) {
				return res, err
			}
			return res, nil
		}
		res := success(data)
		if p, ok := data.(incomplete); ok && p.Incomplete() {
			res.partial = true
		}
		return res, nil
	}

	if !t.Destructive() || r.replay == nil {
		res, err := exec()
		return res, outcomeOf(res), err
	}

	res, replayed, err := r.replay.do(replayKey(s.ConnectionID, t.Name(), c.canonical()), exec)
	if replayed && res.Success {
		res.Replayed = true
		logger.Info("confirmed call replayed")
		return res, instrumentation.OutcomeReplayed, err
	}
	return res, outcomeOf(res), err
}

func outcomeOf(res Result) string {
	if res.Success {
		return instrumentation.OutcomeSuccess
	}
	return instrumentation.OutcomeError
}

// Schemas returns the MCP declaration of every tool, in catalog order.
func (r *Registry) Schemas() []mcp.Tool {
	out := make([]mcp.Tool, len(r.order))
	for i, t := range r.order {
		out[i] = t.Schema()
	}
	return out
}
