package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrStatus     = "status"
	attrOperation  = "operation"
	attrResult     = "result"
	attrTool       = "tool"
	attrOutcome    = "outcome"
	attrConnection = "connection"
)

// Metrics records mailagent metrics. The zero value and a nil pointer are
// both no-ops.
type Metrics struct {
	mailboxOperationsTotal   metric.Int64Counter
	mailboxOperationDuration metric.Float64Histogram

	tokenRefreshTotal metric.Int64Counter

	toolInvocationsTotal  metric.Int64Counter
	toolDuration          metric.Float64Histogram
	approvalRefusalsTotal metric.Int64Counter
	mutationMessagesTotal metric.Int64Counter

	agentStepsTotal metric.Int64Counter
	agentTurnsTotal metric.Int64Counter
	activeSessions  metric.Int64UpDownCounter

	// detailedLabels adds the connection id to tool metrics. Keep it off in
	// production; it is unbounded.
	detailedLabels bool
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}
	latencyBuckets := metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0)

	var err error
	if m.mailboxOperationsTotal, err = meter.Int64Counter(
		"mailbox_api_operations_total",
		metric.WithDescription("Total number of mailbox provider API operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create mailbox_api_operations_total counter: %w", err)
	}
	if m.mailboxOperationDuration, err = meter.Float64Histogram(
		"mailbox_api_operation_duration_seconds",
		metric.WithDescription("Mailbox provider API operation duration in seconds"),
		metric.WithUnit("s"),
		latencyBuckets,
	); err != nil {
		return nil, fmt.Errorf("failed to create mailbox_api_operation_duration_seconds histogram: %w", err)
	}
	if m.tokenRefreshTotal, err = meter.Int64Counter(
		"token_refresh_total",
		metric.WithDescription("Total number of access token refresh attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token_refresh_total counter: %w", err)
	}
	if m.toolInvocationsTotal, err = meter.Int64Counter(
		"tool_invocations_total",
		metric.WithDescription("Total number of tool invocations"),
		metric.WithUnit("{invocation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool_invocations_total counter: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"tool_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
		latencyBuckets,
	); err != nil {
		return nil, fmt.Errorf("failed to create tool_duration_seconds histogram: %w", err)
	}
	if m.approvalRefusalsTotal, err = meter.Int64Counter(
		"approval_refusals_total",
		metric.WithDescription("Destructive tool calls refused because they were not confirmed"),
		metric.WithUnit("{refusal}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create approval_refusals_total counter: %w", err)
	}
	if m.mutationMessagesTotal, err = meter.Int64Counter(
		"mutation_messages_total",
		metric.WithDescription("Messages passed to batch mutations"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create mutation_messages_total counter: %w", err)
	}
	if m.agentStepsTotal, err = meter.Int64Counter(
		"agent_steps_total",
		metric.WithDescription("Total number of agent model steps"),
		metric.WithUnit("{step}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent_steps_total counter: %w", err)
	}
	if m.agentTurnsTotal, err = meter.Int64Counter(
		"agent_turns_total",
		metric.WithDescription("Total number of agent turns by outcome"),
		metric.WithUnit("{turn}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create agent_turns_total counter: %w", err)
	}
	if m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of connections with a live tool session"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	return m, nil
}

// RecordMailboxOperation records one provider API call.
func (m *Metrics) RecordMailboxOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m == nil || m.mailboxOperationsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.mailboxOperationsTotal.Add(ctx, 1, attrs)
	m.mailboxOperationDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordTokenRefresh records a refresh attempt.
// Result should be one of RefreshSuccess, RefreshFailure, RefreshExpired.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordToolInvocation records a tool invocation. The connection id is only
// attached when detailed labels are enabled.
func (m *Metrics) RecordToolInvocation(ctx context.Context, tool, status, connectionID string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrTool, tool),
		attribute.String(attrStatus, status),
	}
	if m.detailedLabels && connectionID != "" {
		attrs = append(attrs, attribute.String(attrConnection, connectionID))
	}
	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordApprovalRefusal records a destructive call refused by the approval gate.
func (m *Metrics) RecordApprovalRefusal(ctx context.Context, tool string) {
	if m == nil || m.approvalRefusalsTotal == nil {
		return
	}
	m.approvalRefusalsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrTool, tool)))
}

// RecordMutation records the outcome of a batch mutation.
func (m *Metrics) RecordMutation(ctx context.Context, operation string, succeeded, failed int) {
	if m == nil || m.mutationMessagesTotal == nil {
		return
	}
	if succeeded > 0 {
		m.mutationMessagesTotal.Add(ctx, int64(succeeded), metric.WithAttributes(
			attribute.String(attrOperation, operation),
			attribute.String(attrResult, StatusSuccess),
		))
	}
	if failed > 0 {
		m.mutationMessagesTotal.Add(ctx, int64(failed), metric.WithAttributes(
			attribute.String(attrOperation, operation),
			attribute.String(attrResult, StatusError),
		))
	}
}

// RecordAgentStep records one model step.
func (m *Metrics) RecordAgentStep(ctx context.Context) {
	if m == nil || m.agentStepsTotal == nil {
		return
	}
	m.agentStepsTotal.Add(ctx, 1)
}

// RecordAgentTurn records a finished turn with its outcome.
func (m *Metrics) RecordAgentTurn(ctx context.Context, outcome string) {
	if m == nil || m.agentTurnsTotal == nil {
		return
	}
	m.agentTurnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}
