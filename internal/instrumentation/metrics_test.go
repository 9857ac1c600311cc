package instrumentation

import (
	"context"
	"testing"
	"time"
)

func TestMetrics_RecordAll(t *testing.T) {
	ctx := context.Background()
	provider := newTestProvider(t, Config{
		ServiceName:     "test-service",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
		DetailedLabels:  true,
	})

	m := provider.Metrics()
	if m == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	m.RecordMailboxOperation(ctx, OperationList, StatusSuccess, 120*time.Millisecond)
	m.RecordMailboxOperation(ctx, OperationBatchModify, StatusError, time.Second)
	m.RecordTokenRefresh(ctx, RefreshSuccess)
	m.RecordTokenRefresh(ctx, RefreshExpired)
	m.RecordToolInvocation(ctx, "trash_emails", StatusSuccess, "conn-1", 50*time.Millisecond)
	m.RecordApprovalRefusal(ctx, "trash_emails")
	m.RecordMutation(ctx, "trash", 1000, 2)
	m.RecordAgentStep(ctx)
	m.RecordAgentTurn(ctx, "done")
	m.IncrementActiveSessions(ctx)
	m.DecrementActiveSessions(ctx)
}

func TestMetrics_NoOp(t *testing.T) {
	ctx := context.Background()

	provider := newTestProvider(t, Config{Enabled: false})
	var nilMetrics *Metrics

	for _, m := range []*Metrics{provider.Metrics(), nilMetrics} {
		// All of these must be safe without instruments
		m.RecordMailboxOperation(ctx, OperationGet, StatusSuccess, time.Millisecond)
		m.RecordTokenRefresh(ctx, RefreshFailure)
		m.RecordToolInvocation(ctx, "search_emails", StatusSuccess, "", time.Millisecond)
		m.RecordApprovalRefusal(ctx, "send_email")
		m.RecordMutation(ctx, "archive", 1, 0)
		m.RecordAgentStep(ctx)
		m.RecordAgentTurn(ctx, "aborted")
		m.IncrementActiveSessions(ctx)
		m.DecrementActiveSessions(ctx)
	}
}
