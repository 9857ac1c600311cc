// Package instrumentation provides OpenTelemetry metrics, tracing and audit
// logging for mailagent.
//
// # Metrics
//
// Mailbox API:
//   - mailbox_api_operations_total: provider calls by operation and status
//   - mailbox_api_operation_duration_seconds: provider call latency
//
// Token vault:
//   - token_refresh_total: refresh attempts by result (success, failure, expired)
//
// Tools:
//   - tool_invocations_total: tool invocations by tool and status
//   - tool_duration_seconds: tool execution latency
//   - approval_refusals_total: destructive calls refused for lack of confirmation
//   - mutation_messages_total: messages mutated by operation and result
//
// Agent:
//   - agent_steps_total: model steps taken
//   - agent_turns_total: completed turns by outcome (done, aborted, canceled)
//   - active_sessions: connections with a live tool session
//
// # Configuration
//
// Instrumentation is configured from the environment by DefaultConfig:
//   - INSTRUMENTATION_ENABLED: enable or disable (default: true)
//   - METRICS_EXPORTER: prometheus, otlp or stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces and metrics
//   - OTEL_TRACES_SAMPLER_ARG: sampling rate between 0.0 and 1.0 (default: 0.1)
//   - OTEL_SERVICE_NAME: service name (default: mailagent)
//
// A nil *Metrics is valid and records nothing, so components can take one as
// an optional dependency.
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordToolInvocation(ctx, "trash_emails", instrumentation.StatusSuccess, time.Since(start))
package instrumentation
