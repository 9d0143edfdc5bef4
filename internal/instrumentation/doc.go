// Package instrumentation provides OpenTelemetry metrics and tracing for the
// fetchfloww backend.
//
// # Metrics
//
// HTTP:
//   - http_requests_total: requests by method, route and status
//   - http_request_duration_seconds: request latency histogram
//
// Google APIs:
//   - google_api_operations_total: Gmail/Drive calls by service, operation, status
//   - google_api_operation_duration_seconds: call latency histogram
//
// Authentication:
//   - oauth_login_total: completed Google sign-ins by result
//   - oauth_token_refresh_total: access token refreshes by result
//
// Attachments:
//   - attachments_synced_total: attachments copied to Drive by file type and status
//
// # Configuration
//
// Environment variables:
//   - INSTRUMENTATION_ENABLED (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
//   - OTEL_TRACES_SAMPLER_ARG (default: 0.1)
//   - OTEL_SERVICE_NAME (default: fetchfloww)
package instrumentation
