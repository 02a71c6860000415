// Package observability provides structured logging and Prometheus metrics
// for the tenant isolation and authorization core.
//
// This package implements:
//   - zap logger construction from configuration
//   - request-scoped loggers carrying the chi request ID
//   - Prometheus collectors for authorization decisions, throttling and audit delivery
//   - HTTP instrumentation middleware and the /metrics handler
package observability
