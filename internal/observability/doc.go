// Package observability provides structured logging and metrics for the
// IP broker.
//
// This package implements:
//   - A context-aware zap logger that stamps every entry with the request ID
//   - A Prometheus collector for provider selections, outcomes and rejections
//
// The routing core depends only on the Logger and Metrics interfaces.
package observability
