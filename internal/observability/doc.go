// Package observability provides structured logging, metrics, and fault
// containment for the gateway.
//
// This package implements:
//   - zap logger construction from level and format settings
//   - Prometheus counters for token storage, denylist and permission cache paths
//   - Request-scoped log fields
//   - A goroutine guard that contains background panics
package observability
