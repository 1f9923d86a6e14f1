// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Listing registered wraps
//   - Loading a wrap synchronously or submitting it to the worker pool
//   - Run queries and cancellation
//   - Health checks
//   - Prometheus metrics
package http
