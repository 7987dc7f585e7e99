// Package api hosts the HTTP server, middleware, and handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/index streams the master crawl as NDJSON.
//   - POST /v1/fetch returns the first payload of a posted index document.
package api
