// Package server exposes the operational HTTP endpoints of the bridge.
//
// The ops server is separate from any mailbox traffic and serves:
//   - /metrics: Prometheus scrape endpoint of the instrumentation provider
//   - /healthz: liveness, always ok while the process runs
//   - /readyz: readiness, ok while the bridge loop is running
//   - /healthz/detailed: uptime and readiness details
package server
