// Package api exposes a read-only admin surface for a running pool:
// health, pool status, per-worker state, Prometheus metrics and a
// websocket feed of lifecycle events.
package api
