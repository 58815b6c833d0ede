// Package httpserver exposes the oracle bridge's key registry and request
// service over HTTP. It provides the public API router, liveness and
// readiness endpoints with drain support for rolling restarts, and graceful
// shutdown of both the API and the metrics listener.
package httpserver
