// Package observability provides the shared operational surface of the
// bazaar services: structured JSON logging (slog), Prometheus metrics,
// OpenTelemetry tracing/metrics export, health probes, panic recovery,
// and graceful shutdown coordination.
//
// All services construct a Logger and a Metrics registry at startup and
// thread them through their components; request-scoped loggers are
// derived via FromContext so request IDs and principal IDs appear on
// every line without handlers doing anything special.
package observability
