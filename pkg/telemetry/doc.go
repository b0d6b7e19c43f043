// Package telemetry provides structured logging, metrics, tracing and event
// publishing for the Quarry engine.
//
// # Components
//
//   - Logger: zerolog-backed structured logging with run/rule/target field
//     helpers and context embedding
//   - Tracer: OpenTelemetry tracing with spans for goals, rules and
//     sandboxed processes (otlp, stdout or no exporter)
//   - Metrics: Prometheus metrics for rule executions, memoization hit
//     rates, request coalescing, sandbox processes and goal outcomes
//   - EventPublisher: in-process lifecycle events with subscriber fan-out
//
// The Telemetry bundle ties the four together and travels through
// context.Context so that any component can pick up the run's logger and
// tracer without plumbing. Every recording method is safe on a disabled or
// nil receiver, so library code never guards telemetry calls.
package telemetry
