// Package otel publishes engine counters and latency histograms as
// OpenTelemetry observable instruments.
//
// Related counters share one instrument and differ by attribute:
// submissions by operation and outcome, rejections by reason, flow
// transitions by kind. Latency buckets are cumulative gauges with an le
// attribute. A single callback reads [briefauth.Engine.MetricsSnapshot] on
// each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
