// Package prometheus exposes engine counters and latency histograms through
// client_golang.
//
// [PrometheusExporter] is a prometheus.Collector that reads
// [briefauth.Engine.MetricsSnapshot] on every scrape. Counter names are
// briefauth_*_total; histograms are briefauth_otp_{send,verify}_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
