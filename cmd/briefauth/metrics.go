package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/bullishbrief/briefauth"
	otelexport "github.com/bullishbrief/briefauth/metrics/export/otel"
	promexport "github.com/bullishbrief/briefauth/metrics/export/prometheus"
)

const (
	metricsPrometheus = "prometheus"
	metricsOTel       = "otel"
)

// printMetrics writes the engine metrics to w in format.
func printMetrics(ctx context.Context, w io.Writer, engine *briefauth.Engine, format string) error {
	switch format {
	case "":
		return nil
	case metricsPrometheus:
		_, err := fmt.Fprint(w, promexport.NewPrometheusExporter(engine).Render())
		return err
	case metricsOTel:
		return printOTel(ctx, w, engine)
	default:
		return fmt.Errorf("unknown metrics format %q (want %s or %s)", format, metricsPrometheus, metricsOTel)
	}
}

// printOTel collects one cycle through an in-memory reader and prints one
// "name{attrs} value" line per data point, sorted.
func printOTel(ctx context.Context, w io.Writer, engine *briefauth.Engine) error {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.WithoutCancel(ctx)) }()

	exp, err := otelexport.NewExporter(provider.Meter("briefauth-cli"), engine)
	if err != nil {
		return err
	}
	defer func() { _ = exp.Close() }()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}

	var lines []string
	point := func(name string, attrs attribute.Set, v int64) {
		if attrs.Len() > 0 {
			name += "{" + attrs.Encoded(attribute.DefaultEncoder()) + "}"
		}
		lines = append(lines, fmt.Sprintf("%s %d", name, v))
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					point(m.Name, dp.Attributes, dp.Value)
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					point(m.Name, dp.Attributes, dp.Value)
				}
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
