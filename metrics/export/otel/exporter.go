package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bullishbrief/briefauth"
	"github.com/bullishbrief/briefauth/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Instrument names.
const (
	SubmissionsName = "briefauth.otp.submissions"
	RejectionsName  = "briefauth.submission.rejections"
	TransitionsName = "briefauth.flow.transitions"
	LatencyName     = "briefauth.otp.latency.bucket"
	LatencyCount    = "briefauth.otp.latency.count"
	AuditDropped    = "briefauth.audit.dropped"
)

type metricsSource interface {
	MetricsSnapshot() briefauth.MetricsSnapshot
	AuditDropped() uint64
}

// series binds one engine counter to the attributes it is observed with.
type series struct {
	id    briefauth.MetricID
	attrs attribute.Set
}

var submissionSeries = []series{
	{briefauth.MetricOTPSendSuccess, opOutcome("send", "success")},
	{briefauth.MetricOTPSendFailure, opOutcome("send", "failure")},
	{briefauth.MetricOTPVerifySuccess, opOutcome("verify", "success")},
	{briefauth.MetricOTPVerifyFailure, opOutcome("verify", "failure")},
}

var rejectionSeries = []series{
	{briefauth.MetricRateLimited, reason("rate_limited")},
	{briefauth.MetricServiceUnavailable, reason("service_unavailable")},
	{briefauth.MetricTransportPanic, reason("transport_panic")},
	{briefauth.MetricValidationRejected, reason("validation")},
}

var transitionSeries = []series{
	{briefauth.MetricFlowAuthenticated, transition("authenticated")},
	{briefauth.MetricFlowBack, transition("back")},
	{briefauth.MetricFlowResend, transition("resend")},
}

var latencyOperations = []struct {
	id        briefauth.MetricID
	operation string
}{
	{briefauth.MetricSendLatency, "send"},
	{briefauth.MetricVerifyLatency, "verify"},
}

func opOutcome(op, outcome string) attribute.Set {
	return attribute.NewSet(attribute.String("operation", op), attribute.String("outcome", outcome))
}

func reason(r string) attribute.Set {
	return attribute.NewSet(attribute.String("reason", r))
}

func transition(t string) attribute.Set {
	return attribute.NewSet(attribute.String("transition", t))
}

// bucketLabels returns the le attribute of each cumulative bucket.
func bucketLabels() [8]string {
	var out [8]string
	for i, bound := range internaldefs.HistogramUpperBounds {
		out[i] = strconv.FormatFloat(bound, 'g', -1, 64)
	}
	out[len(out)-1] = "+Inf"
	return out
}

// Exporter observes an engine snapshot on every collection cycle.
type Exporter struct {
	source       metricsSource
	registration metric.Registration

	submissions  metric.Int64ObservableCounter
	rejections   metric.Int64ObservableCounter
	transitions  metric.Int64ObservableCounter
	latency      metric.Int64ObservableGauge
	latencyCount metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter

	// latencyAttrs[op][bucket]
	latencyAttrs [][8]attribute.Set
	countAttrs   []attribute.Set
}

func NewExporter(meter metric.Meter, engine *briefauth.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	var err error
	if e.submissions, err = meter.Int64ObservableCounter(SubmissionsName,
		metric.WithDescription("OTP sends and verifies by outcome."),
		metric.WithUnit("{submission}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", SubmissionsName, err)
	}
	if e.rejections, err = meter.Int64ObservableCounter(RejectionsName,
		metric.WithDescription("Submissions stopped before or by the provider, by reason."),
		metric.WithUnit("{submission}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", RejectionsName, err)
	}
	if e.transitions, err = meter.Int64ObservableCounter(TransitionsName,
		metric.WithDescription("Flow transitions by kind."),
		metric.WithUnit("{transition}")); err != nil {
		return nil, fmt.Errorf("create %s: %w", TransitionsName, err)
	}
	if e.latency, err = meter.Int64ObservableGauge(LatencyName,
		metric.WithDescription("Cumulative OTP latency bucket counts; le is in seconds.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", LatencyName, err)
	}
	if e.latencyCount, err = meter.Int64ObservableGauge(LatencyCount,
		metric.WithDescription("OTP latency sample count.")); err != nil {
		return nil, fmt.Errorf("create %s: %w", LatencyCount, err)
	}
	if e.auditDropped, err = meter.Int64ObservableCounter(AuditDropped,
		metric.WithDescription(internaldefs.AuditDroppedHelp)); err != nil {
		return nil, fmt.Errorf("create %s: %w", AuditDropped, err)
	}

	labels := bucketLabels()
	for _, op := range latencyOperations {
		var sets [8]attribute.Set
		for i, le := range labels {
			sets[i] = attribute.NewSet(attribute.String("operation", op.operation), attribute.String("le", le))
		}
		e.latencyAttrs = append(e.latencyAttrs, sets)
		e.countAttrs = append(e.countAttrs, attribute.NewSet(attribute.String("operation", op.operation)))
	}

	e.registration, err = meter.RegisterCallback(e.observe,
		e.submissions, e.rejections, e.transitions, e.latency, e.latencyCount, e.auditDropped)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	observeSeries(o, e.submissions, submissionSeries, snapshot)
	observeSeries(o, e.rejections, rejectionSeries, snapshot)
	observeSeries(o, e.transitions, transitionSeries, snapshot)

	for i, op := range latencyOperations {
		raw, ok := snapshot.Histograms[op.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for b, n := range cumulative {
			o.ObserveInt64(e.latency, int64(n), metric.WithAttributeSet(e.latencyAttrs[i][b]))
		}
		o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]), metric.WithAttributeSet(e.countAttrs[i]))
	}

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

func observeSeries(o metric.Observer, ins metric.Int64ObservableCounter, all []series, snapshot briefauth.MetricsSnapshot) {
	for _, s := range all {
		o.ObserveInt64(ins, int64(snapshot.Counters[s.id]), metric.WithAttributeSet(s.attrs))
	}
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
