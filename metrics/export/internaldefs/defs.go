package internaldefs

import (
	"github.com/bullishbrief/briefauth"
)

type CounterDef struct {
	ID   briefauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   briefauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: briefauth.MetricOTPSendSuccess, Name: "briefauth_otp_send_success_total", Help: "OTP sends accepted by the provider."},
	{ID: briefauth.MetricOTPSendFailure, Name: "briefauth_otp_send_failure_total", Help: "OTP sends that settled with an error."},
	{ID: briefauth.MetricOTPVerifySuccess, Name: "briefauth_otp_verify_success_total", Help: "Accepted verification codes."},
	{ID: briefauth.MetricOTPVerifyFailure, Name: "briefauth_otp_verify_failure_total", Help: "Rejected verification codes."},
	{ID: briefauth.MetricRateLimited, Name: "briefauth_rate_limited_total", Help: "Submissions mapped to a throttling message."},
	{ID: briefauth.MetricServiceUnavailable, Name: "briefauth_service_unavailable_total", Help: "Submissions that found the provider unavailable or unconfigured."},
	{ID: briefauth.MetricTransportPanic, Name: "briefauth_transport_panic_total", Help: "Transport calls that panicked."},
	{ID: briefauth.MetricValidationRejected, Name: "briefauth_validation_rejected_total", Help: "Credential submissions stopped by validation."},
	{ID: briefauth.MetricFlowAuthenticated, Name: "briefauth_flow_authenticated_total", Help: "Flows that reached the authenticated state."},
	{ID: briefauth.MetricFlowBack, Name: "briefauth_flow_back_total", Help: "Returns from code entry to credentials."},
	{ID: briefauth.MetricFlowResend, Name: "briefauth_flow_resend_total", Help: "Resend requests."},
}

var HistogramDefs = []HistogramDef{
	{ID: briefauth.MetricSendLatency, Name: "briefauth_otp_send_latency_seconds", Help: "OTP send latency histogram."},
	{ID: briefauth.MetricVerifyLatency, Name: "briefauth_otp_verify_latency_seconds", Help: "OTP verify latency histogram."},
}

// AuditDroppedName is the counter for events lost to dispatcher backpressure.
const (
	AuditDroppedName = "briefauth_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the bucket bounds in seconds, matching the
// engine's 50ms..5s buckets. The last bucket is +Inf.
var HistogramUpperBounds = [7]float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// ApproximateSum estimates the histogram sum from bucket upper bounds; the
// +Inf bucket counts at the last finite bound.
func ApproximateSum(raw [8]uint64) float64 {
	var sum float64
	for i, n := range raw {
		bound := HistogramUpperBounds[len(HistogramUpperBounds)-1]
		if i < len(HistogramUpperBounds) {
			bound = HistogramUpperBounds[i]
		}
		sum += float64(n) * bound
	}
	return sum
}
