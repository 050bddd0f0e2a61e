// Package observe provides application-wide observability primitives for
// voxbridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/MrWong99/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Session client ---

	// ActiveConnections tracks live agent connections held by this process.
	ActiveConnections metric.Int64UpDownCounter

	// SettingsSent counts Settings frames. Use with attribute:
	//   attribute.String("upstream", ...)
	SettingsSent metric.Int64Counter

	// QueuedMessages counts user messages held by the readiness gate.
	QueuedMessages metric.Int64Counter

	// DroppedMessages counts queued messages discarded on disconnect.
	DroppedMessages metric.Int64Counter

	// IdleTimeouts counts connections closed by the idle timer.
	IdleTimeouts metric.Int64Counter

	// FunctionCalls counts function-call outcomes. Use with attributes:
	//   attribute.String("upstream", ...), attribute.String("status", ...)
	FunctionCalls metric.Int64Counter

	// FunctionCallDuration tracks request-to-response time of function calls.
	FunctionCallDuration metric.Float64Histogram

	// --- Proxy ---

	// ActiveProxySessions tracks client sessions bridged to upstream B.
	ActiveProxySessions metric.Int64UpDownCounter

	// ProxyFrames counts frames crossing the proxy. Use with attributes:
	//   attribute.String("direction", ...), attribute.String("kind", ...)
	ProxyFrames metric.Int64Counter

	// GatedEvents counts client or upstream events held back by an ordering
	// gate. Use with attribute:
	//   attribute.String("gate", ...)
	GatedEvents metric.Int64Counter

	// --- Shared ---

	// ProtocolErrors counts typed protocol errors. Use with attribute:
	//   attribute.String("kind", ...)
	ProtocolErrors metric.Int64Counter

	// AudioTruncations counts odd-length PCM16 frames that lost a byte.
	AudioTruncations metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Function
// calls may legitimately run until the 60 s upstream window.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("voxbridge.agent.active_connections",
		metric.WithDescription("Number of live agent connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveProxySessions, err = m.Int64UpDownCounter("voxbridge.proxy.active_sessions",
		metric.WithDescription("Number of client sessions bridged by the proxy."),
	); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.SettingsSent, "voxbridge.agent.settings_sent", "Settings frames sent, by upstream."},
		{&met.QueuedMessages, "voxbridge.agent.queued_messages", "User messages queued until readiness."},
		{&met.DroppedMessages, "voxbridge.agent.dropped_messages", "Queued messages dropped on disconnect."},
		{&met.IdleTimeouts, "voxbridge.agent.idle_timeouts", "Connections closed by the idle timer."},
		{&met.FunctionCalls, "voxbridge.function_calls", "Function-call outcomes by upstream and status."},
		{&met.ProxyFrames, "voxbridge.proxy.frames", "Frames crossing the proxy by direction and kind."},
		{&met.GatedEvents, "voxbridge.proxy.gated_events", "Events held back by an ordering gate."},
		{&met.ProtocolErrors, "voxbridge.protocol_errors", "Typed protocol errors by kind."},
		{&met.AudioTruncations, "voxbridge.audio.truncations", "Odd-length PCM16 frames truncated by one byte."},
		{&met.BreakerTransitions, "voxbridge.circuit_breaker.transitions", "Circuit breaker state changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Histograms.
	if met.FunctionCallDuration, err = m.Float64Histogram("voxbridge.function_call.duration",
		metric.WithDescription("Time from function-call request to host response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFunctionCall records one function-call outcome and, for answered
// calls, its latency.
func (m *Metrics) RecordFunctionCall(ctx context.Context, upstream, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("upstream", upstream),
		attribute.String("status", status),
	)
	m.FunctionCalls.Add(ctx, 1, attrs)
	if elapsed > 0 {
		m.FunctionCallDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// RecordProtocolError counts one typed protocol error.
func (m *Metrics) RecordProtocolError(ctx context.Context, kind string) {
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordGated counts one event held by the named gate.
func (m *Metrics) RecordGated(ctx context.Context, gate string) {
	m.GatedEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", gate)))
}

// RecordProxyFrame counts one frame crossing the proxy.
func (m *Metrics) RecordProxyFrame(ctx context.Context, direction, kind string) {
	m.ProxyFrames.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("state", state),
	))
}
