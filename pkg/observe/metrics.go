// Package observe provides the OpenTelemetry metrics and tracing used by
// mediaprobe. Metrics are exported in Prometheus format via the handler built
// by [InitProvider]. Tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"mediaprobe/pkg/media"
)

// meterName is the instrumentation scope name used for all mediaprobe metrics.
const meterName = "mediaprobe"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// ProbeDuration tracks wall time per probe. Attributes: path, ok.
	ProbeDuration metric.Float64Histogram

	// Probes counts resolved probes. Attributes: ok, path, cause, cached.
	Probes metric.Int64Counter

	// MediaLength records the resolved media length in seconds.
	MediaLength metric.Int64Histogram

	// CacheLookups counts result cache lookups. Attribute: result (hit|miss).
	CacheLookups metric.Int64Counter

	// ActiveProbes tracks probes currently in flight.
	ActiveProbes metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

// probeBuckets covers a cached hit (sub-millisecond) up to a slow full decode.
var probeBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// lengthBuckets covers jingles up to long-form recordings, in seconds.
var lengthBuckets = []float64{
	5, 30, 60, 180, 300, 600, 1800, 3600, 7200,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ProbeDuration, err = m.Float64Histogram("mediaprobe.probe.duration",
		metric.WithDescription("Wall time spent resolving a duration probe."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(probeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Probes, err = m.Int64Counter("mediaprobe.probes",
		metric.WithDescription("Resolved probes by outcome, path and cause."),
	); err != nil {
		return nil, err
	}
	if met.MediaLength, err = m.Int64Histogram("mediaprobe.media.length",
		metric.WithDescription("Playback length of successfully probed media."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lengthBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("mediaprobe.cache.lookups",
		metric.WithDescription("Result cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.ActiveProbes, err = m.Int64UpDownCounter("mediaprobe.active_probes",
		metric.WithDescription("Number of probes currently in flight."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("mediaprobe.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider].
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

// RecordProbe records one resolved probe.
func (m *Metrics) RecordProbe(ctx context.Context, res media.Result, elapsed time.Duration, cached bool) {
	path := string(res.Path)
	if path == "" {
		path = "none"
	}
	m.Probes.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("ok", res.OK),
		attribute.String("path", path),
		attribute.String("cause", string(res.Cause)),
		attribute.Bool("cached", cached),
	))
	m.ProbeDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.Bool("ok", res.OK),
		attribute.String("path", path),
	))
	if res.OK {
		m.MediaLength.Record(ctx, int64(res.Seconds))
	}
}

// RecordCacheLookup records a result cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
