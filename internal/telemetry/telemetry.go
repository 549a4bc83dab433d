// Package telemetry records metrics for TiFS's Mount Surface callbacks;
// it does no tracing. It mirrors the teacher's internal/monitor: an
// OTel meter backed by the Prometheus exporter so
// github.com/prometheus/client_golang stays wired as the scrape
// endpoint, with one latency histogram and two counters, each keyed by
// a FUSE operation-name attribute.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder records one latency observation and an optional error
// outcome per Mount Surface operation.
type Recorder struct {
	provider  *sdkmetric.MeterProvider
	latency   metric.Float64Histogram
	opsTotal  metric.Int64Counter
	errsTotal metric.Int64Counter
}

// New constructs a Recorder backed by a fresh Prometheus exporter and
// registers it as the global OTel MeterProvider, mirroring the
// teacher's otelexporters.go wiring of client_golang behind OTel
// rather than driving the Prometheus registry directly.
func New() (*Recorder, error) {
	exporter, err := otelprometheus.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/tifs-fs/tifs/internal/mount")

	latency, err := meter.Float64Histogram(
		"tifs.fuse.op.duration",
		metric.WithDescription("latency of one FUSE callback dispatched to the FS engine"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	opsTotal, err := meter.Int64Counter(
		"tifs.fuse.op.count",
		metric.WithDescription("FUSE callbacks dispatched, by operation"),
	)
	if err != nil {
		return nil, err
	}
	errsTotal, err := meter.Int64Counter(
		"tifs.fuse.op.errors",
		metric.WithDescription("FUSE callbacks that returned a non-zero errno, by operation and errno"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{provider: provider, latency: latency, opsTotal: opsTotal, errsTotal: errsTotal}, nil
}

// Handler exposes the Prometheus scrape endpoint the teacher's
// cmd/legacy_main.go serves alongside the mount.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observe records one completed op. errno is the POSIX errno the op
// returned to the kernel, or 0 on success.
func (r *Recorder) Observe(ctx context.Context, op string, start time.Time, errno int32) {
	elapsed := time.Since(start).Seconds() * 1000
	attrs := metric.WithAttributes(otelOpAttr(op))
	r.latency.Record(ctx, elapsed, attrs)
	r.opsTotal.Add(ctx, 1, attrs)
	if errno != 0 {
		r.errsTotal.Add(ctx, 1, metric.WithAttributes(otelOpAttr(op), otelErrnoAttr(errno)))
	}
}

// Shutdown flushes and releases the meter provider, called once on
// clean unmount.
func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
