// internal/daemon/builder/metrics.go
package builder

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/altuslabsxyz/binserve/builder"

// Metrics holds the instruments recorded by the build service. A nil
// *Metrics records nothing.
type Metrics struct {
	lookups       metric.Int64Counter
	waits         metric.Int64Counter
	builds        metric.Int64Counter
	buildDuration metric.Float64Histogram
	evictions     metric.Int64Counter
	inflight      metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on provider, or on the global
// provider when provider is nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	m := &Metrics{}
	var err error

	if m.lookups, err = meter.Int64Counter("binserve.cache.lookups",
		metric.WithDescription("artifact lookups by result (hit, miss)"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create lookups counter: %w", err)
	}
	if m.waits, err = meter.Int64Counter("binserve.build.waits",
		metric.WithDescription("requests that waited on another request's build"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create waits counter: %w", err)
	}
	if m.builds, err = meter.Int64Counter("binserve.builds",
		metric.WithDescription("finished build attempts by outcome"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create builds counter: %w", err)
	}
	if m.buildDuration, err = meter.Float64Histogram("binserve.build.duration",
		metric.WithDescription("build attempt duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create build duration histogram: %w", err)
	}
	if m.evictions, err = meter.Int64Counter("binserve.cache.evictions",
		metric.WithDescription("artifacts evicted after their idle timeout"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create evictions counter: %w", err)
	}
	if m.inflight, err = meter.Int64UpDownCounter("binserve.build.inflight",
		metric.WithDescription("builds currently running"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("create inflight counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) lookup(target string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("result", result),
	))
}

func (m *Metrics) waited(target string) {
	if m == nil {
		return
	}
	m.waits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("target", target)))
}

func (m *Metrics) buildStarted() {
	if m == nil {
		return
	}
	m.inflight.Add(context.Background(), 1)
}

func (m *Metrics) buildFinished(target string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	attrs := metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("outcome", outcome),
	)
	ctx := context.Background()
	m.inflight.Add(ctx, -1)
	m.builds.Add(ctx, 1, attrs)
	m.buildDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) evicted(target string) {
	if m == nil {
		return
	}
	m.evictions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("target", target)))
}
