package xsource

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultInstrumentationName = "github.com/omeyang/sourcegate/xsource"

	metricExclusionTotal = "sourcegate.exclusion.total"
	metricHealthStatus   = "sourcegate.health.status"
	metricSamplesDropped = "sourcegate.samples.dropped.total"
)

// instruments 持有本包的 OTel 指标。
type instruments struct {
	exclusions metric.Int64Counter
	status     metric.Int64Gauge
	dropped    metric.Int64Counter
}

func newInstruments(provider metric.MeterProvider) (*instruments, error) {
	meter := provider.Meter(defaultInstrumentationName)

	exclusions, err := meter.Int64Counter(
		metricExclusionTotal,
		metric.WithDescription("source exclusions triggered"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xsource: create counter failed: %w", err)
	}

	status, err := meter.Int64Gauge(
		metricHealthStatus,
		metric.WithDescription("source health status (1 healthy, 0 unhealthy)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xsource: create gauge failed: %w", err)
	}

	dropped, err := meter.Int64Counter(
		metricSamplesDropped,
		metric.WithDescription("health samples dropped on queue overflow"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("xsource: create counter failed: %w", err)
	}

	return &instruments{
		exclusions: exclusions,
		status:     status,
		dropped:    dropped,
	}, nil
}

// recordExclusion 记录一次排除触发，reason 为策略名。
func (i *instruments) recordExclusion(ctx context.Context, sourceID, reason string) {
	// 指标记录使用不可取消的 context，确保请求取消后仍能正确上报。
	i.exclusions.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("source_id", sourceID),
		attribute.String("reason", reason),
	))
}

// setStatus 上报 Source 的健康状态位。
func (i *instruments) setStatus(ctx context.Context, sourceID string, healthy bool) {
	var v int64
	if healthy {
		v = 1
	}
	i.status.Record(context.WithoutCancel(ctx), v, metric.WithAttributes(
		attribute.String("source_id", sourceID),
	))
}

// addDropped 累计被丢弃的采样数。
func (i *instruments) addDropped(ctx context.Context, n int64) {
	i.dropped.Add(context.WithoutCancel(ctx), n)
}
