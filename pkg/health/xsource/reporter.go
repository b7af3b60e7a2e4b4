package xsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const defaultReportTimeout = 10 * time.Second

// Reporter 周期性汇总全部 Source 的健康状态：
// 刷新状态指标（排除窗口过期不会产生新采样，没有周期刷新时
// 面板上的 gauge 会停留在最后一次采样的值）并输出汇总日志。
type Reporter struct {
	monitor Monitor
	logger  *slog.Logger
	timeout time.Duration
	meter   metric.MeterProvider
	metrics *instruments
	cron    *cron.Cron
	entry   cron.EntryID
	running atomic.Bool
}

// ReporterOption 定义 Reporter 的配置选项。
type ReporterOption func(*Reporter)

// WithReporterLogger 设置日志输出。nil 会被静默忽略。
func WithReporterLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReportTimeout 设置单次汇总的超时。d <= 0 保留默认值 10s。
func WithReportTimeout(d time.Duration) ReporterOption {
	return func(r *Reporter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithReporterMeterProvider 设置 OTel MeterProvider。nil 会被静默忽略。
func WithReporterMeterProvider(provider metric.MeterProvider) ReporterOption {
	return func(r *Reporter) {
		if provider != nil {
			r.meter = provider
		}
	}
}

// NewReporter 创建周期上报器。
//
// spec 为标准 cron 表达式（分钟级精度），也支持 @every 简写，
// 例如 "@every 1m"。上报失败只记日志，不中断调度。
func NewReporter(m Monitor, spec string, opts ...ReporterOption) (*Reporter, error) {
	if m == nil {
		return nil, ErrNilMonitor
	}

	r := &Reporter{
		monitor: m,
		logger:  slog.Default(),
		timeout: defaultReportTimeout,
		meter:   otel.GetMeterProvider(),
		cron:    cron.New(),
	}
	for _, opt := range opts {
		opt(r)
	}

	metrics, err := newInstruments(r.meter)
	if err != nil {
		return nil, err
	}
	r.metrics = metrics

	entry, err := r.cron.AddFunc(spec, r.runOnce)
	if err != nil {
		return nil, fmt.Errorf("xsource: invalid report schedule %q: %w", spec, err)
	}
	r.entry = entry
	return r, nil
}

// Start 启动调度。重复调用是空操作。
func (r *Reporter) Start() {
	if r.running.CompareAndSwap(false, true) {
		r.cron.Start()
	}
}

// Stop 停止调度并等待进行中的上报完成。
func (r *Reporter) Stop() {
	if r.running.CompareAndSwap(true, false) {
		<-r.cron.Stop().Done()
	}
}

func (r *Reporter) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	snaps, err := r.monitor.ListAll(ctx)
	if err != nil {
		r.logger.Warn("health report failed", slog.Any("error", err))
		return
	}

	var healthy, slow, excluded int
	for _, snap := range snaps {
		r.metrics.setStatus(ctx, snap.SourceID, snap.Healthy)
		switch snap.Status {
		case StatusExcluded:
			excluded++
		case StatusSlow:
			slow++
		default:
			healthy++
		}
	}

	r.logger.Info("source health report",
		slog.Int("total", len(snaps)),
		slog.Int("healthy", healthy),
		slog.Int("slow", slow),
		slog.Int("excluded", excluded),
	)
}
