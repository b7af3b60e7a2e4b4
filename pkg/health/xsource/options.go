package xsource

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultQueueSize = 1024
	defaultOpTimeout = 5 * time.Second
)

type options struct {
	logger        *slog.Logger
	policy        Policy
	enabled       bool
	queueSize     int
	slowThreshold time.Duration
	opTimeout     time.Duration
	clock         func() time.Time
	directory     Directory
	meterProvider metric.MeterProvider
}

// Option 定义 Monitor 的配置选项。
type Option func(*options)

func defaultOptions() *options {
	return &options{
		logger:        slog.Default(),
		policy:        NewStrikePolicy(),
		enabled:       true,
		queueSize:     defaultQueueSize,
		slowThreshold: DefaultSlowThreshold,
		opTimeout:     defaultOpTimeout,
		clock:         time.Now,
		meterProvider: otel.GetMeterProvider(),
	}
}

// WithLogger 设置日志输出。nil 会被静默忽略。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPolicy 设置退避决策策略。
//
// 默认为三振策略 [NewStrikePolicy]；备选慢比率策略见 [NewSlowRatePolicy]。
func WithPolicy(p Policy) Option {
	return func(o *options) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithEnabled 设置健康监控总开关。
//
// 关闭时 Record 为空操作、IsExcluded 恒为 false（默认安全：
// 不会因监控关闭而排除任何 Source）；管理面 Get/Reset/ListAll 不受影响。
// 运行期可通过 [Monitor.SetEnabled] 动态调整。
func WithEnabled(enabled bool) Option {
	return func(o *options) {
		o.enabled = enabled
	}
}

// WithQueueSize 设置采样队列容量。
// 队列满时丢弃最旧的样本并累计丢弃指标。n <= 0 保留默认值 1024。
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithSlowThreshold 设置慢样本判定阈值。d <= 0 保留默认值 3000ms。
func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.slowThreshold = d
		}
	}
}

// WithOpTimeout 设置后台写入存储的单次操作超时。d <= 0 保留默认值 5s。
func WithOpTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.opTimeout = d
		}
	}
}

// WithClock 设置时间源，主要用于测试。nil 会被静默忽略。
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithDirectory 设置公司名目录，用于 ListAll 的展示名装饰。
// 未设置时 CompanyName 留空，不影响决策逻辑。
func WithDirectory(d Directory) Option {
	return func(o *options) {
		o.directory = d
	}
}

// WithMeterProvider 设置 OTel MeterProvider。nil 会被静默忽略。
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		if provider != nil {
			o.meterProvider = provider
		}
	}
}
