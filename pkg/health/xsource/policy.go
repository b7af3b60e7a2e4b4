package xsource

import (
	"time"

	"github.com/omeyang/sourcegate/pkg/storage/xhealthstore"
)

// Transition 表示一次采样引起的状态迁移。
type Transition int

const (
	// TransitionNone 表示状态无迁移。
	TransitionNone Transition = iota
	// TransitionExcluded 表示本次采样触发（或升级）了排除。
	TransitionExcluded
	// TransitionRecovered 表示本次采样解除了排除。
	TransitionRecovered
)

// String 返回 Transition 的可读字符串表示，用于日志输出。
func (t Transition) String() string {
	switch t {
	case TransitionExcluded:
		return "excluded"
	case TransitionRecovered:
		return "recovered"
	default:
		return "none"
	}
}

// Policy 退避决策策略接口。
//
// Apply 在 Monitor 已更新累积计数（SampleCount/SlowCount/SlowRate/LastStrikeAt）
// 之后被调用，负责维护策略自有状态（StrikeCount/BackoffLevel/ExcludedUntil）
// 并返回状态迁移结果。Healthy 是策略的健康谓词，供快照与状态上报使用。
//
// 实现必须是无内部状态的纯决策逻辑：同一记录输入产生同一输出，
// 便于在不同存储后端间复用与单测。
type Policy interface {
	// Name 返回策略名称，用于日志与指标的 reason 标签。
	Name() string

	// Apply 根据本次采样（slow 表示慢样本）推进记录的策略状态。
	Apply(rec *xhealthstore.Record, slow bool, now time.Time) Transition

	// Healthy 判断记录在 now 时刻是否健康。
	Healthy(rec *xhealthstore.Record, now time.Time) bool
}

// 策略常量。
const (
	// DefaultSlowThreshold 慢样本判定阈值。
	DefaultSlowThreshold = 3000 * time.Millisecond

	// StrikesForBackoff 触发排除所需的连续慢样本数（三振策略）。
	StrikesForBackoff = 3

	// MinSamplesForRate 慢比率策略生效所需的最小采样数。
	MinSamplesForRate = 100

	// SlowRateThreshold 慢比率策略的触发阈值。
	SlowRateThreshold = 0.2

	// MaxBackoffHours 慢比率策略的排除时长上限（小时）。
	MaxBackoffHours = 24
)

// strikeLadder 是三振策略的排除时长阶梯，按 BackoffLevel 1..5 索引。
// 超出阶梯长度的等级钳制在最后一档。
var strikeLadder = [...]time.Duration{
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
	120 * time.Minute,
	240 * time.Minute,
}

// =============================================================================
// 三振策略（默认）
// =============================================================================

// StrikePolicy 三振排除策略。
//
// 连续 3 个慢样本触发排除；排除期间再次触发时等级 +1（钳制在阶梯长度）；
// 任意一个快样本立即完全恢复，不受剩余排除时间限制——恢复由回看窗口
// 决定而非时间决定。
type StrikePolicy struct {
	strikes int
	ladder  []time.Duration
}

// NewStrikePolicy 创建三振排除策略。
//
// 默认配置：3 次连续慢样本触发，阶梯 15m/30m/60m/2h/4h。
func NewStrikePolicy() *StrikePolicy {
	return &StrikePolicy{
		strikes: StrikesForBackoff,
		ladder:  strikeLadder[:],
	}
}

// Name 返回策略名称。
func (p *StrikePolicy) Name() string {
	return "strike"
}

// Apply 推进三振状态。
func (p *StrikePolicy) Apply(rec *xhealthstore.Record, slow bool, now time.Time) Transition {
	if !slow {
		rec.StrikeCount = 0
		if rec.BackoffLevel > 0 || rec.ExcludedUntil != nil {
			rec.BackoffLevel = 0
			rec.ExcludedUntil = nil
			return TransitionRecovered
		}
		return TransitionNone
	}

	rec.StrikeCount++
	if rec.StrikeCount < p.strikes {
		return TransitionNone
	}

	// 第三振：排除期间重触发则升一级，否则从 1 级开始。
	level := 1
	if rec.Excluded(now) {
		level = min(rec.BackoffLevel+1, len(p.ladder))
	}
	until := now.Add(p.ladder[level-1])

	rec.BackoffLevel = level
	rec.ExcludedUntil = &until
	rec.StrikeCount = 0
	return TransitionExcluded
}

// Healthy 判断记录是否健康：未积满三振且不处于排除窗口内。
func (p *StrikePolicy) Healthy(rec *xhealthstore.Record, now time.Time) bool {
	if rec == nil {
		return true
	}
	return rec.StrikeCount < p.strikes && !rec.Excluded(now)
}

// Ladder 返回排除时长阶梯的副本。
func (p *StrikePolicy) Ladder() []time.Duration {
	out := make([]time.Duration, len(p.ladder))
	copy(out, p.ladder)
	return out
}

// =============================================================================
// 慢比率策略（备选）
// =============================================================================

// SlowRatePolicy 慢比率排除策略。
//
// 采样数达到 MinSamplesForRate 且累积慢比率超过 SlowRateThreshold 时触发；
// 每次触发等级 +1，排除时长 min(2^level, 24) 小时；
// 慢比率回落到阈值以内时恢复。
//
// 与三振策略互斥使用，通过 Monitor 的策略选项切换。
type SlowRatePolicy struct {
	minSamples int64
	threshold  float64
	maxHours   int
}

// NewSlowRatePolicy 创建慢比率排除策略。
//
// 默认配置：最小采样数 100，阈值 0.2，时长上限 24 小时。
func NewSlowRatePolicy() *SlowRatePolicy {
	return &SlowRatePolicy{
		minSamples: MinSamplesForRate,
		threshold:  SlowRateThreshold,
		maxHours:   MaxBackoffHours,
	}
}

// Name 返回策略名称。
func (p *SlowRatePolicy) Name() string {
	return "slow_rate"
}

// Apply 推进慢比率状态。
func (p *SlowRatePolicy) Apply(rec *xhealthstore.Record, slow bool, now time.Time) Transition {
	if rec.SampleCount >= p.minSamples && rec.SlowRate > p.threshold {
		// 每次触发等级 +1：排除窗口内的漏网样本也会继续抬高窗口，
		// 时长上限由 maxHours 钳制。
		rec.BackoffLevel++
		hours := 1 << rec.BackoffLevel
		if hours > p.maxHours {
			hours = p.maxHours
		}
		until := now.Add(time.Duration(hours) * time.Hour)
		rec.ExcludedUntil = &until
		return TransitionExcluded
	}

	if rec.SlowRate <= p.threshold && rec.BackoffLevel > 0 {
		rec.BackoffLevel = 0
		rec.ExcludedUntil = nil
		return TransitionRecovered
	}
	return TransitionNone
}

// Healthy 判断记录是否健康：慢比率不超阈值且未被排除。
func (p *SlowRatePolicy) Healthy(rec *xhealthstore.Record, now time.Time) bool {
	if rec == nil {
		return true
	}
	return rec.SlowRate <= p.threshold && !rec.Excluded(now)
}

// 编译期接口检查。
var (
	_ Policy = (*StrikePolicy)(nil)
	_ Policy = (*SlowRatePolicy)(nil)
)
