package xsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/omeyang/sourcegate/pkg/storage/xhealthstore"
)

// Monitor 是 Source 健康监控与自适应排除的统一入口。
//
// Record 是旁路通道：不阻塞调用方、不向调用方抛错，样本经有界队列
// 由后台 worker 异步落盘。IsExcluded 是路由前的同步检查，任何存储
// 故障都按"未排除"处理（fail-open）——健康存储的故障不能演变成
// 全量路由故障。Get/Reset/ListAll 是管理面，错误正常透传。
type Monitor interface {
	// Record 摄入一次上游调用的观测样本。
	// 永不阻塞、永不向调用方返回错误；监控关闭或禁用时为空操作。
	Record(ctx context.Context, sourceID string, latency time.Duration, success bool)

	// IsExcluded 判断 Source 当前是否被排除出路由。
	// 监控禁用时恒为 false；记录缺失、存储故障均按未排除处理。
	// 过期的排除窗口在读取时惰性清理。
	IsExcluded(ctx context.Context, sourceID string) bool

	// Get 返回 Source 的健康快照。
	// 从未出现过的 Source 返回"零采样、健康"的默认快照，不产生写副作用。
	Get(ctx context.Context, sourceID string) (Snapshot, error)

	// Reset 将 Source 的健康记录重置为基线零状态并记录审计信息。
	// 幂等；Source 不存在时创建基线记录。
	// 这是显式运维操作，错误向调用方透传。
	Reset(ctx context.Context, sourceID, resetBy string) error

	// ListAll 返回全部 Source 的健康快照（按 SourceID 排序），
	// 配置了 Directory 时附带公司展示名。
	ListAll(ctx context.Context) ([]Snapshot, error)

	// Flush 阻塞直到调用前已入队的样本全部处理完成。
	// 用于优雅下线与测试；队列溢出时屏障可能随最旧样本一起被丢弃并提前返回。
	Flush(ctx context.Context) error

	// Enabled 返回健康监控总开关状态。
	Enabled() bool

	// SetEnabled 动态调整总开关，供配置热更新使用。
	SetEnabled(enabled bool)

	// Close 停止后台 worker，处理完队列中剩余样本后返回。
	Close() error
}

// sample 是一次观测样本。ack 非空时表示 Flush 屏障，不参与统计。
type sample struct {
	sourceID string
	latency  time.Duration
	success  bool
	at       time.Time
	ack      chan struct{}
}

type monitor struct {
	store   xhealthstore.Store
	opts    *options
	metrics *instruments

	enabled atomic.Bool
	closed  atomic.Bool

	ch   chan sample
	done chan struct{}
	wg   sync.WaitGroup
}

// New 创建 Monitor 并启动后台采样 worker。
//
// store 的生命周期由调用方管理，Close 不会关闭传入的 store。
func New(store xhealthstore.Store, opts ...Option) (Monitor, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	options := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(options)
	}

	metrics, err := newInstruments(options.meterProvider)
	if err != nil {
		return nil, err
	}

	m := &monitor{
		store:   store,
		opts:    options,
		metrics: metrics,
		ch:      make(chan sample, options.queueSize),
		done:    make(chan struct{}),
	}
	m.enabled.Store(options.enabled)

	m.wg.Add(1)
	go m.worker()

	return m, nil
}

func (m *monitor) Record(ctx context.Context, sourceID string, latency time.Duration, success bool) {
	if m.closed.Load() || !m.enabled.Load() {
		return
	}
	if sourceID == "" {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s := sample{
		sourceID: sourceID,
		latency:  latency,
		success:  success,
		at:       m.opts.clock(),
	}

	select {
	case m.ch <- s:
		return
	default:
	}

	// 队列满：丢弃最旧样本为新样本腾位（丢新样本会让突发拥塞期间
	// 的恢复信号永远到不了 worker）。
	select {
	case old := <-m.ch:
		if old.ack != nil {
			close(old.ack)
		} else {
			m.metrics.addDropped(ctx, 1)
		}
	default:
	}
	select {
	case m.ch <- s:
	default:
		// 与消费者竞争失败，放弃本条样本。
		m.metrics.addDropped(ctx, 1)
	}
}

func (m *monitor) IsExcluded(ctx context.Context, sourceID string) bool {
	if m.closed.Load() || !m.enabled.Load() || sourceID == "" {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rec, err := m.store.Get(ctx, sourceID)
	if errors.Is(err, xhealthstore.ErrNotFound) {
		return false
	}
	if err != nil {
		// fail-open：健康存储的瞬时故障不应饿死 Source 的流量。
		m.opts.logger.Warn("exclusion check failed, failing open",
			slog.String("source_id", sourceID),
			slog.Any("error", err),
		)
		return false
	}

	if rec.ExcludedUntil == nil {
		return false
	}

	now := m.opts.clock()
	if rec.ExcludedUntil.After(now) {
		return true
	}

	// 窗口已过期：惰性清理，失败不影响返回值。
	if _, err := m.store.Update(ctx, sourceID, func(r *xhealthstore.Record) error {
		if r.ExcludedUntil != nil && !r.ExcludedUntil.After(now) {
			r.ExcludedUntil = nil
			r.UpdatedAt = now
		}
		return nil
	}); err != nil {
		m.opts.logger.Debug("lazy exclusion cleanup failed",
			slog.String("source_id", sourceID),
			slog.Any("error", err),
		)
	}
	return false
}

func (m *monitor) Get(ctx context.Context, sourceID string) (Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if sourceID == "" {
		return Snapshot{}, ErrEmptySourceID
	}

	rec, err := m.store.Get(ctx, sourceID)
	if errors.Is(err, xhealthstore.ErrNotFound) {
		return snapshotOf(sourceID, nil, m.opts.policy, m.opts.clock()), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("xsource: get %s: %w", sourceID, err)
	}
	return snapshotOf(sourceID, rec, m.opts.policy, m.opts.clock()), nil
}

func (m *monitor) Reset(ctx context.Context, sourceID, resetBy string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if sourceID == "" {
		return ErrEmptySourceID
	}

	resetID := uuid.NewString()
	now := m.opts.clock()

	rec, err := m.store.Update(ctx, sourceID, func(r *xhealthstore.Record) error {
		*r = xhealthstore.Record{
			SourceID:    sourceID,
			LastResetBy: resetBy,
			LastResetAt: &now,
			UpdatedAt:   now,
			Version:     r.Version,
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("xsource: reset %s: %w", sourceID, err)
	}

	m.opts.logger.Info("source health reset",
		slog.String("source_id", sourceID),
		slog.String("reset_by", resetBy),
		slog.String("reset_id", resetID),
	)
	m.metrics.setStatus(ctx, sourceID, m.opts.policy.Healthy(rec, now))
	return nil
}

func (m *monitor) ListAll(ctx context.Context) ([]Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	recs, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("xsource: list: %w", err)
	}

	now := m.opts.clock()
	out := make([]Snapshot, 0, len(recs))
	for _, rec := range recs {
		snap := snapshotOf(rec.SourceID, rec, m.opts.policy, now)
		if m.opts.directory != nil {
			name, err := m.opts.directory.CompanyName(ctx, rec.SourceID)
			if err != nil {
				// 展示名只是装饰，查不到不影响列表。
				m.opts.logger.Debug("company name lookup failed",
					slog.String("source_id", rec.SourceID),
					slog.Any("error", err),
				)
			} else {
				snap.CompanyName = name
			}
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (m *monitor) Flush(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ack := make(chan struct{})
	select {
	case m.ch <- sample{ack: ack}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *monitor) Enabled() bool {
	return m.enabled.Load()
}

func (m *monitor) SetEnabled(enabled bool) {
	if m.enabled.Swap(enabled) != enabled {
		m.opts.logger.Info("health monitoring toggled", slog.Bool("enabled", enabled))
	}
}

func (m *monitor) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(m.done)
	m.wg.Wait()
	return nil
}

// worker 是单消费者循环：同一进程内的读-改-写天然串行，
// 跨进程的并发写由存储后端的 CAS 保证。
func (m *monitor) worker() {
	defer m.wg.Done()
	for {
		select {
		case s := <-m.ch:
			m.handle(s)
		case <-m.done:
			// 关闭时清空剩余样本再退出。
			for {
				select {
				case s := <-m.ch:
					m.handle(s)
				default:
					return
				}
			}
		}
	}
}

func (m *monitor) handle(s sample) {
	if s.ack != nil {
		close(s.ack)
		return
	}
	m.process(s)
}

func (m *monitor) process(s sample) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.opTimeout)
	defer cancel()

	slow := s.latency > m.opts.slowThreshold

	// CAS 冲突重试会重跑闭包，transition 以最后一次成功写入为准。
	var transition Transition
	rec, err := m.store.Update(ctx, s.sourceID, func(r *xhealthstore.Record) error {
		r.SampleCount++
		if slow {
			r.SlowCount++
			at := s.at
			r.LastStrikeAt = &at
		}
		r.SlowRate = float64(r.SlowCount) / float64(r.SampleCount)
		transition = m.opts.policy.Apply(r, slow, s.at)
		r.UpdatedAt = s.at
		return nil
	})
	if err != nil {
		// 旁路通道的失败只损失一个样本，不影响一致性。
		m.opts.logger.Warn("health sample lost on store error",
			slog.String("source_id", s.sourceID),
			slog.Bool("slow", slow),
			slog.Any("error", err),
		)
		return
	}

	switch transition {
	case TransitionExcluded:
		m.metrics.recordExclusion(ctx, s.sourceID, m.opts.policy.Name())
		m.opts.logger.Info("source backoff applied",
			slog.String("source_id", s.sourceID),
			slog.String("policy", m.opts.policy.Name()),
			slog.Int("backoff_level", rec.BackoffLevel),
			slog.Time("excluded_until", derefTime(rec.ExcludedUntil)),
			slog.Duration("latency", s.latency),
			slog.Bool("success", s.success),
		)
	case TransitionRecovered:
		m.opts.logger.Info("source backoff reset",
			slog.String("source_id", s.sourceID),
			slog.Duration("latency", s.latency),
		)
	}

	m.metrics.setStatus(ctx, s.sourceID, m.opts.policy.Healthy(rec, s.at))
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// 编译期接口检查。
var _ Monitor = (*monitor)(nil)
