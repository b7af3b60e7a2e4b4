package xsource

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/sourcegate/pkg/storage/xhealthstore"
)

// =============================================================================
// 测试辅助
// =============================================================================

// fakeClock 可手动推进的时间源。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore 全部操作返回固定错误。
type failingStore struct {
	err error
}

func (s *failingStore) Get(ctx context.Context, sourceID string) (*xhealthstore.Record, error) {
	return nil, s.err
}

func (s *failingStore) Update(ctx context.Context, sourceID string, fn xhealthstore.UpdateFunc) (*xhealthstore.Record, error) {
	return nil, s.err
}

func (s *failingStore) List(ctx context.Context) ([]*xhealthstore.Record, error) {
	return nil, s.err
}

func (s *failingStore) Close() error { return nil }

func newTestMonitor(t *testing.T, opts ...Option) (Monitor, *fakeClock) {
	t.Helper()

	store, err := xhealthstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := newFakeClock()
	opts = append([]Option{
		WithClock(clock.Now),
		WithLogger(slog.New(slog.DiscardHandler)),
	}, opts...)

	m, err := New(store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, clock
}

// recordAndFlush 上报样本并等待处理完成。
func recordAndFlush(t *testing.T, m Monitor, sourceID string, latency time.Duration, success bool) {
	t.Helper()
	ctx := context.Background()
	m.Record(ctx, sourceID, latency, success)
	require.NoError(t, m.Flush(ctx))
}

const (
	fastLatency = 100 * time.Millisecond
	slowLatency = 5 * time.Second
)

// =============================================================================
// New 测试
// =============================================================================

func TestNew_NilStore(t *testing.T) {
	m, err := New(nil)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestNew_NilOptionIgnored(t *testing.T) {
	m, _ := newTestMonitor(t, nil)
	assert.True(t, m.Enabled())
}

// =============================================================================
// Record / 排除主流程测试
// =============================================================================

func TestMonitor_ThreeSlowSamplesExclude(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	for range 3 {
		recordAndFlush(t, m, "S1", slowLatency, true)
	}

	assert.True(t, m.IsExcluded(ctx, "S1"))

	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, StatusExcluded, snap.Status)
	assert.False(t, snap.Healthy)
	assert.Equal(t, int64(3), snap.SampleCount)
	assert.Equal(t, int64(3), snap.SlowCount)
	assert.Equal(t, 1, snap.BackoffLevel)
	require.NotNil(t, snap.ExcludedUntil)
}

func TestMonitor_ExclusionWindowExpires(t *testing.T) {
	m, clock := newTestMonitor(t)
	ctx := context.Background()

	for range 3 {
		recordAndFlush(t, m, "S1", slowLatency, true)
	}
	require.True(t, m.IsExcluded(ctx, "S1"))

	// 一级窗口 15 分钟，过期后自动放行。
	clock.Advance(16 * time.Minute)
	assert.False(t, m.IsExcluded(ctx, "S1"))
}

func TestMonitor_LazyExpiryClearsWindow(t *testing.T) {
	m, clock := newTestMonitor(t)
	ctx := context.Background()

	for range 3 {
		recordAndFlush(t, m, "S1", slowLatency, true)
	}
	clock.Advance(16 * time.Minute)
	require.False(t, m.IsExcluded(ctx, "S1"))

	// 过期检查顺带清掉了 ExcludedUntil；慢比率仍超阈值，标签降为 SLOW。
	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Nil(t, snap.ExcludedUntil)
	assert.Equal(t, StatusSlow, snap.Status)
}

func TestMonitor_FastSampleInstantRecovery(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	for range 3 {
		recordAndFlush(t, m, "S1", slowLatency, true)
	}
	require.True(t, m.IsExcluded(ctx, "S1"))

	// 窗口未到期，单个快样本立即恢复。
	recordAndFlush(t, m, "S1", fastLatency, true)
	assert.False(t, m.IsExcluded(ctx, "S1"))

	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, snap.Healthy)
	assert.Zero(t, snap.BackoffLevel)
	assert.Nil(t, snap.ExcludedUntil)
}

func TestMonitor_EscalationOnRetrigger(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	// 排除窗口内继续收到慢样本（漏网调用），再凑满三振升到二级。
	for range 6 {
		recordAndFlush(t, m, "S1", slowLatency, true)
	}

	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.BackoffLevel)
	assert.True(t, m.IsExcluded(ctx, "S1"))
}

func TestMonitor_SlowThresholdBoundary(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	// 恰好等于阈值不算慢。
	for range 3 {
		recordAndFlush(t, m, "S1", DefaultSlowThreshold, true)
	}
	assert.False(t, m.IsExcluded(ctx, "S1"))

	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Zero(t, snap.SlowCount)
}

func TestMonitor_FailureLatencyStillCounts(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	// 失败调用的耗时同样参与慢样本统计。
	for range 3 {
		recordAndFlush(t, m, "S1", slowLatency, false)
	}
	assert.True(t, m.IsExcluded(ctx, "S1"))
}

func TestMonitor_SourcesIndependent(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	for range 3 {
		recordAndFlush(t, m, "S1", slowLatency, true)
	}
	recordAndFlush(t, m, "S2", fastLatency, true)

	assert.True(t, m.IsExcluded(ctx, "S1"))
	assert.False(t, m.IsExcluded(ctx, "S2"))
}

func TestMonitor_RecordEmptySourceIDIgnored(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	m.Record(ctx, "", slowLatency, true)
	require.NoError(t, m.Flush(ctx))

	snaps, err := m.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestMonitor_ConcurrentRecordNoLostSamples(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	const n = 50
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			m.Record(ctx, "S1", slowLatency, true)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, m.Flush(ctx))

	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), snap.SampleCount)
	assert.Equal(t, int64(n), snap.SlowCount)
	// 50 个慢样本凑满多轮三振，必然处于排除状态。
	assert.True(t, m.IsExcluded(ctx, "S1"))
}

func TestMonitor_EndToEndScenario(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	// 两个慢样本：未触发排除。
	recordAndFlush(t, m, "S1", 3500*time.Millisecond, true)
	recordAndFlush(t, m, "S1", 3500*time.Millisecond, true)
	assert.False(t, m.IsExcluded(ctx, "S1"))

	// 第三振：一级排除，窗口 15 分钟。
	recordAndFlush(t, m, "S1", 3500*time.Millisecond, true)
	assert.True(t, m.IsExcluded(ctx, "S1"))

	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.BackoffLevel)
	require.NotNil(t, snap.ExcludedUntil)
	assert.True(t, snap.ExcludedUntil.Equal(snap.UpdatedAt.Add(15*time.Minute)))

	// 一个快样本：立即放行。
	recordAndFlush(t, m, "S1", 500*time.Millisecond, true)
	assert.False(t, m.IsExcluded(ctx, "S1"))

	snap, err = m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Zero(t, snap.BackoffLevel)
	assert.Nil(t, snap.ExcludedUntil)
}

// =============================================================================
// 开关测试
// =============================================================================

func TestMonitor_DisabledIsNoOp(t *testing.T) {
	m, _ := newTestMonitor(t, WithEnabled(false))
	ctx := context.Background()

	assert.False(t, m.Enabled())
	for range 3 {
		m.Record(ctx, "S1", slowLatency, true)
	}
	require.NoError(t, m.Flush(ctx))

	// 禁用时不摄入样本，也永不排除。
	assert.False(t, m.IsExcluded(ctx, "S1"))
	snaps, err := m.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestMonitor_DisableHidesExistingExclusion(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	for range 3 {
		recordAndFlush(t, m, "S1", slowLatency, true)
	}
	require.True(t, m.IsExcluded(ctx, "S1"))

	m.SetEnabled(false)
	assert.False(t, m.IsExcluded(ctx, "S1"))

	// 重新启用后排除状态仍在（窗口未过期）。
	m.SetEnabled(true)
	assert.True(t, m.IsExcluded(ctx, "S1"))
}

func TestMonitor_AdminSurfaceWorksWhileDisabled(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	recordAndFlush(t, m, "S1", fastLatency, true)
	m.SetEnabled(false)

	// 管理面不受总开关影响。
	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.SampleCount)

	require.NoError(t, m.Reset(ctx, "S1", "ops"))
	snaps, err := m.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

// =============================================================================
// fail-open 测试
// =============================================================================

func TestMonitor_IsExcludedFailsOpenOnStoreError(t *testing.T) {
	store := &failingStore{err: errors.New("store down")}
	m, err := New(store, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.False(t, m.IsExcluded(context.Background(), "S1"))
}

func TestMonitor_GetPropagatesStoreError(t *testing.T) {
	wantErr := errors.New("store down")
	m, err := New(&failingStore{err: wantErr}, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	_, err = m.Get(context.Background(), "S1")
	assert.ErrorIs(t, err, wantErr)

	err = m.Reset(context.Background(), "S1", "ops")
	assert.ErrorIs(t, err, wantErr)

	_, err = m.ListAll(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

// =============================================================================
// Get 测试
// =============================================================================

func TestMonitor_GetUnknownSourceDefaultHealthy(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	snap, err := m.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, "unknown", snap.SourceID)
	assert.True(t, snap.Healthy)
	assert.Equal(t, StatusHealthy, snap.Status)
	assert.Zero(t, snap.SampleCount)

	// 查询不产生写副作用。
	snaps, err := m.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestMonitor_GetEmptySourceID(t *testing.T) {
	m, _ := newTestMonitor(t)

	_, err := m.Get(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptySourceID)
}

// =============================================================================
// Reset 测试
// =============================================================================

func TestMonitor_ResetClearsExclusion(t *testing.T) {
	m, clock := newTestMonitor(t)
	ctx := context.Background()

	for range 3 {
		recordAndFlush(t, m, "S1", slowLatency, true)
	}
	require.True(t, m.IsExcluded(ctx, "S1"))

	require.NoError(t, m.Reset(ctx, "S1", "alice"))

	assert.False(t, m.IsExcluded(ctx, "S1"))
	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.True(t, snap.Healthy)
	assert.Zero(t, snap.SampleCount)
	assert.Zero(t, snap.BackoffLevel)
	assert.Nil(t, snap.ExcludedUntil)
	assert.Equal(t, "alice", snap.LastResetBy)
	require.NotNil(t, snap.LastResetAt)
	assert.True(t, snap.LastResetAt.Equal(clock.Now()))
}

func TestMonitor_ResetIdempotent(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	require.NoError(t, m.Reset(ctx, "S1", "alice"))
	require.NoError(t, m.Reset(ctx, "S1", "bob"))

	snap, err := m.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "bob", snap.LastResetBy)
	assert.Zero(t, snap.SampleCount)
}

func TestMonitor_ResetEmptySourceID(t *testing.T) {
	m, _ := newTestMonitor(t)

	err := m.Reset(context.Background(), "", "ops")
	assert.ErrorIs(t, err, ErrEmptySourceID)
}

// =============================================================================
// ListAll 测试
// =============================================================================

func TestMonitor_ListAllSortedWithLabels(t *testing.T) {
	m, _ := newTestMonitor(t)
	ctx := context.Background()

	// S3 排除、S1 健康、S2 仅慢（比率超阈值但未触发三振）。
	recordAndFlush(t, m, "S1", fastLatency, true)
	recordAndFlush(t, m, "S2", slowLatency, true)
	recordAndFlush(t, m, "S2", fastLatency, true)
	for range 3 {
		recordAndFlush(t, m, "S3", slowLatency, true)
	}

	snaps, err := m.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	assert.Equal(t, "S1", snaps[0].SourceID)
	assert.Equal(t, StatusHealthy, snaps[0].Status)

	assert.Equal(t, "S2", snaps[1].SourceID)
	assert.Equal(t, StatusSlow, snaps[1].Status)
	assert.True(t, snaps[1].Healthy, "慢但未排除仍参与路由")

	assert.Equal(t, "S3", snaps[2].SourceID)
	assert.Equal(t, StatusExcluded, snaps[2].Status)
}

func TestMonitor_ListAllWithDirectory(t *testing.T) {
	dir := DirectoryFunc(func(ctx context.Context, sourceID string) (string, error) {
		if sourceID == "S1" {
			return "Alpha Rentals", nil
		}
		return "", errors.New("unknown source")
	})
	m, _ := newTestMonitor(t, WithDirectory(dir))
	ctx := context.Background()

	recordAndFlush(t, m, "S1", fastLatency, true)
	recordAndFlush(t, m, "S2", fastLatency, true)

	snaps, err := m.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	assert.Equal(t, "Alpha Rentals", snaps[0].CompanyName)
	// 目录查询失败只影响展示名。
	assert.Empty(t, snaps[1].CompanyName)
}

// =============================================================================
// 生命周期测试
// =============================================================================

func TestMonitor_CloseDrainsQueue(t *testing.T) {
	store, err := xhealthstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := New(store, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	ctx := context.Background()
	for range 10 {
		m.Record(ctx, "S1", fastLatency, true)
	}
	require.NoError(t, m.Close())

	// Close 前入队的样本全部落盘。
	rec, err := store.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.SampleCount)
}

func TestMonitor_CloseIdempotent(t *testing.T) {
	store, err := xhealthstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := New(store)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Close(), ErrClosed)
}

func TestMonitor_RecordAfterCloseIsNoOp(t *testing.T) {
	store, err := xhealthstore.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := New(store)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	ctx := context.Background()
	m.Record(ctx, "S1", fastLatency, true)
	assert.False(t, m.IsExcluded(ctx, "S1"))
	assert.ErrorIs(t, m.Flush(ctx), ErrClosed)
}

func TestMonitor_QueueOverflowDropsOldest(t *testing.T) {
	// 小队列 + 大量快速入队，验证队列满时 Record 不阻塞调用方。
	m, _ := newTestMonitor(t, WithQueueSize(4))
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10_000 {
			m.Record(ctx, "S1", fastLatency, true)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked on full queue")
	}
	require.NoError(t, m.Flush(ctx))
}
