package xhealthstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// memoryStore 是 Store 的进程内实现。
// 记录按 sourceID 的 xxhash 值分片，Update 在持有分片锁期间执行闭包，
// 天然满足"同一 Source 的读-改-写串行化"。
type memoryStore struct {
	shards []memoryShard
	mask   uint64
	closed atomic.Bool
}

type memoryShard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemory 创建进程内存储。
func NewMemory(opts ...MemoryOption) (Store, error) {
	options := defaultMemoryOptions()
	for _, opt := range opts {
		opt(options)
	}

	sc := options.ShardCount
	if sc <= 0 || sc > maxShardCount || sc&(sc-1) != 0 {
		return nil, fmt.Errorf("xhealthstore: shard count must be a positive power of 2 (max %d), got %d",
			maxShardCount, sc)
	}

	shards := make([]memoryShard, sc)
	for i := range shards {
		shards[i].records = make(map[string]*Record)
	}

	// sc ∈ [1, maxShardCount] 且为 2 的幂，int→uint64 转换安全。
	return &memoryStore{
		shards: shards,
		mask:   uint64(sc - 1),
	}, nil
}

func (s *memoryStore) getShard(sourceID string) *memoryShard {
	h := xxhash.Sum64String(sourceID)
	return &s.shards[h&s.mask]
}

func (s *memoryStore) Get(ctx context.Context, sourceID string) (*Record, error) {
	if err := s.check(ctx, sourceID); err != nil {
		return nil, err
	}

	shard := s.getShard(sourceID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[sourceID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *memoryStore) Update(ctx context.Context, sourceID string, fn UpdateFunc) (*Record, error) {
	if err := s.check(ctx, sourceID); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilUpdateFunc
	}

	shard := s.getShard(sourceID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	cur, ok := shard.records[sourceID]
	var work *Record
	if ok {
		work = cur.Clone()
	} else {
		work = &Record{SourceID: sourceID}
	}

	if err := fn(work); err != nil {
		return nil, err
	}

	// 闭包不得改写主键，静默纠正以保持 map 一致性。
	work.SourceID = sourceID
	work.Version++
	shard.records[sourceID] = work

	return work.Clone(), nil
}

func (s *memoryStore) List(ctx context.Context) ([]*Record, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var out []*Record
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for _, rec := range shard.records {
			out = append(out, rec.Clone())
		}
		shard.mu.Unlock()
	}
	return out, nil
}

func (s *memoryStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return nil
}

func (s *memoryStore) check(ctx context.Context, sourceID string) error {
	if ctx == nil {
		return ErrNilContext
	}
	if sourceID == "" {
		return ErrEmptySourceID
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// 编译期接口检查。
var _ Store = (*memoryStore)(nil)
