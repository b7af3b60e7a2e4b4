package xhealthstore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// cachedStore 是带 ristretto 读缓存的 Store 装饰器。
// Get 结果缓存一个短 TTL，降低排除检查在可用性扇出下的读放大；
// Update 写穿并即时刷新缓存条目。排除状态只是路由建议，
// 其他进程的并发写入最多造成一个 TTL 的陈旧，可接受。
type cachedStore struct {
	inner   Store
	cache   *ristretto.Cache[string, *Record]
	options *CacheOptions
}

// NewCached 为已有存储套上读缓存。
// inner 的生命周期随返回的 Store 管理，Close 时一并关闭。
func NewCached(inner Store, opts ...CacheOption) (Store, error) {
	if inner == nil {
		return nil, ErrNilClient
	}

	options := defaultCacheOptions()
	for _, opt := range opts {
		opt(options)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *Record]{
		NumCounters: options.MaxEntries * 10,
		MaxCost:     options.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("xhealthstore: create cache: %w", err)
	}

	return &cachedStore{
		inner:   inner,
		cache:   cache,
		options: options,
	}, nil
}

func (s *cachedStore) Get(ctx context.Context, sourceID string) (*Record, error) {
	if rec, ok := s.cache.Get(sourceID); ok {
		return rec.Clone(), nil
	}

	rec, err := s.inner.Get(ctx, sourceID)
	if err != nil {
		// ErrNotFound 不缓存：新 Source 的首条记录应立即可见。
		return nil, err
	}

	s.cache.SetWithTTL(sourceID, rec.Clone(), 1, s.options.TTL)
	return rec, nil
}

func (s *cachedStore) Update(ctx context.Context, sourceID string, fn UpdateFunc) (*Record, error) {
	rec, err := s.inner.Update(ctx, sourceID, fn)
	if err != nil {
		return nil, err
	}

	// ristretto 的写入是异步缓冲的，Wait 保证写穿后立即读到新值。
	s.cache.SetWithTTL(sourceID, rec.Clone(), 1, s.options.TTL)
	s.cache.Wait()
	return rec, nil
}

func (s *cachedStore) List(ctx context.Context) ([]*Record, error) {
	return s.inner.List(ctx)
}

func (s *cachedStore) Close() error {
	s.cache.Close()
	return s.inner.Close()
}

var _ Store = (*cachedStore)(nil)
