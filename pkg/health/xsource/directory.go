package xsource

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Directory 提供 Source 公司展示名的只读查询。
// 仅用于 ListAll 的装饰，与决策逻辑无关。
type Directory interface {
	// CompanyName 返回 Source 公司的展示名。
	CompanyName(ctx context.Context, sourceID string) (string, error)
}

// DirectoryFunc 是 Directory 的函数适配器。
type DirectoryFunc func(ctx context.Context, sourceID string) (string, error)

// CompanyName 调用函数本身。
func (f DirectoryFunc) CompanyName(ctx context.Context, sourceID string) (string, error) {
	return f(ctx, sourceID)
}

const (
	defaultDirectoryTTL  = 5 * time.Minute
	defaultDirectorySize = 1024
)

// cachedDirectory 为底层目录套上带过期的 LRU 缓存，
// 并用 singleflight 合并同一 sourceID 的并发回源查询。
type cachedDirectory struct {
	inner Directory
	cache *expirable.LRU[string, string]
	group singleflight.Group
}

// NewCachedDirectory 创建带缓存的目录。
//
// ttl <= 0 时使用默认值 5 分钟，size <= 0 时使用默认值 1024。
// inner 为 nil 时返回 nil（零值安全：Monitor 对 nil Directory 不做装饰）。
func NewCachedDirectory(inner Directory, ttl time.Duration, size int) Directory {
	if inner == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultDirectoryTTL
	}
	if size <= 0 {
		size = defaultDirectorySize
	}

	return &cachedDirectory{
		inner: inner,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (d *cachedDirectory) CompanyName(ctx context.Context, sourceID string) (string, error) {
	if name, ok := d.cache.Get(sourceID); ok {
		return name, nil
	}

	v, err, _ := d.group.Do(sourceID, func() (any, error) {
		// 双检：并发等待者在 leader 回填后直接命中。
		if name, ok := d.cache.Get(sourceID); ok {
			return name, nil
		}
		name, err := d.inner.CompanyName(ctx, sourceID)
		if err != nil {
			return "", err
		}
		d.cache.Add(sourceID, name)
		return name, nil
	})
	if err != nil {
		return "", err
	}
	name, _ := v.(string)
	return name, nil
}

var _ Directory = (*cachedDirectory)(nil)
