package xhealthstore

import "time"

// =============================================================================
// Memory 配置选项
// =============================================================================

const (
	defaultShardCount = 32
	maxShardCount     = 1 << 16
)

// MemoryOptions 定义内存存储的配置选项。
type MemoryOptions struct {
	// ShardCount 分片数量，必须为 2 的幂。
	// 更多分片减少锁争用，默认 32。
	ShardCount int
}

// MemoryOption 定义配置内存存储的函数类型。
type MemoryOption func(*MemoryOptions)

func defaultMemoryOptions() *MemoryOptions {
	return &MemoryOptions{
		ShardCount: defaultShardCount,
	}
}

// WithShardCount 设置分片数量。
// n 必须为正整数且为 2 的幂，上限 65536，否则 NewMemory 返回错误。
func WithShardCount(n int) MemoryOption {
	return func(o *MemoryOptions) {
		o.ShardCount = n
	}
}

// =============================================================================
// Redis 配置选项
// =============================================================================

const (
	defaultKeyPrefix     = "sourcegate:health:"
	defaultCASAttempts   = 8
	defaultCASRetryDelay = 5 * time.Millisecond
)

// RedisOptions 定义 Redis 存储的配置选项。
type RedisOptions struct {
	// KeyPrefix 记录 key 的前缀，默认 "sourcegate:health:"。
	KeyPrefix string

	// CASAttempts 版本冲突时的最大尝试次数（含首次），默认 8。
	CASAttempts int

	// CASRetryDelay 冲突重试的基础间隔，默认 5ms（指数退避）。
	CASRetryDelay time.Duration
}

// RedisOption 定义配置 Redis 存储的函数类型。
type RedisOption func(*RedisOptions)

func defaultRedisOptions() *RedisOptions {
	return &RedisOptions{
		KeyPrefix:     defaultKeyPrefix,
		CASAttempts:   defaultCASAttempts,
		CASRetryDelay: defaultCASRetryDelay,
	}
}

// WithKeyPrefix 设置记录 key 前缀。
// 空字符串会被忽略，保留默认值。
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *RedisOptions) {
		if prefix != "" {
			o.KeyPrefix = prefix
		}
	}
}

// WithCASRetry 设置冲突重试策略。
// attempts <= 0 或 delay <= 0 的部分保留默认值。
func WithCASRetry(attempts int, delay time.Duration) RedisOption {
	return func(o *RedisOptions) {
		if attempts > 0 {
			o.CASAttempts = attempts
		}
		if delay > 0 {
			o.CASRetryDelay = delay
		}
	}
}

// =============================================================================
// Mongo 配置选项
// =============================================================================

const (
	defaultMongoDatabase   = "sourcegate"
	defaultMongoCollection = "source_health"
)

// MongoOptions 定义 Mongo 存储的配置选项。
type MongoOptions struct {
	// Database 数据库名，默认 "sourcegate"。
	Database string

	// Collection 集合名，默认 "source_health"。
	Collection string

	// CASAttempts 版本冲突时的最大尝试次数（含首次），默认 8。
	CASAttempts int

	// CASRetryDelay 冲突重试的基础间隔，默认 5ms（指数退避）。
	CASRetryDelay time.Duration
}

// MongoOption 定义配置 Mongo 存储的函数类型。
type MongoOption func(*MongoOptions)

func defaultMongoOptions() *MongoOptions {
	return &MongoOptions{
		Database:      defaultMongoDatabase,
		Collection:    defaultMongoCollection,
		CASAttempts:   defaultCASAttempts,
		CASRetryDelay: defaultCASRetryDelay,
	}
}

// WithDatabase 设置数据库名。空字符串保留默认值。
func WithDatabase(name string) MongoOption {
	return func(o *MongoOptions) {
		if name != "" {
			o.Database = name
		}
	}
}

// WithCollection 设置集合名。空字符串保留默认值。
func WithCollection(name string) MongoOption {
	return func(o *MongoOptions) {
		if name != "" {
			o.Collection = name
		}
	}
}

// WithMongoCASRetry 设置冲突重试策略。
// attempts <= 0 或 delay <= 0 的部分保留默认值。
func WithMongoCASRetry(attempts int, delay time.Duration) MongoOption {
	return func(o *MongoOptions) {
		if attempts > 0 {
			o.CASAttempts = attempts
		}
		if delay > 0 {
			o.CASRetryDelay = delay
		}
	}
}

// =============================================================================
// Cached 配置选项
// =============================================================================

// CacheOptions 定义读缓存装饰器的配置选项。
type CacheOptions struct {
	// TTL 缓存条目的存活时间，默认 1 秒。
	// 排除状态是建议性的，短暂陈旧可接受。
	TTL time.Duration

	// MaxEntries 缓存的最大条目数估计值，默认 4096。
	MaxEntries int64
}

// CacheOption 定义配置读缓存的函数类型。
type CacheOption func(*CacheOptions)

func defaultCacheOptions() *CacheOptions {
	return &CacheOptions{
		TTL:        time.Second,
		MaxEntries: 4096,
	}
}

// WithCacheTTL 设置缓存条目存活时间。d <= 0 保留默认值。
func WithCacheTTL(d time.Duration) CacheOption {
	return func(o *CacheOptions) {
		if d > 0 {
			o.TTL = d
		}
	}
}

// WithCacheMaxEntries 设置缓存最大条目数。n <= 0 保留默认值。
func WithCacheMaxEntries(n int64) CacheOption {
	return func(o *CacheOptions) {
		if n > 0 {
			o.MaxEntries = n
		}
	}
}
