package xhealthstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	retry "github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
)

// casScript 是版本比较写入的 Lua 脚本。
// ARGV[1] 为期望的当前版本（key 不存在时为 0），ARGV[2] 为新记录的 JSON。
// 返回 1 表示写入成功，0 表示版本冲突（并发写入者已经抢先）。
var casScript = redis.NewScript(`
	local cur = redis.call("GET", KEYS[1])
	if cur == false then
		if tonumber(ARGV[1]) == 0 then
			redis.call("SET", KEYS[1], ARGV[2])
			return 1
		end
		return 0
	end
	local obj = cjson.decode(cur)
	if tonumber(obj.version) == tonumber(ARGV[1]) then
		redis.call("SET", KEYS[1], ARGV[2])
		return 1
	end
	return 0
`)

// redisStore 是 Store 的 Redis 实现。
// 每个 Source 对应一个 JSON 值，Update 通过 GET + Lua 版本比较写入
// 实现乐观并发控制，冲突时携带最新记录重试。
type redisStore struct {
	client  redis.UniversalClient
	options *RedisOptions
	closed  atomic.Bool
}

// NewRedis 创建 Redis 存储。
// client 必须是已初始化的 redis.UniversalClient，Close 时一并关闭。
func NewRedis(client redis.UniversalClient, opts ...RedisOption) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	options := defaultRedisOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &redisStore{
		client:  client,
		options: options,
	}, nil
}

func (s *redisStore) key(sourceID string) string {
	return s.options.KeyPrefix + sourceID
}

func (s *redisStore) Get(ctx context.Context, sourceID string) (*Record, error) {
	if err := s.check(ctx, sourceID); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.key(sourceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("xhealthstore: redis get: %w", err)
	}

	return decodeRecord(data)
}

func (s *redisStore) Update(ctx context.Context, sourceID string, fn UpdateFunc) (*Record, error) {
	if err := s.check(ctx, sourceID); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilUpdateFunc
	}

	// 每次尝试重新 GET，确保闭包观察到最新状态；
	// 仅版本冲突可重试，业务错误与网络错误直接透传。
	return retry.NewWithData[*Record](
		retry.Context(ctx),
		retry.Attempts(safeAttempts(s.options.CASAttempts)),
		retry.Delay(s.options.CASRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrConflict) }),
		retry.LastErrorOnly(true),
	).Do(func() (*Record, error) {
		return s.tryUpdate(ctx, sourceID, fn)
	})
}

func (s *redisStore) tryUpdate(ctx context.Context, sourceID string, fn UpdateFunc) (*Record, error) {
	key := s.key(sourceID)

	var work *Record
	var oldVersion int64

	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		work = &Record{SourceID: sourceID}
	case err != nil:
		return nil, fmt.Errorf("xhealthstore: redis get: %w", err)
	default:
		work, err = decodeRecord(data)
		if err != nil {
			return nil, err
		}
		oldVersion = work.Version
	}

	if err := fn(work); err != nil {
		return nil, err
	}

	work.SourceID = sourceID
	work.Version = oldVersion + 1

	payload, err := json.Marshal(work)
	if err != nil {
		return nil, fmt.Errorf("xhealthstore: encode record: %w", err)
	}

	res, err := casScript.Run(ctx, s.client, []string{key}, oldVersion, payload).Int()
	if err != nil {
		return nil, fmt.Errorf("xhealthstore: redis cas: %w", err)
	}
	if res != 1 {
		return nil, ErrConflict
	}
	return work, nil
}

func (s *redisStore) List(ctx context.Context) ([]*Record, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, s.options.KeyPrefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("xhealthstore: redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	out := make([]*Record, 0, len(keys))
	const batch = 128
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		vals, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("xhealthstore: redis mget: %w", err)
		}
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				// SCAN 与 MGET 之间 key 被删除，跳过。
				continue
			}
			rec, err := decodeRecord([]byte(str))
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *redisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.client.Close()
}

func (s *redisStore) check(ctx context.Context, sourceID string) error {
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

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("xhealthstore: decode record: %w", err)
	}
	return &rec, nil
}

// safeAttempts 将 int 安全转换为 retry-go 的 uint 次数。
func safeAttempts(n int) uint {
	if n <= 0 {
		return 1
	}
	return uint(n)
}

var _ Store = (*redisStore)(nil)
