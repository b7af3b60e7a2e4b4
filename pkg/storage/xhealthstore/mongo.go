package xhealthstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	retry "github.com/avast/retry-go/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// mongoStore 是 Store 的 MongoDB 实现。
// 每个 Source 对应一个文档（_id = sourceID），Update 通过
// "_id + version 过滤的 ReplaceOne / 首建 InsertOne" 实现乐观并发控制。
type mongoStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	options *MongoOptions
	closed  atomic.Bool
}

// NewMongo 创建 MongoDB 存储。
// client 必须是已连接的 *mongo.Client，Close 时执行 Disconnect。
func NewMongo(client *mongo.Client, opts ...MongoOption) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	options := defaultMongoOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &mongoStore{
		client:  client,
		coll:    client.Database(options.Database).Collection(options.Collection),
		options: options,
	}, nil
}

func (s *mongoStore) Get(ctx context.Context, sourceID string) (*Record, error) {
	if err := s.check(ctx, sourceID); err != nil {
		return nil, err
	}

	var rec Record
	err := s.coll.FindOne(ctx, bson.M{"_id": sourceID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("xhealthstore: mongo find: %w", err)
	}
	return &rec, nil
}

func (s *mongoStore) Update(ctx context.Context, sourceID string, fn UpdateFunc) (*Record, error) {
	if err := s.check(ctx, sourceID); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, ErrNilUpdateFunc
	}

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

func (s *mongoStore) tryUpdate(ctx context.Context, sourceID string, fn UpdateFunc) (*Record, error) {
	work, err := s.Get(ctx, sourceID)
	var oldVersion int64
	switch {
	case errors.Is(err, ErrNotFound):
		work = &Record{SourceID: sourceID}
	case err != nil:
		return nil, err
	default:
		oldVersion = work.Version
	}

	if err := fn(work); err != nil {
		return nil, err
	}

	work.SourceID = sourceID
	work.Version = oldVersion + 1

	if oldVersion == 0 {
		// 首次写入：_id 唯一约束拦截并发首建，冲突后重走 ReplaceOne 路径。
		if _, err := s.coll.InsertOne(ctx, work); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, ErrConflict
			}
			return nil, fmt.Errorf("xhealthstore: mongo insert: %w", err)
		}
		return work, nil
	}

	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": sourceID, "version": oldVersion}, work)
	if err != nil {
		return nil, fmt.Errorf("xhealthstore: mongo replace: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrConflict
	}
	return work, nil
}

func (s *mongoStore) List(ctx context.Context) ([]*Record, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	cur, err := s.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("xhealthstore: mongo find: %w", err)
	}

	var out []*Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("xhealthstore: mongo cursor: %w", err)
	}
	return out, nil
}

func (s *mongoStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.client.Disconnect(context.Background())
}

func (s *mongoStore) check(ctx context.Context, sourceID string) error {
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

var _ Store = (*mongoStore)(nil)
