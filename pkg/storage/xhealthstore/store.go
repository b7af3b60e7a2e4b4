package xhealthstore

import (
	"context"
	"time"
)

// Record 表示一个 Source 的当前健康状态。
//
// SampleCount / SlowCount 是 Source 全生命周期的累积计数，不做窗口化或衰减；
// 只有 StrikeCount 是"连续"计数，由策略在快样本时清零。
// Version 是乐观并发控制的版本号，由各后端在写入时递增，调用方不应修改。
type Record struct {
	// SourceID 是 Source 公司的唯一标识。
	SourceID string `json:"sourceId" bson:"_id"`

	// SampleCount 是累积采样总数（单调递增）。
	SampleCount int64 `json:"sampleCount" bson:"sampleCount"`

	// SlowCount 是累积慢样本数（单调递增）。
	SlowCount int64 `json:"slowCount" bson:"slowCount"`

	// SlowRate 是派生值 SlowCount / SampleCount，每次采样后重算。
	// SampleCount 为 0 时恒为 0。
	SlowRate float64 `json:"slowRate" bson:"slowRate"`

	// StrikeCount 是连续慢样本计数，任意快样本将其清零。
	StrikeCount int `json:"strikeCount" bson:"strikeCount"`

	// LastStrikeAt 是最近一次慢样本的时间。
	LastStrikeAt *time.Time `json:"lastStrikeAt,omitempty" bson:"lastStrikeAt,omitempty"`

	// BackoffLevel 是退避等级，0 表示未处于升级状态。
	BackoffLevel int `json:"backoffLevel" bson:"backoffLevel"`

	// ExcludedUntil 非空且在未来时，该 Source 被排除出路由。
	// 过期的 ExcludedUntil 语义上等同于未排除，由读取方惰性清理。
	ExcludedUntil *time.Time `json:"excludedUntil,omitempty" bson:"excludedUntil,omitempty"`

	// LastResetBy / LastResetAt 记录最近一次人工重置的审计信息。
	LastResetBy string     `json:"lastResetBy,omitempty" bson:"lastResetBy,omitempty"`
	LastResetAt *time.Time `json:"lastResetAt,omitempty" bson:"lastResetAt,omitempty"`

	// UpdatedAt 是最近一次写入时间，由调用方在 Update 闭包内设置。
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`

	// Version 是乐观锁版本号，由后端维护。
	Version int64 `json:"version" bson:"version"`
}

// Clone 返回 Record 的深拷贝。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.LastStrikeAt = cloneTime(r.LastStrikeAt)
	cp.ExcludedUntil = cloneTime(r.ExcludedUntil)
	cp.LastResetAt = cloneTime(r.LastResetAt)
	return &cp
}

// Excluded 判断记录在 now 时刻是否处于排除状态。
// ExcludedUntil 为空或已过期均视为未排除。
func (r *Record) Excluded(now time.Time) bool {
	return r != nil && r.ExcludedUntil != nil && r.ExcludedUntil.After(now)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// UpdateFunc 在 Update 中对记录执行读-改-写。
// 记录不存在时收到仅填充 SourceID 的零值记录。
// 返回非 nil 错误将放弃本次写入，错误原样透传给 Update 调用方。
type UpdateFunc func(rec *Record) error

// Store 定义健康记录存储接口。
// 所有方法都是并发安全的。
type Store interface {
	// Get 返回指定 Source 的记录快照。
	// 记录不存在时返回 [ErrNotFound]，不会产生创建副作用。
	Get(ctx context.Context, sourceID string) (*Record, error)

	// Update 对指定 Source 的记录执行原子读-改-写（upsert 语义）。
	// fn 观察到的记录与最终写入之间不会穿插其他写入者的修改；
	// 发生写冲突时后端自动携带最新记录重试。
	// 返回写入后的记录快照。
	Update(ctx context.Context, sourceID string, fn UpdateFunc) (*Record, error)

	// List 返回所有 Source 的记录快照。
	List(ctx context.Context) ([]*Record, error)

	// Close 释放后端资源。
	Close() error
}
