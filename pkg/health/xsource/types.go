package xsource

import (
	"time"

	"github.com/omeyang/sourcegate/pkg/storage/xhealthstore"
)

// Status 表示 Source 的派生状态标签，供运维面板展示。
type Status string

const (
	// StatusHealthy 表示 Source 正常参与路由。
	StatusHealthy Status = "HEALTHY"

	// StatusSlow 表示慢比率超过阈值但尚未被排除。
	StatusSlow Status = "SLOW"

	// StatusExcluded 表示 Source 处于排除窗口内。
	StatusExcluded Status = "EXCLUDED"
)

// Snapshot 是 Source 健康状态的只读快照。
type Snapshot struct {
	// SourceID 是 Source 公司的唯一标识。
	SourceID string `json:"sourceId"`

	// CompanyName 是 Source 公司的展示名，仅 ListAll 填充。
	CompanyName string `json:"companyName,omitempty"`

	// Healthy 是当前策略的健康谓词结果。
	Healthy bool `json:"healthy"`

	// Status 是派生状态标签，优先级 EXCLUDED > SLOW > HEALTHY。
	Status Status `json:"status"`

	SampleCount  int64      `json:"sampleCount"`
	SlowCount    int64      `json:"slowCount"`
	SlowRate     float64    `json:"slowRate"`
	StrikeCount  int        `json:"strikeCount"`
	BackoffLevel int        `json:"backoffLevel"`
	LastStrikeAt *time.Time `json:"lastStrikeAt,omitempty"`

	// ExcludedUntil 非空且在未来时表示排除截止时间。
	ExcludedUntil *time.Time `json:"excludedUntil,omitempty"`

	LastResetBy string     `json:"lastResetBy,omitempty"`
	LastResetAt *time.Time `json:"lastResetAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// snapshotOf 由记录构建快照。rec 为 nil 时返回"零采样、健康"的默认快照。
func snapshotOf(sourceID string, rec *xhealthstore.Record, policy Policy, now time.Time) Snapshot {
	if rec == nil {
		return Snapshot{
			SourceID: sourceID,
			Healthy:  true,
			Status:   StatusHealthy,
		}
	}

	return Snapshot{
		SourceID:      rec.SourceID,
		Healthy:       policy.Healthy(rec, now),
		Status:        statusOf(rec, now),
		SampleCount:   rec.SampleCount,
		SlowCount:     rec.SlowCount,
		SlowRate:      rec.SlowRate,
		StrikeCount:   rec.StrikeCount,
		BackoffLevel:  rec.BackoffLevel,
		LastStrikeAt:  rec.LastStrikeAt,
		ExcludedUntil: rec.ExcludedUntil,
		LastResetBy:   rec.LastResetBy,
		LastResetAt:   rec.LastResetAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

// statusOf 计算派生状态标签，按 EXCLUDED > SLOW > HEALTHY 优先级判定。
// SLOW 标签始终使用慢比率阈值判定，与当前激活的策略无关。
func statusOf(rec *xhealthstore.Record, now time.Time) Status {
	switch {
	case rec.Excluded(now):
		return StatusExcluded
	case rec.SlowRate > SlowRateThreshold:
		return StatusSlow
	default:
		return StatusHealthy
	}
}
