package xsource

import "errors"

var (
	// ErrNilStore 表示传入的存储为 nil。
	ErrNilStore = errors.New("xsource: nil store")

	// ErrNilMonitor 表示传入的 Monitor 为 nil。
	ErrNilMonitor = errors.New("xsource: nil monitor")

	// ErrClosed 表示 Monitor 已关闭。
	ErrClosed = errors.New("xsource: closed")

	// ErrEmptySourceID 表示 sourceID 为空字符串。
	ErrEmptySourceID = errors.New("xsource: empty source id")

	// ErrUnknownPolicy 表示配置中的策略名无法识别。
	ErrUnknownPolicy = errors.New("xsource: unknown policy")
)
