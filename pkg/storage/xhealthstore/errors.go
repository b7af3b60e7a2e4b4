package xhealthstore

import "errors"

var (
	// ErrNotFound 表示指定 Source 不存在记录。
	ErrNotFound = errors.New("xhealthstore: record not found")

	// ErrNilClient 表示传入的客户端为 nil。
	ErrNilClient = errors.New("xhealthstore: nil client")

	// ErrNilContext 表示传入的 context 为 nil。
	ErrNilContext = errors.New("xhealthstore: nil context")

	// ErrNilUpdateFunc 表示 Update 的闭包为 nil。
	ErrNilUpdateFunc = errors.New("xhealthstore: nil update func")

	// ErrEmptySourceID 表示 sourceID 为空字符串。
	ErrEmptySourceID = errors.New("xhealthstore: empty source id")

	// ErrClosed 表示存储已关闭。
	ErrClosed = errors.New("xhealthstore: closed")

	// ErrConflict 表示乐观并发写冲突。
	// redis/mongo 后端在重试耗尽后返回；单次冲突在内部自动重试。
	ErrConflict = errors.New("xhealthstore: version conflict")
)
