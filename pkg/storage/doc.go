// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xhealthstore: Source 健康记录存储，支持内存、Redis 和 MongoDB 后端
//
// 设计原则：
//   - 提供统一的接口抽象，支持多种存储后端
//   - 以原子读-改-写为核心原语，跨进程写冲突由后端 CAS 解决
//   - 支持重试策略与读缓存装饰
package storage
