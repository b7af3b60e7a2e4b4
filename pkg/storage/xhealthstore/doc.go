// Package xhealthstore 提供 Source 健康记录的持久化存储。
//
// 每个 Source 对应一条 [Record]，记录采样计数、连续慢调用计数、
// 退避等级与排除截止时间等状态。存储接口 [Store] 的核心操作是
// Update：按 sourceID 的原子读-改-写，保证并发采样不丢失计数。
//
// # 可用后端
//
//   - [NewMemory]：进程内实现，基于 xxhash 分片互斥锁，适合测试与嵌入场景
//   - [NewRedis]：基于 go-redis，JSON 值 + Lua 版本比较实现乐观并发控制
//   - [NewMongo]：基于 mongo-driver v2，版本字段过滤 + upsert 实现乐观并发控制
//   - [NewCached]：ristretto 读缓存装饰器，降低排除检查的读放大
//
// # 并发模型
//
// Update 的闭包在持有该 sourceID 写权的前提下执行：内存后端通过分片锁
// 串行化，redis/mongo 后端通过版本号 CAS + 冲突重试串行化。
// 两个并发的 Update 不会互相覆盖对方的增量。
package xhealthstore
