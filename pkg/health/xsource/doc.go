// Package xsource 提供 Source 健康监控与自适应排除。
//
// 中间件在可用性搜索与订单派发时向多个 Source（供应商）扇出上游调用。
// 本包观测每次调用的延迟/成败信号，按策略判定 Source 是否失健，
// 并用逐级升高的退避窗口把失健的 Source 暂时排除出路由。
//
// # 三个调用面
//
//   - 采样面：每次上游 RPC 之后调用 [Monitor.Record]——旁路通道，
//     永不阻塞、永不抛错，样本经有界队列异步落盘
//   - 路由面：派发前调用 [Monitor.IsExcluded]——同步检查，
//     存储故障按未排除处理（fail-open），过期窗口惰性清理
//   - 管理面：[Monitor.Get] / [Monitor.Reset] / [Monitor.ListAll]，
//     供运维端点与 sourcegatectl 使用，错误正常透传
//
// # 退避策略
//
// 默认三振策略 [NewStrikePolicy]：连续 3 个慢样本（>3s）触发排除，
// 时长阶梯 15m/30m/60m/2h/4h，排除期间重触发升一级（钳制在最后一档），
// 任意一个快样本立即完全恢复。备选慢比率策略 [NewSlowRatePolicy]：
// 累积慢比率超过 0.2 且采样数达到 100 时触发，时长 min(2^level, 24) 小时。
// 两者通过 [Policy] 接口切换，可在配置中用 policy 字段选择。
//
// # 配套设施
//
//   - [UnaryClientInterceptor]：gRPC 客户端拦截器，调用路径零侵入采样
//   - [LoadConfig] / [WatchConfig]：koanf 配置加载与 Enabled 开关热更新
//   - [NewCachedDirectory]：带 LRU + singleflight 的公司名目录装饰
//   - [NewReporter]：cron 周期性状态上报
//
// 存储后端见 [github.com/omeyang/sourcegate/pkg/storage/xhealthstore]。
package xsource
