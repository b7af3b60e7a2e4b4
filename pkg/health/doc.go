// Package health 提供 Source 健康监控相关的子包。
//
// 子包列表：
//   - xsource: 健康采样、自适应排除与管理查询的统一入口
package health
