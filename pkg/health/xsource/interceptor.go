package xsource

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InterceptorOption 定义拦截器的配置选项。
type InterceptorOption func(*interceptorOptions)

type interceptorOptions struct {
	gate bool
}

// WithExclusionGate 启用派发前排除检查。
//
// 启用后，Source 处于排除窗口内时调用被短路，
// 返回 codes.Unavailable 错误而不发起真实 RPC。
// 默认关闭：默认行为只做观测，由上层扇出逻辑自行决定是否跳过 Source。
func WithExclusionGate() InterceptorOption {
	return func(o *interceptorOptions) {
		o.gate = true
	}
}

// UnaryClientInterceptor 返回向 Monitor 上报调用观测的 gRPC 一元客户端拦截器。
//
// sourceID 标识此连接对应的 Source（中间件按 Source 各自拨号，
// 一个 ClientConn 只面向一个 Source）。每次调用的耗时与成败都会
// 通过 Monitor.Record 异步摄入，不增加调用路径的延迟。
//
// 用法：
//
//	conn, err := grpc.NewClient(addr, grpc.WithUnaryInterceptor(
//	    xsource.UnaryClientInterceptor(monitor, "S1", xsource.WithExclusionGate()),
//	))
func UnaryClientInterceptor(m Monitor, sourceID string, opts ...InterceptorOption) grpc.UnaryClientInterceptor {
	options := &interceptorOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return func(ctx context.Context, method string, req, reply any,
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		if m == nil {
			return invoker(ctx, method, req, reply, cc, callOpts...)
		}

		if options.gate && m.IsExcluded(ctx, sourceID) {
			return status.Errorf(codes.Unavailable, "source %s temporarily excluded", sourceID)
		}

		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, callOpts...)
		m.Record(ctx, sourceID, time.Since(start), err == nil)
		return err
	}
}
