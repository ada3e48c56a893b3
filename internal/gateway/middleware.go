package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hanpama/fedgate/internal/ctxlog"
	"github.com/hanpama/fedgate/internal/gql"
)

// Recover turns a panic in a later stage into an internal error result.
func Recover() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) (res *gql.ExecutionResult) {
			defer func() {
				if r := recover(); r != nil {
					ctxlog.FromContext(ctx).Error("request panicked",
						zap.String("operation", req.OperationName),
						zap.String("panic", fmt.Sprint(r)),
						zap.Stack("stack"),
					)
					res = gql.RequestFailure(gql.NewError("Internal server error", gql.CodeInternal, nil))
				}
			}()
			return next.Serve(ctx, req)
		})
	}
}

// AccessLog logs one line per operation at Info.
func AccessLog() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req *Request) *gql.ExecutionResult {
			start := time.Now()
			res := next.Serve(ctx, req)
			ctxlog.FromContext(ctx).Info("operation served",
				zap.String("operation", req.OperationName),
				zap.Int("errors", len(res.Errors)),
				zap.Bool("no_data", res.NoData),
				zap.Duration("duration", time.Since(start)),
			)
			return res
		})
	}
}
