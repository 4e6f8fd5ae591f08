package middleware

import (
	"context"
	"encoding/json"
	"time"

	"sl4a-rpc/message"
	"sl4a-rpc/rpcerror"
)

// TimeoutMiddleware bounds every call by timeout. The handler underneath must honor ctx;
// an error returned after the deadline passed is reported as a *rpcerror.TimeoutError.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, request *message.Request) (json.RawMessage, error) {
			if timeout <= 0 {
				return next(ctx, request)
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			result, err := next(ctx, request)
			if err != nil && ctx.Err() != nil && !rpcerror.IsTimeoutError(err) {
				return nil, &rpcerror.TimeoutError{Op: request.Method, Err: ctx.Err()}
			}

			return result, err
		}
	}
}
