package middleware

import (
	"context"
	"encoding/json"

	"sl4a-rpc/message"
	"sl4a-rpc/rpcerror"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware holds calls back with a token bucket of r calls per second and
// the given burst. A call that cannot get a token before ctx ends fails with a
// *rpcerror.TimeoutError and is never sent.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, request *message.Request) (json.RawMessage, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, &rpcerror.TimeoutError{Op: "rate limit", Err: err}
			}

			return next(ctx, request)
		}
	}
}
