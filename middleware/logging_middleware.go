package middleware

import (
	"context"
	"encoding/json"
	"time"

	"sl4a-rpc/message"

	"github.com/nuclio/logger"
)

// LoggingMiddleware logs every call with its id, duration and outcome
func LoggingMiddleware(parentLogger logger.Logger) Middleware {
	middlewareLogger := parentLogger.GetChild("calls")

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, request *message.Request) (json.RawMessage, error) {
			start := time.Now()
			result, err := next(ctx, request)
			duration := time.Since(start)

			if err != nil {
				middlewareLogger.WarnWith("Call failed",
					"method", request.Method,
					"id", request.ID,
					"duration", duration,
					"err", err.Error())
				return result, err
			}

			middlewareLogger.DebugWith("Call succeeded",
				"method", request.Method,
				"id", request.ID,
				"duration", duration)
			return result, nil
		}
	}
}
