// Package middleware wraps the unit of work of an RPC (a client call on the wire, or a
// server-side method dispatch) in composable layers.
package middleware

import (
	"context"
	"encoding/json"

	"sl4a-rpc/message"
)

// HandlerFunc performs one call and returns its result or a failure from rpcerror
type HandlerFunc func(ctx context.Context, request *message.Request) (json.RawMessage, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
