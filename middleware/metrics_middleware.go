package middleware

import (
	"context"
	"encoding/json"
	"time"

	"sl4a-rpc/message"
	"sl4a-rpc/rpcerror"

	"github.com/nuclio/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsMiddleware counts calls per method and outcome and observes their duration.
// side labels the collectors ("client" or "server").
func MetricsMiddleware(registerer prometheus.Registerer, side string) (Middleware, error) {
	labels := prometheus.Labels{
		"side": side,
	}

	callsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "sl4a_rpc_calls_total",
		Help:        "Total number of RPC calls",
		ConstLabels: labels,
	}, []string{"method", "result"})

	callDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "sl4a_rpc_call_duration_seconds",
		Help:        "Duration of RPC calls",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"method"})

	if err := registerer.Register(callsTotal); err != nil {
		return nil, errors.Wrap(err, "Failed to register calls metric")
	}

	if err := registerer.Register(callDuration); err != nil {
		return nil, errors.Wrap(err, "Failed to register call duration metric")
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, request *message.Request) (json.RawMessage, error) {
			start := time.Now()
			result, err := next(ctx, request)

			callDuration.WithLabelValues(request.Method).Observe(time.Since(start).Seconds())
			callsTotal.WithLabelValues(request.Method, Outcome(err)).Inc()

			return result, err
		}
	}, nil
}

// Outcome names the class of err for metric labels
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case rpcerror.IsTimeoutError(err):
		return "timeout"
	case rpcerror.IsTransportError(err):
		return "transport_error"
	case rpcerror.IsEncodingError(err):
		return "encoding_error"
	case rpcerror.IsDecodingError(err):
		return "decoding_error"
	case rpcerror.IsAuthenticationError(err):
		return "authentication_error"
	}

	if _, ok := rpcerror.AsRemoteError(err); ok {
		return "remote_error"
	}

	return "failure"
}
