package middleware

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"sl4a-rpc/message"
	"sl4a-rpc/rpcerror"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

func echoHandler(ctx context.Context, request *message.Request) (json.RawMessage, error) {
	return json.RawMessage(`"ok"`), nil
}

// blocks until ctx is done, like a transport read with no reply coming
func stalledHandler(ctx context.Context, request *message.Request) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type MiddlewareTestSuite struct {
	suite.Suite
	logger  logger.Logger
	ctx     context.Context
	request *message.Request
}

func (suite *MiddlewareTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.ctx = context.Background()
	suite.request = &message.Request{ID: 1, Method: "batteryGetLevel"}
}

func (suite *MiddlewareTestSuite) TestLogging() {
	handler := LoggingMiddleware(suite.logger)(echoHandler)

	result, err := handler(suite.ctx, suite.request)
	suite.Require().NoError(err)
	suite.Require().JSONEq(`"ok"`, string(result))

	failing := LoggingMiddleware(suite.logger)(func(context.Context, *message.Request) (json.RawMessage, error) {
		return nil, &rpcerror.TransportError{Op: "read", Err: io.EOF}
	})

	_, err = failing(suite.ctx, suite.request)
	suite.Require().True(rpcerror.IsTransportError(err))
}

func (suite *MiddlewareTestSuite) TestTimeoutPass() {
	handler := TimeoutMiddleware(500 * time.Millisecond)(echoHandler)

	_, err := handler(suite.ctx, suite.request)
	suite.Require().NoError(err)
}

func (suite *MiddlewareTestSuite) TestTimeoutExceeded() {
	handler := TimeoutMiddleware(50 * time.Millisecond)(stalledHandler)

	start := time.Now()
	_, err := handler(suite.ctx, suite.request)
	suite.Require().True(rpcerror.IsTimeoutError(err), "got %v", err)
	suite.Require().Less(time.Since(start), 5*time.Second)
}

func (suite *MiddlewareTestSuite) TestRateLimit() {
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	// burst passes right away
	for i := 0; i < 2; i++ {
		_, err := handler(suite.ctx, suite.request)
		suite.Require().NoError(err, "request %d", i)
	}

	// the third would wait ~1s, longer than the deadline allows
	ctx, cancel := context.WithTimeout(suite.ctx, 100*time.Millisecond)
	defer cancel()

	_, err := handler(ctx, suite.request)
	suite.Require().True(rpcerror.IsTimeoutError(err), "got %v", err)
}

func (suite *MiddlewareTestSuite) TestMetrics() {
	registry := prometheus.NewRegistry()

	metricsMiddleware, err := MetricsMiddleware(registry, "client")
	suite.Require().NoError(err)

	handler := metricsMiddleware(echoHandler)
	for i := 0; i < 3; i++ {
		_, err := handler(suite.ctx, suite.request)
		suite.Require().NoError(err)
	}

	failing := metricsMiddleware(func(context.Context, *message.Request) (json.RawMessage, error) {
		return nil, &rpcerror.RemoteError{Method: "batteryGetLevel", Payload: json.RawMessage(`"boom"`)}
	})
	_, err = failing(suite.ctx, suite.request)
	suite.Require().Error(err)

	count, err := testutil.GatherAndCount(registry, "sl4a_rpc_calls_total")
	suite.Require().NoError(err)
	suite.Require().Equal(2, count)

	// registering twice on the same registry fails
	_, err = MetricsMiddleware(registry, "client")
	suite.Require().Error(err)
}

func (suite *MiddlewareTestSuite) TestOutcome() {
	suite.Require().Equal("success", Outcome(nil))
	suite.Require().Equal("timeout", Outcome(&rpcerror.TimeoutError{Op: "read"}))
	suite.Require().Equal("remote_error", Outcome(&rpcerror.RemoteError{Payload: json.RawMessage(`"x"`)}))
	suite.Require().Equal("failure", Outcome(io.EOF))
}

func (suite *MiddlewareTestSuite) TestChainOrder() {
	var order []string
	record := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, request *message.Request) (json.RawMessage, error) {
				order = append(order, name)
				return next(ctx, request)
			}
		}
	}

	handler := Chain(record("outer"), record("inner"), TimeoutMiddleware(time.Second))(echoHandler)

	_, err := handler(suite.ctx, suite.request)
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"outer", "inner"}, order)
}

func TestMiddlewareTestSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareTestSuite))
}
