package rpcerror

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/nuclio/errors"
	"github.com/stretchr/testify/suite"
)

type RPCErrorTestSuite struct {
	suite.Suite
}

func (suite *RPCErrorTestSuite) TestPredicatesSurviveWrapping() {
	err := errors.Wrap(&TransportError{Op: "read", Err: io.EOF}, "Failed to read response")

	suite.Require().True(IsTransportError(err))
	suite.Require().False(IsTimeoutError(err))
	suite.Require().False(IsConnectionError(err))
}

func (suite *RPCErrorTestSuite) TestPredicatesOnNil() {
	suite.Require().False(IsTransportError(nil))

	_, ok := AsRemoteError(nil)
	suite.Require().False(ok)
}

func (suite *RPCErrorTestSuite) TestRemoteErrorMessage() {
	for _, testCase := range []struct {
		name     string
		payload  string
		expected string
	}{
		{name: "string", payload: `"boom"`, expected: "boom"},
		{name: "object", payload: `{"code":-1,"message":"no such facade"}`, expected: "no such facade"},
		{name: "other", payload: `17`, expected: "17"},
	} {
		suite.Run(testCase.name, func() {
			remoteErr := &RemoteError{Method: "explode", Payload: json.RawMessage(testCase.payload)}
			suite.Require().Equal(testCase.expected, remoteErr.Message())

			found, ok := AsRemoteError(errors.Wrap(remoteErr, "Call failed"))
			suite.Require().True(ok)
			suite.Require().Equal(remoteErr, found)
		})
	}
}

func (suite *RPCErrorTestSuite) TestDecodingErrorTruncatesLine() {
	line := make([]byte, 1000)
	for i := range line {
		line[i] = 'x'
	}

	err := &DecodingError{Line: line, Err: io.ErrUnexpectedEOF}
	suite.Require().Less(len(err.Error()), 300)
}

func TestRPCErrorTestSuite(t *testing.T) {
	suite.Run(t, new(RPCErrorTestSuite))
}
