package callback

import (
	"encoding/json"
	"testing"

	"sl4a-rpc/rpcerror"

	"github.com/stretchr/testify/suite"
)

type RegistryTestSuite struct {
	suite.Suite
	registry *Registry
}

func (suite *RegistryTestSuite) SetupTest() {
	suite.registry = NewRegistry()
}

func (suite *RegistryTestSuite) TestIDsFollowRegistrationOrder() {
	var received [3][]string

	for index, event := range []string{"battery", "sensors", "battery"} {
		index := index
		id, err := suite.registry.Register(event, func(data json.RawMessage) {
			received[index] = append(received[index], string(data))
		})
		suite.Require().NoError(err)
		suite.Require().Equal(index, id)
	}

	suite.Require().Equal(3, suite.registry.Len())

	suite.Require().NoError(suite.registry.Dispatch(1, json.RawMessage(`{"x":1}`)))
	suite.Require().Empty(received[0])
	suite.Require().Equal([]string{`{"x":1}`}, received[1])
	suite.Require().Empty(received[2])

	event, found := suite.registry.Event(2)
	suite.Require().True(found)
	suite.Require().Equal("battery", event)
}

func (suite *RegistryTestSuite) TestDispatchOutOfRange() {
	invoked := false
	_, err := suite.registry.Register("battery", func(json.RawMessage) { invoked = true })
	suite.Require().NoError(err)

	for _, id := range []int{-1, 1, 100} {
		err := suite.registry.Dispatch(id, json.RawMessage(`null`))
		suite.Require().True(rpcerror.IsInvalidCallbackIDError(err), "id %d: got %v", id, err)
	}

	suite.Require().False(invoked)

	_, found := suite.registry.Event(5)
	suite.Require().False(found)
}

func (suite *RegistryTestSuite) TestRejectsNilHandler() {
	_, err := suite.registry.Register("battery", nil)
	suite.Require().Error(err)
	suite.Require().Equal(0, suite.registry.Len())
}

func (suite *RegistryTestSuite) TestHandlerMayRegister() {
	_, err := suite.registry.Register("outer", func(json.RawMessage) {
		_, err := suite.registry.Register("inner", func(json.RawMessage) {})
		suite.Require().NoError(err)
	})
	suite.Require().NoError(err)

	suite.Require().NoError(suite.registry.Dispatch(0, nil))
	suite.Require().Equal(2, suite.registry.Len())
}

func TestRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(RegistryTestSuite))
}
