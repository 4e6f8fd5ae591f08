package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type MemoryRegistryTestSuite struct {
	suite.Suite
	ctx      context.Context
	registry *MemoryRegistry
}

func (suite *MemoryRegistryTestSuite) SetupTest() {
	suite.ctx = context.Background()
	suite.registry = NewMemoryRegistry()
}

func (suite *MemoryRegistryTestSuite) TestRegisterAndDiscover() {
	suite.Require().NoError(suite.registry.Register(suite.ctx, "facade", ServiceInstance{Addr: "127.0.0.1:8002"}, 10))
	suite.Require().NoError(suite.registry.Register(suite.ctx, "facade", ServiceInstance{Addr: "127.0.0.1:8001"}, 10))

	instances, err := suite.registry.Discover(suite.ctx, "facade")
	suite.Require().NoError(err)
	suite.Require().Equal([]ServiceInstance{{Addr: "127.0.0.1:8001"}, {Addr: "127.0.0.1:8002"}}, instances)

	suite.Require().NoError(suite.registry.Deregister(suite.ctx, "facade", "127.0.0.1:8001"))

	instances, err = suite.registry.Discover(suite.ctx, "facade")
	suite.Require().NoError(err)
	suite.Require().Equal([]ServiceInstance{{Addr: "127.0.0.1:8002"}}, instances)

	instances, err = suite.registry.Discover(suite.ctx, "unknown")
	suite.Require().NoError(err)
	suite.Require().Empty(instances)
}

func (suite *MemoryRegistryTestSuite) TestWatch() {
	ctx, cancel := context.WithCancel(suite.ctx)
	watchChan := suite.registry.Watch(ctx, "facade")

	suite.Require().NoError(suite.registry.Register(suite.ctx, "facade", ServiceInstance{Addr: "a"}, 10))
	suite.Require().NoError(suite.registry.Register(suite.ctx, "facade", ServiceInstance{Addr: "b"}, 10))

	// only the latest list is kept for a slow watcher
	select {
	case instances := <-watchChan:
		suite.Require().Len(instances, 2)
	case <-time.After(time.Second):
		suite.FailNow("no watch notification")
	}

	cancel()

	select {
	case _, open := <-watchChan:
		suite.Require().False(open)
	case <-time.After(time.Second):
		suite.FailNow("watch channel not closed")
	}
}

func (suite *MemoryRegistryTestSuite) TestStatic() {
	static := NewStaticRegistry("facade", "10.0.0.1:4321", "10.0.0.2:4321")

	instances, err := static.Discover(suite.ctx, "facade")
	suite.Require().NoError(err)
	suite.Require().Len(instances, 2)
}

func TestMemoryRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryRegistryTestSuite))
}
