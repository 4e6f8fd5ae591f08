package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sl4a-rpc/codec"

	"github.com/stretchr/testify/suite"
)

type ReaderTestSuite struct {
	suite.Suite
	environment map[string]string
	reader      *Reader
}

func (suite *ReaderTestSuite) SetupTest() {
	var err error

	suite.reader, err = NewReader()
	suite.Require().NoError(err)

	suite.environment = map[string]string{}
	suite.reader.lookupEnv = func(name string) (string, bool) {
		value, found := suite.environment[name]
		return value, found
	}
}

func (suite *ReaderTestSuite) TestDefaults() {
	config, err := suite.reader.ReadFileOrDefault("")
	suite.Require().NoError(err)

	suite.Require().Equal("127.0.0.1:4321", config.Address())
	suite.Require().Equal(5*time.Second, config.DialTimeout)
	suite.Require().Equal(time.Duration(0), config.CallTimeout)
	suite.Require().Equal("info", config.LogLevel)
	suite.Require().False(config.RateLimit.Enabled())
	suite.Require().False(config.Registry.Enabled())
	suite.Require().Equal("sl4a", config.Registry.Service)

	codecType, err := config.CodecType()
	suite.Require().NoError(err)
	suite.Require().Equal(codec.CodecTypeJSON, codecType)
}

func (suite *ReaderTestSuite) TestFileOverDefaults() {
	var config Config
	err := suite.reader.Read(strings.NewReader(`
host: 192.168.1.20
port: 9999
codec: latin1
callTimeout: 1500ms
rateLimit:
  rate: 20
  burst: 5
registry:
  endpoints:
  - etcd-0:2379
  - etcd-1:2379
  balancer: consistent-hash
  key: pixel-7
`), &config)
	suite.Require().NoError(err)

	suite.Require().Equal("192.168.1.20:9999", config.Address())
	suite.Require().Equal(1500*time.Millisecond, config.CallTimeout)
	suite.Require().Equal(5*time.Second, config.DialTimeout)
	suite.Require().Equal(RateLimit{Rate: 20, Burst: 5}, config.RateLimit)
	suite.Require().Equal([]string{"etcd-0:2379", "etcd-1:2379"}, config.Registry.Endpoints)
	suite.Require().Equal("consistent-hash", config.Registry.Balancer)
	suite.Require().Equal("pixel-7", config.Registry.Key)

	// kept from the defaults inside a section the file only partly sets
	suite.Require().Equal("sl4a", config.Registry.Service)

	codecType, err := config.CodecType()
	suite.Require().NoError(err)
	suite.Require().Equal(codec.CodecTypeLatin1, codecType)
}

func (suite *ReaderTestSuite) TestEnvironmentOverFile() {
	suite.environment["AP_HOST"] = "10.0.0.5"
	suite.environment["AP_PORT"] = "47000"
	suite.environment["AP_HANDSHAKE"] = "s3cr3t"
	suite.environment["SL4A_CALL_TIMEOUT"] = "2s"
	suite.environment["SL4A_REGISTRY_ENDPOINTS"] = "etcd-a:2379, etcd-b:2379"

	var config Config
	err := suite.reader.Read(strings.NewReader(`
host: 192.168.1.20
port: 9999
registry:
  balancer: weighted-random
`), &config)
	suite.Require().NoError(err)

	suite.Require().Equal("10.0.0.5:47000", config.Address())
	suite.Require().Equal("s3cr3t", config.Handshake)
	suite.Require().Equal(2*time.Second, config.CallTimeout)
	suite.Require().Equal([]string{"etcd-a:2379", "etcd-b:2379"}, config.Registry.Endpoints)
	suite.Require().Equal("weighted-random", config.Registry.Balancer)
}

func (suite *ReaderTestSuite) TestReadFile() {
	path := filepath.Join(suite.T().TempDir(), "sl4a.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("handshake: from-file\n"), 0600))

	config, err := suite.reader.ReadFileOrDefault(path)
	suite.Require().NoError(err)
	suite.Require().Equal("from-file", config.Handshake)

	_, err = suite.reader.ReadFileOrDefault(filepath.Join(suite.T().TempDir(), "missing.yaml"))
	suite.Require().Error(err)
}

func (suite *ReaderTestSuite) TestInvalid() {
	for name, document := range map[string]string{
		"port":     "port: 70000",
		"codec":    "codec: msgpack",
		"burst":    "rateLimit: {rate: 5, burst: -1}",
		"timeout":  "callTimeout: -1s",
		"document": "host: [unterminated",
	} {
		var config Config
		err := suite.reader.Read(strings.NewReader(document), &config)
		suite.Require().Error(err, name)
	}
}

func TestReaderTestSuite(t *testing.T) {
	suite.Run(t, new(ReaderTestSuite))
}
