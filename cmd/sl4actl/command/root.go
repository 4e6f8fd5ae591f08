package command

import (
	"context"
	"strings"

	"sl4a-rpc/client"
	"sl4a-rpc/config"
	"sl4a-rpc/loadbalance"
	"sl4a-rpc/middleware"
	"sl4a-rpc/registry"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/spf13/cobra"
)

type RootCommandeer struct {
	loggerInstance logger.Logger
	cmd            *cobra.Command
	configPath     string
	verbose        bool
	config         *config.Config

	// flag overrides, applied over the resolved configuration when set
	host      string
	port      int
	handshake string
	codecName string
}

func NewRootCommandeer() *RootCommandeer {
	commandeer := &RootCommandeer{}

	cmd := &cobra.Command{
		Use:           "sl4actl [command]",
		Short:         "Talk to an automation facade over line-delimited JSON-RPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&commandeer.verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().StringVarP(&commandeer.configPath, "config", "c", "", "Path to a YAML configuration file")
	cmd.PersistentFlags().StringVarP(&commandeer.host, "host", "", "", "Facade host (overrides AP_HOST)")
	cmd.PersistentFlags().IntVarP(&commandeer.port, "port", "p", 0, "Facade port (overrides AP_PORT)")
	cmd.PersistentFlags().StringVarP(&commandeer.handshake, "handshake", "", "", "Handshake secret (overrides AP_HANDSHAKE)")
	cmd.PersistentFlags().StringVarP(&commandeer.codecName, "codec", "", "", "Wire codec - \"json\" or \"latin1\"")

	cmd.AddCommand(
		newCallCommandeer(commandeer).cmd,
		newListenCommandeer(commandeer).cmd,
		newServeCommandeer(commandeer).cmd,
	)

	commandeer.cmd = cmd

	return commandeer
}

// Execute uses os.Args to execute the command
func (rc *RootCommandeer) Execute() error {
	return rc.cmd.Execute()
}

// GetCmd returns the underlying cobra command
func (rc *RootCommandeer) GetCmd() *cobra.Command {
	return rc.cmd
}

func (rc *RootCommandeer) initialize() error {
	var err error

	reader, err := config.NewReader()
	if err != nil {
		return errors.Wrap(err, "Failed to create configuration reader")
	}

	rc.config, err = reader.ReadFileOrDefault(rc.configPath)
	if err != nil {
		return errors.Wrap(err, "Failed to read configuration")
	}

	if rc.host != "" {
		rc.config.Host = rc.host
	}

	if rc.port != 0 {
		rc.config.Port = rc.port
	}

	if rc.handshake != "" {
		rc.config.Handshake = rc.handshake
	}

	if rc.codecName != "" {
		rc.config.Codec = rc.codecName
	}

	if err := rc.config.Validate(); err != nil {
		return errors.Wrap(err, "Invalid configuration")
	}

	rc.loggerInstance, err = rc.createLogger()
	if err != nil {
		return errors.Wrap(err, "Failed to create logger")
	}

	rc.loggerInstance.DebugWith("Initialized", "address", rc.config.Address(), "codec", rc.config.Codec)

	return nil
}

func (rc *RootCommandeer) createLogger() (logger.Logger, error) {
	var loggerLevel nucliozap.Level

	switch {
	case rc.verbose:
		loggerLevel = nucliozap.DebugLevel
	default:
		loggerLevel = resolveLoggerLevel(rc.config.LogLevel)
	}

	loggerInstance, err := nucliozap.NewNuclioZapCmd("sl4actl", loggerLevel)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create logger")
	}

	return loggerInstance, nil
}

// createRegistry returns the etcd registry when endpoints are configured, nil otherwise
func (rc *RootCommandeer) createRegistry() (registry.Registry, error) {
	if !rc.config.Registry.Enabled() {
		return nil, nil
	}

	etcdRegistry, err := registry.NewEtcdRegistry(rc.loggerInstance, rc.config.Registry.Endpoints, rc.config.DialTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create registry")
	}

	return etcdRegistry, nil
}

// connect opens a client to the configured facade, through discovery when a registry
// is configured
func (rc *RootCommandeer) connect(ctx context.Context) (*client.Client, error) {
	codecType, err := rc.config.CodecType()
	if err != nil {
		return nil, err
	}

	middlewares := []middleware.Middleware{
		middleware.LoggingMiddleware(rc.loggerInstance),
	}

	if rc.config.RateLimit.Enabled() {
		middlewares = append(middlewares,
			middleware.RateLimitMiddleware(rc.config.RateLimit.Rate, rc.config.RateLimit.Burst))
	}

	options := &client.Options{
		Codec:       codecType,
		Handshake:   rc.config.Handshake,
		DialTimeout: rc.config.DialTimeout,
		CallTimeout: rc.config.CallTimeout,
		Middlewares: middlewares,
	}

	reg, err := rc.createRegistry()
	if err != nil {
		return nil, err
	}

	if reg == nil {
		return client.New(ctx, rc.loggerInstance, rc.config.Address(), options)
	}

	defer reg.Close() // nolint: errcheck

	balancer, err := loadbalance.New(rc.config.Registry.Balancer, rc.config.Registry.Key)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create balancer")
	}

	return client.Discover(ctx, rc.loggerInstance, reg, balancer, rc.config.Registry.Service, options)
}

func resolveLoggerLevel(name string) nucliozap.Level {
	switch strings.ToLower(name) {
	case "debug":
		return nucliozap.DebugLevel
	case "warn", "warning":
		return nucliozap.WarnLevel
	case "error":
		return nucliozap.ErrorLevel
	default:
		return nucliozap.InfoLevel
	}
}
