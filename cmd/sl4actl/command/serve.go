package command

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sl4a-rpc/middleware"
	"sl4a-rpc/server"

	"github.com/nuclio/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type serveCommandeer struct {
	cmd             *cobra.Command
	rootCommandeer  *RootCommandeer
	listenAddress   string
	advertise       string
	metricsAddress  string
	shutdownTimeout time.Duration
}

func newServeCommandeer(rootCommandeer *RootCommandeer) *serveCommandeer {
	commandeer := &serveCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a reference facade exposing a few demo methods",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			return commandeer.serve()
		},
	}

	cmd.Flags().StringVarP(&commandeer.listenAddress, "listen", "l", "", "Address to listen on (default - the configured host and port)")
	cmd.Flags().StringVarP(&commandeer.advertise, "advertise", "a", "", "Address to advertise in the registry")
	cmd.Flags().StringVarP(&commandeer.metricsAddress, "metrics-listen", "m", "", "Address to expose Prometheus metrics on (empty - disabled)")
	cmd.Flags().DurationVarP(&commandeer.shutdownTimeout, "shutdown-timeout", "", 5*time.Second, "How long to wait for open sessions on shutdown")

	commandeer.cmd = cmd

	return commandeer
}

func (s *serveCommandeer) serve() error {
	rootCommandeer := s.rootCommandeer

	codecType, err := rootCommandeer.config.CodecType()
	if err != nil {
		return err
	}

	facadeServer := server.NewServer(rootCommandeer.loggerInstance, &server.Options{
		Name:      rootCommandeer.config.Registry.Service,
		Handshake: rootCommandeer.config.Handshake,
		Codec:     codecType,
	})

	if err := facadeServer.Register(&demoFacade{server: facadeServer}); err != nil {
		return errors.Wrap(err, "Failed to register demo facade")
	}

	metricsRegistry := prometheus.NewRegistry()
	metricsMiddleware, err := middleware.MetricsMiddleware(metricsRegistry, "server")
	if err != nil {
		return errors.Wrap(err, "Failed to create metrics middleware")
	}

	facadeServer.Use(middleware.LoggingMiddleware(rootCommandeer.loggerInstance))
	facadeServer.Use(metricsMiddleware)

	if s.metricsAddress != "" {
		go s.serveMetrics(metricsRegistry)
	}

	reg, err := rootCommandeer.createRegistry()
	if err != nil {
		return err
	}

	if reg != nil {
		defer reg.Close() // nolint: errcheck
	}

	listenAddress := s.listenAddress
	if listenAddress == "" {
		listenAddress = rootCommandeer.config.Address()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- facadeServer.Serve("tcp", listenAddress, s.advertise, reg)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	rootCommandeer.loggerInstance.InfoWith("Shutting down", "timeout", s.shutdownTimeout.String())

	if err := facadeServer.Shutdown(s.shutdownTimeout); err != nil {
		return errors.Wrap(err, "Failed to shut down")
	}

	return <-serveErr
}

func (s *serveCommandeer) serveMetrics(metricsRegistry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))

	s.rootCommandeer.loggerInstance.InfoWith("Serving metrics", "address", s.metricsAddress)

	if err := http.ListenAndServe(s.metricsAddress, mux); err != nil {
		s.rootCommandeer.loggerInstance.WarnWith("Metrics listener stopped", "err", err.Error())
	}
}

// demoFacade is what "sl4actl serve" exposes. Method names go on the wire lower camel
// cased: echo, ping, toUpper, emit and broadcast.
type demoFacade struct {
	server *server.Server
}

// Echo returns its params as-is
func (d *demoFacade) Echo(ctx context.Context, params []json.RawMessage) (any, error) {
	if len(params) == 1 {
		return params[0], nil
	}

	return params, nil
}

func (d *demoFacade) Ping(ctx context.Context, params []json.RawMessage) (any, error) {
	return "pong", nil
}

func (d *demoFacade) ToUpper(ctx context.Context, params []json.RawMessage) (any, error) {
	var text string
	if err := unmarshalSingle(params, &text); err != nil {
		return nil, err
	}

	return strings.ToUpper(text), nil
}

// Emit invokes the calling session's callbacks for an event: emit(event, data)
func (d *demoFacade) Emit(ctx context.Context, params []json.RawMessage) (any, error) {
	event, data, err := eventParams(params)
	if err != nil {
		return nil, err
	}

	session := server.SessionFromContext(ctx)
	if session == nil {
		return nil, errors.New("No session")
	}

	return session.Emit(event, data)
}

// Broadcast invokes the callbacks of every open session: broadcast(event, data)
func (d *demoFacade) Broadcast(ctx context.Context, params []json.RawMessage) (any, error) {
	event, data, err := eventParams(params)
	if err != nil {
		return nil, err
	}

	return d.server.Emit(event, data), nil
}

func eventParams(params []json.RawMessage) (string, json.RawMessage, error) {
	if len(params) != 2 {
		return "", nil, errors.Errorf("Expected 2 params (event, data), got %d", len(params))
	}

	var event string
	if err := json.Unmarshal(params[0], &event); err != nil {
		return "", nil, errors.Wrap(err, "Event must be a string")
	}

	return event, params[1], nil
}

func unmarshalSingle(params []json.RawMessage, target any) error {
	if len(params) != 1 {
		return errors.Errorf("Expected 1 param, got %d", len(params))
	}

	if err := json.Unmarshal(params[0], target); err != nil {
		return errors.Wrap(err, "Invalid param")
	}

	return nil
}
