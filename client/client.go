// Package client talks to an automation facade over one line-delimited JSON-RPC
// connection.
//
// A Client is a strictly sequential session: every public operation takes the same
// lock, so at most one request is outstanding and responses never need to be matched
// out of order. Callback invocations the facade pushes while a call is waiting for its
// response are dispatched synchronously on the calling goroutine before the call
// returns. Handlers run with the lock held and must not call back into the same Client.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"sl4a-rpc/callback"
	"sl4a-rpc/codec"
	"sl4a-rpc/loadbalance"
	"sl4a-rpc/message"
	"sl4a-rpc/middleware"
	"sl4a-rpc/registry"
	"sl4a-rpc/rpcerror"
	"sl4a-rpc/transport"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/rs/xid"
)

type Options struct {
	Codec codec.CodecType

	// Secret presented through _authenticate right after connecting. Empty skips the
	// handshake.
	Handshake string

	// Bounds the connect. Zero leaves it to the context passed to New.
	DialTimeout time.Duration

	// Bounds every call, on top of the caller's context. Zero means calls block until
	// the facade answers or the caller's context ends.
	CallTimeout time.Duration

	// Wrap every call, first is outermost
	Middlewares []middleware.Middleware
}

// MethodFunc is a facade method bound to a client
type MethodFunc func(ctx context.Context, args ...any) (json.RawMessage, error)

type Client struct {
	logger        logger.Logger
	sessionID     string
	transport     *transport.ClientTransport
	codec         codec.Codec
	callbacks     *callback.Registry
	handler       middleware.HandlerFunc
	lock          sync.Mutex
	nextRequestID int64 // id of the last request put on the wire, guarded by lock
	authErr       error // set once the handshake was rejected, guarded by lock
	authenticated bool  // set once the handshake succeeded, guarded by lock
}

// New connects to address and, when options carry a handshake secret, authenticates.
// A rejected handshake fails with an *rpcerror.AuthenticationError and no client is
// returned. options may be nil.
func New(ctx context.Context, parentLogger logger.Logger, address string, options *Options) (*Client, error) {
	if options == nil {
		options = &Options{}
	}

	sessionID := xid.New().String()
	clientLogger := parentLogger.GetChild("client")

	clientTransport, err := transport.Dial(ctx, clientLogger, address, options.DialTimeout)
	if err != nil {
		return nil, err
	}

	newClient := &Client{
		logger:    clientLogger,
		sessionID: sessionID,
		transport: clientTransport,
		codec:     codec.GetCodec(options.Codec),
		callbacks: callback.NewRegistry(),
	}

	middlewares := append([]middleware.Middleware{}, options.Middlewares...)
	if options.CallTimeout > 0 {
		middlewares = append(middlewares, middleware.TimeoutMiddleware(options.CallTimeout))
	}
	newClient.handler = middleware.Chain(middlewares...)(newClient.roundTrip)

	newClient.logger.DebugWith("Session opened",
		"session", sessionID,
		"address", address,
		"codec", options.Codec.String())

	if options.Handshake != "" {
		if err := newClient.Authenticate(ctx, options.Handshake); err != nil {
			newClient.Close() // nolint: errcheck
			return nil, err
		}
	}

	return newClient, nil
}

// Discover finds the instances advertised under service, lets balancer pick one and
// connects to it
func Discover(ctx context.Context,
	parentLogger logger.Logger,
	reg registry.Registry,
	balancer loadbalance.Balancer,
	service string,
	options *Options) (*Client, error) {

	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to discover %s", service)
	}

	instance, err := balancer.Pick(instances)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to pick an instance of %s", service)
	}

	parentLogger.DebugWith("Picked facade", "service", service, "address", instance.Addr, "candidates", len(instances))

	return New(ctx, parentLogger, instance.Addr, options)
}

// Call invokes method with positional args and returns the raw result, JSON null when
// the method returns nothing. A facade-reported failure is an *rpcerror.RemoteError.
func (c *Client) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.usable(); err != nil {
		return nil, err
	}

	return c.handler(ctx, &message.Request{
		ID:     c.nextRequestID + 1,
		Method: method,
		Params: args,
	})
}

// CallInto is Call followed by decoding the result into reply
func (c *Client) CallInto(ctx context.Context, reply any, method string, args ...any) error {
	result, err := c.Call(ctx, method, args...)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(result, reply); err != nil {
		return &rpcerror.DecodingError{Line: result, Err: errors.Wrapf(err, "Failed to decode %s result", method)}
	}

	return nil
}

// Method binds name, so c.Method("makeToast")(ctx, "hi") is c.Call(ctx, "makeToast", "hi")
func (c *Client) Method(name string) MethodFunc {
	return func(ctx context.Context, args ...any) (json.RawMessage, error) {
		return c.Call(ctx, name, args...)
	}
}

// Authenticate presents secret to the facade. On rejection the client is closed and
// every later operation fails with the returned *rpcerror.AuthenticationError. Once a
// handshake succeeded, later calls return nil without sending anything since the
// facade only checks the first request of a session.
func (c *Client) Authenticate(ctx context.Context, secret string) error {
	c.lock.Lock()
	authenticated := c.authenticated
	c.lock.Unlock()

	if authenticated {
		c.logger.DebugWith("Already authenticated", "session", c.sessionID)
		return nil
	}

	result, err := c.Call(ctx, message.MethodAuthenticate, secret)
	if err == nil && string(result) == "false" {
		err = &rpcerror.RemoteError{Method: message.MethodAuthenticate, Payload: result}
	}

	if err == nil {
		c.lock.Lock()
		c.authenticated = true
		c.lock.Unlock()

		c.logger.DebugWith("Authenticated", "session", c.sessionID)
		return nil
	}

	remoteErr, ok := rpcerror.AsRemoteError(err)
	if !ok {
		return err
	}

	authErr := &rpcerror.AuthenticationError{Err: remoteErr}

	c.lock.Lock()
	c.authErr = authErr
	c.lock.Unlock()

	c.logger.WarnWith("Handshake rejected", "session", c.sessionID, "reason", remoteErr.Message())
	c.transport.Close() // nolint: errcheck

	return authErr
}

// RegisterCallback registers handler for event and tells the facade its id. The
// handler stays registered locally even if the notice could not be sent.
func (c *Client) RegisterCallback(ctx context.Context, event string, handler callback.Handler) (int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.usable(); err != nil {
		return 0, err
	}

	id, err := c.callbacks.Register(event, handler)
	if err != nil {
		return 0, err
	}

	line, err := codec.EncodeRegistration(c.codec, &message.CallbackRegistration{
		Event: event,
		ID:    id,
	})
	if err != nil {
		return id, err
	}

	if err := c.transport.SendLine(ctx, line); err != nil {
		return id, err
	}

	c.logger.DebugWith("Callback registered", "session", c.sessionID, "event", event, "id", id)
	return id, nil
}

// DispatchCallback runs the handler registered under id with data
func (c *Client) DispatchCallback(id int, data json.RawMessage) error {
	return c.callbacks.Dispatch(id, data)
}

// WaitForCallback blocks until the facade pushes one callback invocation and
// dispatches it. Only callbacks may arrive while no call is in flight; a response line
// is an *rpcerror.DecodingError.
func (c *Client) WaitForCallback(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.usable(); err != nil {
		return err
	}

	line, err := c.transport.ReadLine(ctx)
	if err != nil {
		return err
	}

	inbound, err := codec.DecodeInbound(c.codec, line)
	if err != nil {
		return err
	}

	if inbound.Kind != message.KindCallback {
		return &rpcerror.DecodingError{Line: line, Err: errors.New("Response received with no call in flight")}
	}

	return c.callbacks.Dispatch(inbound.Callback.ID, inbound.Callback.Data)
}

// Dismiss asks the facade to end the session and closes the client without waiting
// for an answer
func (c *Client) Dismiss(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.usable(); err != nil {
		return err
	}

	line, err := codec.EncodeRequest(c.codec, c.nextRequestID+1, message.MethodDismiss, nil)
	if err != nil {
		return err
	}
	c.nextRequestID++

	sendErr := c.transport.SendLine(ctx, line)
	closeErr := c.transport.Close()

	c.logger.DebugWith("Session dismissed", "session", c.sessionID)

	if sendErr != nil {
		return sendErr
	}

	return closeErr
}

// Close releases the connection. Calling it more than once is harmless.
func (c *Client) Close() error {
	return c.transport.Close()
}

// SessionID returns the id this client labels its logs with
func (c *Client) SessionID() string {
	return c.sessionID
}

// Address returns the facade's address
func (c *Client) Address() string {
	return c.transport.Address()
}

// LastRequestID returns the id of the last request put on the wire, 0 before the first
func (c *Client) LastRequestID() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.nextRequestID
}

// Callbacks returns the number of registered callback handlers
func (c *Client) Callbacks() int {
	return c.callbacks.Len()
}

// roundTrip is the innermost handler of the chain: encode, send, await the response
func (c *Client) roundTrip(ctx context.Context, request *message.Request) (json.RawMessage, error) {
	line, err := codec.EncodeRequest(c.codec, request.ID, request.Method, request.Params)
	if err != nil {
		return nil, err
	}

	// the id is spent once the request is encoded, whatever happens on the wire
	c.nextRequestID = request.ID

	if err := c.transport.SendLine(ctx, line); err != nil {
		return nil, err
	}

	response, line, err := c.awaitResponse(ctx)
	if err != nil {
		return nil, err
	}

	if response.ID != nil && *response.ID != request.ID {
		return nil, &rpcerror.DecodingError{
			Line: line,
			Err:  errors.Errorf("Response id %d does not match request id %d", *response.ID, request.ID),
		}
	}

	return codec.Result(request.Method, response)
}

// awaitResponse reads until a response arrives, dispatching callbacks on the way
func (c *Client) awaitResponse(ctx context.Context) (*message.Response, []byte, error) {
	for {
		line, err := c.transport.ReadLine(ctx)
		if err != nil {
			return nil, nil, err
		}

		inbound, err := codec.DecodeInbound(c.codec, line)
		if err != nil {
			return nil, nil, err
		}

		if inbound.Kind == message.KindResponse {
			return inbound.Response, line, nil
		}

		if err := c.callbacks.Dispatch(inbound.Callback.ID, inbound.Callback.Data); err != nil {
			c.logger.WarnWith("Skipping callback for unknown id",
				"session", c.sessionID,
				"id", inbound.Callback.ID,
				"err", err.Error())
		}
	}
}

// must be called with the lock held
func (c *Client) usable() error {
	if c.authErr != nil {
		return c.authErr
	}

	if c.transport.Closed() {
		return &rpcerror.TransportError{Op: "write", Err: transport.ErrClosed}
	}

	return nil
}
