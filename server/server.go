// Package server implements a reference automation facade: it accepts client
// connections, enforces the handshake, dispatches requests to registered methods and
// pushes callback invocations for the events clients registered for.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection, requests handled in order)
//	  → DecodeOutbound → handshake / builtin / registration
//	    → Middleware Chain → dispatch (method lookup) → EncodeResponse → write line
//
// The wire protocol has a single outstanding request per connection, so a connection
// never has more than one request in flight. Callback invocations may be emitted from
// any goroutine and share the session's write lock with responses.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"sl4a-rpc/codec"
	"sl4a-rpc/message"
	"sl4a-rpc/middleware"
	"sl4a-rpc/protocol"
	"sl4a-rpc/registry"
	"sl4a-rpc/rpcerror"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

const (
	DefaultServiceName = "sl4a"
	DefaultTTL         = 10

	authenticationFailed = "Authentication failed!"
	unknownMethod        = "Unknown RPC."
)

// a read deadline in the past unblocks an idle session's read
var aLongTimeAgo = time.Unix(1, 0)

type Options struct {

	// Name the server advertises itself under in the registry
	Name string

	// Secret the first request of every connection must present through _authenticate.
	// Empty disables the handshake.
	Handshake string

	Codec codec.CodecType

	// Registry lease TTL in seconds
	TTL int64
}

// Server is the facade server
type Server struct {
	logger        logger.Logger
	options       Options
	codec         codec.Codec
	ready         chan struct{} // Closed once Serve has tried to listen
	readyOnce     sync.Once
	wg            sync.WaitGroup // Tracks open sessions for graceful shutdown
	shutdown      atomic.Bool    // Set during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware
	handler       middleware.HandlerFunc // middleware(middleware(...(dispatch)))
	ctx           context.Context        // Base context of method calls, cancelled on forced shutdown
	cancel        context.CancelFunc
	lock          sync.RWMutex
	methods       map[string]MethodFunc
	listener      net.Listener
	registry      registry.Registry // nil when not using discovery
	advertiseAddr string
	sessionsLock  sync.Mutex
	sessions      map[*Session]struct{}
}

// NewServer creates a server with no methods. options may be nil.
func NewServer(parentLogger logger.Logger, options *Options) *Server {
	if options == nil {
		options = &Options{}
	}

	resolvedOptions := *options
	if resolvedOptions.Name == "" {
		resolvedOptions.Name = DefaultServiceName
	}

	if resolvedOptions.TTL <= 0 {
		resolvedOptions.TTL = DefaultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		logger:   parentLogger.GetChild("server"),
		options:  resolvedOptions,
		codec:    codec.GetCodec(resolvedOptions.Codec),
		ready:    make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		methods:  map[string]MethodFunc{},
		sessions: map[*Session]struct{}{},
	}
}

// Register exposes every method of rcvr shaped like MethodFunc
func (svr *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return errors.Wrap(err, "Failed to create service")
	}

	for _, name := range svc.names() {
		if err := svr.RegisterFunc(name, svc.methods[name]); err != nil {
			return errors.Wrapf(err, "Failed to register %s.%s", svc.name, name)
		}
	}

	svr.logger.DebugWith("Registered service", "service", svc.name, "methods", svc.names())
	return nil
}

// RegisterFunc exposes fn under name, replacing any method already registered under it
func (svr *Server) RegisterFunc(name string, fn MethodFunc) error {
	switch {
	case name == "":
		return errors.New("Method name must not be empty")
	case fn == nil:
		return errors.Errorf("Method %s has no implementation", name)
	case name == message.MethodAuthenticate || name == message.MethodDismiss:
		return errors.Errorf("Method name %s is reserved", name)
	}

	svr.lock.Lock()
	defer svr.lock.Unlock()

	svr.methods[name] = fn
	return nil
}

// Methods returns the names of all registered methods
func (svr *Server) Methods() []string {
	svr.lock.RLock()
	defer svr.lock.RUnlock()

	names := make([]string, 0, len(svr.methods))
	for name := range svr.methods {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// Use registers a middleware around method dispatch. Middlewares apply in the order
// they are added and must be added before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address, advertises the server in reg (when not nil) and accepts
// connections until Shutdown. advertiseAddr is the routable address put in the
// registry; empty means the listener's own address.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		svr.markReady()
		return errors.Wrapf(err, "Failed to listen on %s", address)
	}

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}

	// build the chain once, not per request
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	svr.lock.Lock()
	svr.listener = listener
	svr.advertiseAddr = advertiseAddr
	svr.lock.Unlock()

	// Addr returns only once the server is discoverable
	if reg != nil {
		if err := svr.advertise(reg); err != nil {
			svr.lock.Lock()
			svr.listener = nil
			svr.lock.Unlock()
			svr.markReady()

			listener.Close() // nolint: errcheck
			return errors.Wrap(err, "Failed to advertise server")
		}
	}
	svr.markReady()

	svr.logger.InfoWith("Serving",
		"address", listener.Addr().String(),
		"advertise", advertiseAddr,
		"handshake", svr.options.Handshake != "",
		"codec", svr.options.Codec.String())

	for {
		conn, err := listener.Accept()
		if err != nil {

			// Shutdown closes the listener, which is not a failure
			if svr.shutdown.Load() {
				return nil
			}

			return errors.Wrap(err, "Failed to accept connection")
		}

		svr.wg.Add(1)
		go svr.handleConn(svr.track(conn))
	}
}

// Addr blocks until Serve has tried to listen and returns the listening address, or
// nil if listening failed
func (svr *Server) Addr() net.Addr {
	<-svr.ready

	svr.lock.RLock()
	defer svr.lock.RUnlock()

	if svr.listener == nil {
		return nil
	}

	return svr.listener.Addr()
}

// Sessions returns the currently connected sessions
func (svr *Server) Sessions() []*Session {
	svr.sessionsLock.Lock()
	defer svr.sessionsLock.Unlock()

	sessions := make([]*Session, 0, len(svr.sessions))
	for session := range svr.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// Emit pushes an event to every connected session
func (svr *Server) Emit(event string, data any) int {
	emitted := 0
	for _, session := range svr.Sessions() {
		count, err := session.Emit(event, data)
		if err != nil {
			session.logger.WarnWith("Failed to emit event", "event", event, "err", err.Error())
		}
		emitted += count
	}

	return emitted
}

// Shutdown performs graceful shutdown:
//  1. Withdraw the registry entry so clients stop picking this server
//  2. Close the listener
//  3. Let every session finish the request it is handling, then close it
//  4. Wait for sessions to end, forcing them closed once timeout elapses
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.lock.RLock()
	listener := svr.listener
	reg := svr.registry
	advertiseAddr := svr.advertiseAddr
	svr.lock.RUnlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := reg.Deregister(ctx, svr.options.Name, advertiseAddr); err != nil {
			svr.logger.WarnWith("Failed to deregister", "err", err.Error())
		}
		cancel()
	}

	// the flag goes up before the listener closes so Serve sees an intentional close
	svr.shutdown.Store(true)
	if listener != nil {
		listener.Close() // nolint: errcheck
	}

	for _, session := range svr.Sessions() {
		session.conn.SetReadDeadline(aLongTimeAgo) // nolint: errcheck
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		svr.logger.InfoWith("Shut down")
		return nil
	case <-time.After(timeout):
		svr.cancel()
		for _, session := range svr.Sessions() {
			session.Close() // nolint: errcheck
		}

		return errors.Errorf("Timed out after %s waiting for sessions to finish", timeout)
	}
}

func (svr *Server) markReady() {
	svr.readyOnce.Do(func() {
		close(svr.ready)
	})
}

func (svr *Server) advertise(reg registry.Registry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	svr.lock.Lock()
	svr.registry = reg
	advertiseAddr := svr.advertiseAddr
	svr.lock.Unlock()

	return reg.Register(ctx, svr.options.Name, registry.ServiceInstance{
		Addr: advertiseAddr,
		Metadata: map[string]string{
			"codec":     svr.options.Codec.String(),
			"handshake": fmt.Sprintf("%t", svr.options.Handshake != ""),
		},
	}, svr.options.TTL)
}

// track opens a session for conn and adds it to the session set. A session added after
// Shutdown swept the set is unblocked here instead.
func (svr *Server) track(conn net.Conn) *Session {
	session := newSession(svr.logger, conn, svr.codec)

	svr.sessionsLock.Lock()
	svr.sessions[session] = struct{}{}
	svr.sessionsLock.Unlock()

	if svr.shutdown.Load() {
		conn.SetReadDeadline(aLongTimeAgo) // nolint: errcheck
	}

	return session
}

// handleConn serves one session until the client leaves, dismisses the session,
// fails the handshake or sends something that is not an envelope
func (svr *Server) handleConn(session *Session) {
	defer svr.wg.Done()
	defer session.Close() // nolint: errcheck

	conn := session.conn

	defer func() {
		svr.sessionsLock.Lock()
		delete(svr.sessions, session)
		svr.sessionsLock.Unlock()
	}()

	session.logger.DebugWith("Session started", "remote", conn.RemoteAddr().String())

	reader := bufio.NewReader(conn)
	for {
		line, err := protocol.Decode(reader)
		if err != nil {
			if err != io.EOF && !svr.shutdown.Load() {
				session.logger.DebugWith("Session read failed", "err", err.Error())
			}
			break
		}

		if len(line) == 0 {
			continue
		}

		outbound, err := codec.DecodeOutbound(svr.codec, line)
		if err != nil {
			session.logger.WarnWith("Closing session on malformed line", "err", err.Error())
			break
		}

		if outbound.Registration != nil {
			if svr.options.Handshake != "" && !session.authenticated {
				session.logger.WarnWith("Closing unauthenticated session on callback registration")
				break
			}

			session.register(*outbound.Registration)
			session.logger.DebugWith("Callback registered",
				"event", outbound.Registration.Event,
				"id", outbound.Registration.ID)
			continue
		}

		if !svr.serveRequest(session, outbound.Request) {
			break
		}
	}

	session.logger.DebugWith("Session ended")
}

// serveRequest answers one request and reports whether the session stays open
func (svr *Server) serveRequest(session *Session, request *message.RawRequest) bool {

	// the first request must authenticate when a handshake is configured
	if svr.options.Handshake != "" && !session.authenticated {
		if !svr.checkHandshake(request) {
			session.logger.WarnWith("Authentication failed", "method", request.Method)
			session.respond(request.ID, nil, authenticationFailed) // nolint: errcheck
			return false
		}

		session.authenticated = true
		return session.respond(request.ID, true, nil) == nil
	}

	if request.Method == message.MethodDismiss {
		session.logger.DebugWith("Session dismissed")
		return false
	}

	params := make([]any, len(request.Params))
	for index, param := range request.Params {
		params[index] = param
	}

	ctx := context.WithValue(svr.ctx, sessionContextKey{}, session)
	result, err := svr.handler(ctx, &message.Request{
		ID:     request.ID,
		Method: request.Method,
		Params: params,
	})

	var failure any
	if err != nil {
		failure = errorPayload(err)
		result = nil
	}

	if err := session.respond(request.ID, result, failure); err != nil {
		session.logger.WarnWith("Failed to send response", "id", request.ID, "err", err.Error())
		return false
	}

	return true
}

func (svr *Server) checkHandshake(request *message.RawRequest) bool {
	if request.Method != message.MethodAuthenticate || len(request.Params) == 0 {
		return false
	}

	var secret string
	if err := json.Unmarshal(request.Params[0], &secret); err != nil {
		return false
	}

	return secret == svr.options.Handshake
}

// dispatch is the innermost handler of the chain: it looks the method up and runs it
func (svr *Server) dispatch(ctx context.Context, request *message.Request) (result json.RawMessage, err error) {
	svr.lock.RLock()
	method, found := svr.methods[request.Method]
	svr.lock.RUnlock()

	if !found {
		return nil, errors.New(unknownMethod)
	}

	params := make([]json.RawMessage, len(request.Params))
	for index, param := range request.Params {
		params[index], _ = param.(json.RawMessage)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			svr.logger.ErrorWith("Method panicked", "method", request.Method, "panic", fmt.Sprint(recovered))
			result, err = nil, errors.Errorf("%s panicked: %v", request.Method, recovered)
		}
	}()

	value, err := method(ctx, params)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to encode %s result", request.Method)
	}

	return encoded, nil
}

// errorPayload renders err as the "error" member. A method may return a RemoteError to
// control the payload exactly.
func errorPayload(err error) any {
	if remoteErr, ok := rpcerror.AsRemoteError(err); ok {
		return remoteErr.Payload
	}

	return err.Error()
}
