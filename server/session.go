package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"sl4a-rpc/codec"
	"sl4a-rpc/message"
	"sl4a-rpc/protocol"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/rs/xid"
)

type sessionContextKey struct{}

// Session is the facade side of one client connection. It records the client's
// callback registrations and pushes callback invocations back over the connection.
type Session struct {
	logger        logger.Logger
	id            string
	conn          net.Conn
	codec         codec.Codec
	writeLock     sync.Mutex // responses and invocations may come from different goroutines
	lock          sync.Mutex
	registrations []message.CallbackRegistration
	authenticated bool
	closed        atomic.Bool
}

func newSession(parentLogger logger.Logger, conn net.Conn, sessionCodec codec.Codec) *Session {
	id := xid.New().String()

	return &Session{
		logger: parentLogger.GetChild(id),
		id:     id,
		conn:   conn,
		codec:  sessionCodec,
	}
}

// SessionFromContext returns the session a method is being called on, or nil outside
// of a method call
func SessionFromContext(ctx context.Context) *Session {
	session, _ := ctx.Value(sessionContextKey{}).(*Session)
	return session
}

func (s *Session) ID() string {
	return s.id
}

// Registrations returns the callback registrations received so far, in arrival order
func (s *Session) Registrations() []message.CallbackRegistration {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]message.CallbackRegistration(nil), s.registrations...)
}

// Emit sends data to every callback the client registered for event and returns how
// many invocations were written
func (s *Session) Emit(event string, data any) (int, error) {
	emitted := 0

	for _, registration := range s.Registrations() {
		if registration.Event != event {
			continue
		}

		line, err := codec.EncodeInvocation(s.codec, registration.ID, data)
		if err != nil {
			return emitted, errors.Wrapf(err, "Failed to encode %s event", event)
		}

		if err := s.writeLine(line); err != nil {
			return emitted, errors.Wrapf(err, "Failed to emit %s event", event)
		}

		emitted++
	}

	s.logger.DebugWith("Emitted event", "event", event, "invocations", emitted)
	return emitted, nil
}

// Close drops the connection
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	return s.conn.Close()
}

func (s *Session) register(registration message.CallbackRegistration) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.registrations = append(s.registrations, registration)
}

func (s *Session) respond(id int64, result any, failure any) error {
	line, err := codec.EncodeResponse(s.codec, id, result, failure)
	if err != nil {

		// the result could not be rendered, the caller still gets an answer
		line, err = codec.EncodeResponse(s.codec, id, nil, err.Error())
		if err != nil {
			return err
		}
	}

	return s.writeLine(line)
}

func (s *Session) writeLine(line []byte) error {
	if s.closed.Load() {
		return errors.New("Session is closed")
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	return protocol.Encode(s.conn, line)
}
