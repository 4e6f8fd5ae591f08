// Package transport implements the client side of the facade connection: one TCP stream,
// one line out, one line in, no pipelining.
//
// Blocking operations take a context. A context deadline becomes the socket deadline and
// a cancelled context unblocks a pending read or write, so a stalled facade never hangs
// a caller that asked for a bound. Without a deadline the caller blocks until the
// facade answers or the connection drops.
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"sl4a-rpc/protocol"
	"sl4a-rpc/rpcerror"

	"github.com/nuclio/logger"
)

// ErrClosed is the cause of a TransportError raised on a closed transport
var ErrClosed = errors.New("transport closed")

// a deadline in the past makes every blocked socket call return immediately
var aLongTimeAgo = time.Unix(1, 0)

// ClientTransport owns a single connection to the facade.
type ClientTransport struct {
	logger  logger.Logger
	conn    net.Conn      // Underlying stream, exclusively owned
	reader  *bufio.Reader // Buffered reader, so one Read never splits a line across calls
	address string
	closed  atomic.Bool

	// start of a line whose read was cut short by a deadline, resumed by the next read
	partial []byte
}

// Dial opens a TCP connection to address. timeout bounds the connect only; zero means
// no bound beyond ctx.
func Dial(ctx context.Context, parentLogger logger.Logger, address string, timeout time.Duration) (*ClientTransport, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &rpcerror.ConnectionError{Address: address, Err: err}
	}

	return NewClientTransport(parentLogger, conn), nil
}

// NewClientTransport wraps an established connection
func NewClientTransport(parentLogger logger.Logger, conn net.Conn) *ClientTransport {
	transport := &ClientTransport{
		logger:  parentLogger.GetChild("transport"),
		conn:    conn,
		reader:  bufio.NewReader(conn),
		address: conn.RemoteAddr().String(),
	}

	transport.logger.DebugWith("Connected", "address", transport.address)
	return transport
}

// SendLine writes line followed by a newline. The frame goes out in a single write
// with no user-space buffering, so it is flushed when SendLine returns.
func (t *ClientTransport) SendLine(ctx context.Context, line []byte) error {
	if t.closed.Load() {
		return &rpcerror.TransportError{Op: "write", Err: ErrClosed}
	}

	stop := watchContext(ctx, t.conn.SetWriteDeadline)
	err := protocol.Encode(t.conn, line)
	ctxErr := stop()

	if err != nil {
		return t.classify("write", err, ctxErr)
	}

	t.logger.DebugWith("Sent line", "size", len(line))
	return nil
}

// ReadLine blocks until one full line arrives and returns it without the newline.
// A line interrupted by a timeout is kept and completed by the next ReadLine, so the
// stream stays in step. ReadLine must not be called concurrently.
func (t *ClientTransport) ReadLine(ctx context.Context) ([]byte, error) {
	if t.closed.Load() {
		return nil, &rpcerror.TransportError{Op: "read", Err: ErrClosed}
	}

	stop := watchContext(ctx, t.conn.SetReadDeadline)
	line, err := protocol.Decode(t.reader)
	ctxErr := stop()

	if len(t.partial) > 0 {
		line = append(t.partial, line...)
		t.partial = nil
	}

	if err != nil {
		if len(line) > 0 && len(line) <= protocol.MaxLineSize {
			t.partial = line
		}

		return nil, t.classify("read", err, ctxErr)
	}

	if len(line) > protocol.MaxLineSize {
		return nil, &rpcerror.TransportError{Op: "read", Err: protocol.ErrLineTooLong}
	}

	t.logger.DebugWith("Received line", "size", len(line))
	return line, nil
}

// Close releases the connection. Calling it more than once is harmless.
func (t *ClientTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	t.logger.DebugWith("Closing", "address", t.address)
	return t.conn.Close()
}

// Closed reports whether Close was called
func (t *ClientTransport) Closed() bool {
	return t.closed.Load()
}

// Address returns the remote address of the connection
func (t *ClientTransport) Address() string {
	return t.address
}

// Conn returns the underlying connection
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

func (t *ClientTransport) classify(op string, err error, ctxErr error) error {
	if ctxErr != nil {
		return &rpcerror.TimeoutError{Op: op, Err: ctxErr}
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return &rpcerror.TimeoutError{Op: op, Err: err}
	}

	// Close from another goroutine surfaces as net.ErrClosed
	if t.closed.Load() && errors.Is(err, net.ErrClosed) {
		err = ErrClosed
	}

	if errors.Is(err, io.EOF) {
		t.logger.DebugWith("Facade closed the connection", "address", t.address)
	}

	return &rpcerror.TransportError{Op: op, Err: err}
}

// watchContext applies ctx's deadline through setDeadline and, until the returned stop
// function is called, forces the deadline into the past when ctx is cancelled. stop
// clears the deadline and returns ctx.Err().
func watchContext(ctx context.Context, setDeadline func(time.Time) error) func() error {
	if deadline, ok := ctx.Deadline(); ok {
		setDeadline(deadline) // nolint: errcheck
	}

	if ctx.Done() == nil {
		return func() error {
			setDeadline(time.Time{}) // nolint: errcheck
			return nil
		}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			setDeadline(aLongTimeAgo) // nolint: errcheck
		case <-done:
		}
	}()

	return func() error {
		close(done)
		<-finished
		setDeadline(time.Time{}) // nolint: errcheck
		return ctx.Err()
	}
}
