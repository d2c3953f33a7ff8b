// Package asynctcpclient provides a callback-driven TCP client engine. A
// request names a host (literal address, unix socket path, or DNS name), an
// ordered list of write payloads, and a completion callback; the engine
// resolves the address if needed, connects, drains the writes, and runs the
// read according to the request's read discipline. It works in partial or
// complete modes:
//
//   - partial mode invokes the callback for every chunk of data as it arrives
//   - complete mode invokes the callback once, when the stop pattern matches
//     or the peer closes the connection
//
// Callbacks receive the connection handle and may chain further operations
// on it or close it. All operations on one connection run strictly in order
// on a single goroutine; the connection is torn down exactly once, when its
// last strong reference is released.
package asynctcpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-async-tcp/addressresolver"
	"github.com/cyberinferno/go-async-tcp/asyncsession"
	"github.com/cyberinferno/go-async-tcp/logger"
)

// DefaultTimeout is the per-attempt I/O timeout used when Request.Timeout
// is zero.
const DefaultTimeout = 5 * time.Second

// Errors surfaced to completion callbacks or returned from handle methods.
var (
	// ErrTimeout reports that the deadline expired while waiting for the
	// active operation to make progress.
	ErrTimeout = errors.New("IO timeout")

	// ErrConnTerminated reports that the peer closed the connection before
	// any data arrived for the active read.
	ErrConnTerminated = errors.New("IO read error: connection terminated")

	// ErrReadPastEOF reports a read queued after the peer already closed,
	// with no buffered bytes left to satisfy it.
	ErrReadPastEOF = errors.New("EOF, cannot read more data")

	// ErrClosed reports an operation on a connection that is being or has
	// been torn down.
	ErrClosed = errors.New("connection is closed")
)

// Callback is the completion callback for one operation. Exactly one of err
// and data is meaningful: err is non-nil for a failed operation, data is
// non-nil for a delivered payload (writes complete with both nil). The conn
// handle may be used to chain further operations or to close the connection.
// Callbacks run on the connection's goroutine; they must not block
// indefinitely and are invoked at most once per operation (once per chunk in
// partial mode). Panics in callbacks are the caller's to recover.
type Callback func(err error, data []byte, conn *Conn)

// ConnectCallback is invoked once when the connection is established,
// before the first queued operation runs.
type ConnectCallback func(conn *Conn)

// Request describes one TCP request. Host and Callback are required; the
// zero value of every other field is usable.
type Request struct {
	// Host is a literal IP address, a unix socket path, or a DNS name.
	Host string
	// Port is the remote TCP port; 0 selects a unix-domain socket.
	Port int
	// Data holds the scatter write payloads, written in order before any read.
	Data []Payload
	// Callback receives the completion of the read (or of the write when
	// WriteOnly is set).
	Callback Callback
	// OnConnect, if non-nil, is invoked once on connection establishment.
	OnConnect ConnectCallback
	// Timeout bounds each I/O attempt; 0 means DefaultTimeout.
	Timeout time.Duration
	// Partial delivers every received chunk through Callback as it arrives
	// instead of buffering until a boundary.
	Partial bool
	// StopPattern frames the read: the callback receives the bytes before
	// the first occurrence. Nil means read until the peer closes.
	StopPattern []byte
	// Shutdown half-closes the write side of the socket after the last
	// write completes.
	Shutdown bool
	// WriteOnly skips the read; Callback fires once the write completes.
	WriteOnly bool
	// Resolver resolves non-literal hosts. Required when Host is a name.
	Resolver addressresolver.Resolver
	// Session, if non-nil, mediates connection teardown.
	Session *asyncsession.Session
	// Logger receives engine log entries; nil disables logging.
	Logger logger.Logger
}

// connIDs numbers connections for log correlation.
var connIDs atomic.Uint64

// Conn is the handle for one TCP connection driven by the engine. Callbacks
// receive it and may chain operations or close it; the handle methods are
// safe for concurrent use, though AddWrite and AddRead are intended to be
// called from callbacks, before the operation queue empties.
type Conn struct {
	id   uint64
	host string
	port int
	log  logger.Logger

	refs         atomic.Int64
	closed       atomic.Bool
	finalizeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu                 sync.Mutex
	sock               net.Conn
	timeout            time.Duration
	shutdownAfterWrite bool
	connected          bool
	finalized          bool
	dtors              []func()

	queue operationQueue

	// Engine-goroutine state: the accumulation buffer, the scratch buffer,
	// and the read-side EOF flags are only touched between Do and teardown
	// by the connection goroutine.
	partial          bool
	in               []byte
	eof              bool
	partialDelivered bool
	scratch          []byte

	resolver  addressresolver.Resolver
	session   *asyncsession.Session
	event     *asyncsession.Event
	watcher   *asyncsession.Watcher
	onConnect ConnectCallback
}

// Do validates and starts a TCP request. Argument errors are returned
// synchronously and create no connection; once Do returns a handle, every
// further result arrives through the request's callbacks.
//
// Parameters:
//   - req: The request to execute
//
// Returns:
//   - The connection handle, or an error when the request is malformed
func Do(req Request) (*Conn, error) {
	if req.Host == "" {
		return nil, errors.New("tcp request has bad params: host is required")
	}

	if req.Callback == nil {
		return nil, errors.New("tcp request has bad params: callback is required")
	}

	target, literal := addressresolver.ParseLiteral(req.Host, req.Port)
	if !literal && req.Resolver == nil {
		return nil, errors.New("tcp request has bad params: resolver is required for non-literal hosts")
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	log := req.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:                 connIDs.Add(1),
		host:               req.Host,
		port:               req.Port,
		timeout:            timeout,
		partial:            req.Partial,
		shutdownAfterWrite: req.Shutdown,
		resolver:           req.Resolver,
		session:            req.Session,
		onConnect:          req.OnConnect,
		ctx:                ctx,
		cancel:             cancel,
	}
	c.log = log.With(logger.Field{Key: "conn_id", Value: c.id})

	if len(req.Data) > 0 {
		var writeCb Callback
		if req.WriteOnly {
			writeCb = req.Callback
		}

		op, err := newWriteOperation(c, req.Data, writeCb)
		if err != nil {
			c.abortSetup()
			return nil, fmt.Errorf("tcp request has bad data argument: %w", err)
		}

		c.queue.push(op)
	}

	if !req.WriteOnly {
		c.queue.push(&operation{
			kind:        operationRead,
			stopPattern: req.StopPattern,
			cb:          req.Callback,
		})
	}

	if c.queue.len() == 0 {
		c.abortSetup()
		return nil, errors.New("tcp request has bad params: nothing to write and read is disabled")
	}

	c.refs.Store(1) // work in flight

	if req.Session != nil {
		c.watcher = req.Session.Watcher()
		c.watcher.Push()
		c.event = req.Session.AddEvent("tcp request", c.watcher, c.finalize)
		if c.event == nil {
			c.watcher.Pop()
			c.abortSetup()
			return nil, errors.New("tcp request has bad params: session is destroyed")
		}
	}

	go c.run(target, !literal)

	return c, nil
}

// abortSetup releases resources taken before an argument error, including
// release functions of owned payloads already registered.
func (c *Conn) abortSetup() {
	c.cancel()

	c.mu.Lock()
	dtors := c.dtors
	c.dtors = nil
	c.finalized = true
	c.mu.Unlock()

	for _, fn := range dtors {
		fn()
	}
}

// ID returns the connection's identifier, as used in log entries.
//
// Returns:
//   - The numeric connection ID
func (c *Conn) ID() uint64 {
	return c.id
}

// IsConnected reports whether the connection has been established and not
// yet torn down.
//
// Returns:
//   - true while the socket is open
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.sock != nil
}

// SetTimeout replaces the per-attempt I/O timeout for subsequent operations.
//
// Parameters:
//   - d: The new timeout; 0 or negative disables the deadline
func (c *Conn) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// AddWrite queues another scatter write on the connection. Intended for use
// from a callback, to chain operations before the queue empties.
//
// Parameters:
//   - data: The payloads to write, in order
//   - cb: Optional completion callback; nil makes the write fire-and-forget
//
// Returns:
//   - ErrClosed after teardown has begun, or an argument error
func (c *Conn) AddWrite(data []Payload, cb Callback) error {
	if c.closed.Load() {
		return ErrClosed
	}

	op, err := newWriteOperation(c, data, cb)
	if err != nil {
		return err
	}

	if !c.queue.push(op) {
		return ErrClosed
	}

	return nil
}

// AddRead queues another read on the connection. Intended for use from a
// callback, to chain operations before the queue empties; leftover bytes
// from a previous stop-pattern read satisfy the new operation first.
//
// Parameters:
//   - stopPattern: Byte sequence framing the read; nil reads until close
//   - cb: The completion callback (required)
//
// Returns:
//   - ErrClosed after teardown has begun, or an argument error
func (c *Conn) AddRead(stopPattern []byte, cb Callback) error {
	if c.closed.Load() {
		return ErrClosed
	}

	if cb == nil {
		return errors.New("read requires a callback")
	}

	if !c.queue.push(&operation{kind: operationRead, stopPattern: stopPattern, cb: cb}) {
		return ErrClosed
	}

	return nil
}

// run is the connection goroutine: resolve, connect, then execute queued
// operations until the queue empties or the connection is closed. The loop
// re-evaluates the queue head after every completion, so completions that
// need no socket I/O (leftover-satisfied reads) resolve back to back.
func (c *Conn) run(target addressresolver.Target, needsResolve bool) {
	defer c.release() // the work-in-flight reference

	if needsResolve {
		resolved, err := c.resolve()
		if c.isClosed() {
			// The reply arrived after close; the target is already being
			// torn down and the reply is discarded.
			return
		}

		if err != nil {
			c.failHead(err)
			return
		}

		target = resolved
	}

	sock, err := c.dial(target)
	if err != nil {
		if c.isClosed() {
			return
		}

		c.failHead(fmt.Errorf("cannot connect to %s: %w", target.Address, err))
		return
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = sock.Close()
		return
	}
	c.sock = sock
	c.connected = true
	c.mu.Unlock()

	c.log.Info("connected",
		logger.Field{Key: "network", Value: target.Network},
		logger.Field{Key: "address", Value: target.Address})

	if c.onConnect != nil {
		c.retain()
		c.onConnect(c)
		c.release()
	}

	for {
		if c.isClosed() {
			return
		}

		op, ok := c.queue.headOrClose()
		if !ok {
			// Normal termination: the queue emptied and closed itself to
			// further pushes, so the deferred release below can drop the
			// work reference without racing an enqueue.
			c.log.Debug("operation queue drained")
			return
		}

		switch op.kind {
		case operationWrite:
			c.execWrite(op)
		case operationRead:
			c.execRead(op)
		}
	}
}

// resolve performs the one-shot A lookup, holding a reference on the
// connection while the reply is outstanding. The first address wins.
func (c *Conn) resolve() (addressresolver.Target, error) {
	c.retain()
	defer c.release()

	addrs, err := c.resolver.LookupA(c.ctx, c.host)
	if err != nil {
		return addressresolver.Target{}, fmt.Errorf("unable to resolve host %s: %w", c.host, err)
	}

	if len(addrs) == 0 {
		return addressresolver.Target{}, fmt.Errorf("unable to resolve host %s: %w", c.host, addressresolver.ErrNoAddress)
	}

	return addressresolver.MakeTarget(addrs[0], c.port), nil
}

// dial connects to the target; the dialer reports any deferred connect
// error once the socket becomes writable.
func (c *Conn) dial(target addressresolver.Target) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.currentTimeout()}
	return dialer.DialContext(c.ctx, target.Network, target.Address)
}

// failHead delivers a connection-level error to the head operation. The
// connection goroutine returns after this, so remaining operations are
// discarded at teardown.
func (c *Conn) failHead(err error) {
	op, ok := c.queue.head()
	if !ok {
		c.log.Warn("connection error with no pending operation",
			logger.Field{Key: "error", Value: err})
		return
	}

	c.log.Info("connection error",
		logger.Field{Key: "error", Value: err})

	c.completeOp(op, err, nil)
}

// completeOp invokes the operation's callback (at most once) and pops it
// from the queue. A reference is held across the callback so the connection
// cannot finalize mid-invocation.
func (c *Conn) completeOp(op *operation, err error, data []byte) {
	if op.cb != nil {
		cb := op.cb
		op.cb = nil

		// Callbacks stop at the moment Close returns; a completion racing
		// the close is dropped.
		if !c.isClosed() {
			c.retain()
			cb(err, data, c)
			c.release()
		}
	} else if err != nil {
		c.log.Debug("operation failed with no callback registered",
			logger.Field{Key: "error", Value: err})
	}

	c.queue.pop()
}

func (c *Conn) isClosed() bool {
	return c.closed.Load()
}

func (c *Conn) currentTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

func (c *Conn) armReadDeadline() {
	if d := c.currentTimeout(); d > 0 {
		_ = c.sock.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = c.sock.SetReadDeadline(time.Time{})
	}
}

func (c *Conn) armWriteDeadline() {
	if d := c.currentTimeout(); d > 0 {
		_ = c.sock.SetWriteDeadline(time.Now().Add(d))
	} else {
		_ = c.sock.SetWriteDeadline(time.Time{})
	}
}

// isTimeoutErr reports whether err is a deadline expiry.
func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
