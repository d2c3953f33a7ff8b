package asynctcpclient

import (
	"time"

	"github.com/cyberinferno/go-async-tcp/logger"
)

// The connection is owned by a strong-reference count. Holders: the engine
// goroutine for the duration of the work, the pending resolution while a
// lookup is outstanding, and every callback invocation while it runs. There
// is a single drop path: the count reaching zero routes through
// maybeFinalize, and finalize itself is additionally guarded by a sync.Once
// so no interleaving can run teardown twice.

// retain takes one strong reference on the connection.
func (c *Conn) retain() {
	c.refs.Add(1)
}

// release drops one strong reference; the last release finalizes.
func (c *Conn) release() {
	if c.refs.Add(-1) > 0 {
		return
	}

	c.maybeFinalize()
}

// maybeFinalize runs teardown directly, or routes it through the owning
// session so the session can enforce its own quiescence ordering.
func (c *Conn) maybeFinalize() {
	c.closed.Store(true)

	if c.session != nil {
		c.watcher.Pop()
		c.session.RemoveEvent(c.event)
		return
	}

	c.finalize()
}

// finalize runs teardown exactly once. It is also the finalizer registered
// with the owning session.
func (c *Conn) finalize() {
	c.finalizeOnce.Do(c.doFinalize)
}

func (c *Conn) doFinalize() {
	c.closed.Store(true)
	c.cancel()

	c.mu.Lock()
	sock := c.sock
	c.sock = nil
	dtors := c.dtors
	c.dtors = nil
	c.finalized = true
	c.mu.Unlock()

	if sock != nil {
		_ = sock.Close()
	}

	// Remaining operations are discarded without invoking their callbacks;
	// their owned buffers are covered by the destructor list below.
	discarded := c.queue.drain()
	for _, op := range discarded {
		op.cb = nil
	}

	for _, fn := range dtors {
		fn()
	}

	c.in = nil

	c.log.Debug("connection finalized",
		logger.Field{Key: "discarded_operations", Value: len(discarded)})
}

// addDtor registers a deferred destructor to run at teardown. If teardown
// already ran, the destructor runs immediately so it is never lost.
func (c *Conn) addDtor(fn func()) {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		fn()
		return
	}

	c.dtors = append(c.dtors, fn)
	c.mu.Unlock()
}

// Close cancels the connection. In-flight resolution and I/O are
// interrupted, no further callbacks are delivered, and teardown runs once
// every outstanding reference (the engine goroutine, a pending lookup, a
// running callback) has been released. Close is idempotent and safe to call
// from inside a callback.
//
// Returns:
//   - nil
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.cancel()

	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()

	if sock != nil {
		// Wake any blocked read or write so the engine observes the flag.
		_ = sock.SetDeadline(time.Now())
	}

	c.log.Debug("connection closed by caller")

	return nil
}
