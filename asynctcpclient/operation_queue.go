package asynctcpclient

import (
	"errors"
	"net"
	"sync"
)

// operationKind tags the two operation variants sharing the queue.
type operationKind int

const (
	operationWrite operationKind = iota
	operationRead
)

// operation is one queued unit of work: either a scatter write or a read.
// Exactly the fields of its kind are meaningful.
type operation struct {
	kind operationKind

	// write: bufs holds the unwritten suffix of the scatter ranges and is
	// consumed in place as bytes drain onto the socket.
	bufs    net.Buffers
	total   int64
	written int64

	// read: nil stopPattern means read until the peer closes.
	stopPattern []byte

	cb Callback
}

// newWriteOperation builds a write operation from the given payloads,
// registering owned-payload release functions on the connection's deferred
// destructor list. Empty payloads are skipped.
func newWriteOperation(c *Conn, data []Payload, cb Callback) (*operation, error) {
	op := &operation{kind: operationWrite, cb: cb}

	for _, p := range data {
		if p.release != nil {
			c.addDtor(func() { p.release(p.data) })
		}

		if len(p.data) == 0 {
			continue
		}

		op.bufs = append(op.bufs, p.data)
		op.total += int64(len(p.data))
	}

	if op.total == 0 {
		return nil, errors.New("write requires at least one non-empty payload")
	}

	return op, nil
}

// operationQueue is a strictly-FIFO list of pending operations. The engine
// goroutine pops from the head; callbacks and external callers may push
// until the queue closes.
type operationQueue struct {
	mu     sync.Mutex
	ops    []*operation
	closed bool
}

// push appends an operation; it reports false once the queue has closed, in
// which case the operation is not enqueued.
func (q *operationQueue) push(op *operation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.ops = append(q.ops, op)

	return true
}

// head returns the active operation without removing it.
func (q *operationQueue) head() (*operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil, false
	}

	return q.ops[0], true
}

// headOrClose returns the active operation, or closes the queue to further
// pushes when it is empty. The emptiness check and the close decision share
// one critical section, so no operation can slip in between the engine loop
// observing an empty queue and teardown starting.
func (q *operationQueue) headOrClose() (*operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		q.closed = true
		return nil, false
	}

	return q.ops[0], true
}

// pop removes and returns the head operation.
func (q *operationQueue) pop() (*operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil, false
	}

	op := q.ops[0]
	q.ops[0] = nil
	q.ops = q.ops[1:]

	return op, true
}

// hasOtherWrite reports whether any write operation besides cur is queued.
func (q *operationQueue) hasOtherWrite(cur *operation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op != cur && op.kind == operationWrite {
			return true
		}
	}

	return false
}

// drain removes and returns all remaining operations.
func (q *operationQueue) drain() []*operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := q.ops
	q.ops = nil

	return ops
}

func (q *operationQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}
