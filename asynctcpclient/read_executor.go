package asynctcpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/go-async-tcp/logger"
)

// readChunkSize is the size of the per-connection scratch buffer; each
// receive reads at most this many bytes before the completion policy runs.
const readChunkSize = 8192

// execRead runs the head-of-queue read operation to completion. In partial
// mode every received chunk is delivered through the callback immediately
// and the operation stays at the head of the queue until EOF, an error, or
// an explicit close. In complete mode bytes accumulate until the stop
// pattern matches or the peer closes.
func (c *Conn) execRead(op *operation) {
	if !c.partial {
		// Leftover bytes from a previous over-read may already satisfy the
		// operation without touching the socket.
		if c.tryCompleteFromBuffer(op, c.eof) {
			return
		}
	}

	if c.eof {
		c.completeOp(op, ErrReadPastEOF, nil)
		return
	}

	if c.scratch == nil {
		c.scratch = make([]byte, readChunkSize)
	}

	for {
		if c.isClosed() {
			return
		}

		c.armReadDeadline()

		n, err := c.sock.Read(c.scratch)
		if n > 0 {
			// Close may have landed while the read was blocked; the chunk is
			// discarded rather than delivered after Close has returned.
			if c.isClosed() {
				return
			}

			if c.partial {
				chunk := make([]byte, n)
				copy(chunk, c.scratch[:n])
				c.partialDelivered = true

				c.retain()
				op.cb(nil, chunk, c)
				c.release()
			} else {
				c.in = append(c.in, c.scratch[:n]...)
				if c.tryCompleteFromBuffer(op, false) {
					return
				}
			}
		}

		if err == nil {
			continue
		}

		if c.isClosed() {
			return
		}

		switch {
		case errors.Is(err, io.EOF):
			c.eof = true
			c.finishReadAtEOF(op)
			return
		case isTimeoutErr(err):
			c.completeOp(op, ErrTimeout, nil)
			return
		default:
			c.completeOp(op, fmt.Errorf("IO read error while trying to read data: %w", err), nil)
			return
		}
	}
}

// finishReadAtEOF applies the completion policy once the peer has closed.
func (c *Conn) finishReadAtEOF(op *operation) {
	c.log.Debug("peer closed connection",
		logger.Field{Key: "buffered", Value: len(c.in)})

	if c.partial {
		if c.partialDelivered {
			// Every chunk already went out through the callback; the
			// operation is satisfied silently.
			c.queue.pop()
			return
		}

		c.completeOp(op, ErrConnTerminated, nil)
		return
	}

	if c.tryCompleteFromBuffer(op, true) {
		return
	}

	c.completeOp(op, ErrConnTerminated, nil)
}

// tryCompleteFromBuffer checks whether the accumulation buffer satisfies the
// operation's completion policy and, if so, delivers the payload. With a
// stop pattern, the bytes before the first match are delivered and the bytes
// after it are shifted to the buffer front for the next operation. Without
// one, the whole buffer is delivered at EOF. At EOF an unmatched stop
// pattern degrades to delivering the buffered remainder: the stream is over,
// so the remainder is the final frame.
func (c *Conn) tryCompleteFromBuffer(op *operation, atEOF bool) bool {
	if len(op.stopPattern) > 0 {
		if p := bytes.Index(c.in, op.stopPattern); p >= 0 {
			data := make([]byte, p)
			copy(data, c.in[:p])

			rest := c.in[p+len(op.stopPattern):]
			if len(rest) > 0 {
				c.in = append(c.in[:0], rest...)
			} else {
				c.in = c.in[:0]
			}

			c.completeOp(op, nil, data)
			return true
		}

		if !atEOF {
			return false
		}
	}

	if atEOF && len(c.in) > 0 {
		data := c.in
		c.in = nil
		c.completeOp(op, nil, data)
		return true
	}

	return false
}
