package asynctcpclient

import (
	"fmt"

	"github.com/cyberinferno/go-async-tcp/logger"
)

// closeWriter is satisfied by net.TCPConn and net.UnixConn.
type closeWriter interface {
	CloseWrite() error
}

// execWrite drains the head-of-queue write operation onto the socket. The
// scatter ranges go out via net.Buffers, so the runtime issues writev calls
// and clamps the range count to the platform limit; would-block and
// interrupted conditions never surface here. The write deadline models the
// original per-event timeout: it is rearmed whenever an attempt makes
// progress, so only a genuinely stalled peer trips it.
func (c *Conn) execWrite(op *operation) {
	for op.written < op.total {
		if c.isClosed() {
			return
		}

		c.armWriteDeadline()

		n, err := op.bufs.WriteTo(c.sock)
		op.written += n

		if err == nil {
			continue
		}

		if c.isClosed() {
			return
		}

		if isTimeoutErr(err) {
			if n > 0 {
				continue
			}

			c.completeOp(op, ErrTimeout, nil)
			return
		}

		c.completeOp(op, fmt.Errorf("IO write error while trying to write %d bytes: %w",
			op.total-op.written, err), nil)
		return
	}

	c.log.Debug("write operation complete",
		logger.Field{Key: "bytes", Value: op.total})

	c.maybeShutdownWrite(op)
	c.completeOp(op, nil, nil)
}

// maybeShutdownWrite half-closes the socket after the last queued write when
// the connection was created with the Shutdown flag. It fires at most once;
// the flag is cleared afterwards.
func (c *Conn) maybeShutdownWrite(op *operation) {
	c.mu.Lock()
	want := c.shutdownAfterWrite
	sock := c.sock
	c.mu.Unlock()

	if !want || sock == nil || c.queue.hasOtherWrite(op) {
		return
	}

	cw, ok := sock.(closeWriter)
	if !ok {
		c.log.Warn("socket does not support half-close")
		return
	}

	if err := cw.CloseWrite(); err != nil {
		c.log.Warn("half-close failed", logger.Field{Key: "error", Value: err})
	}

	c.mu.Lock()
	c.shutdownAfterWrite = false
	c.mu.Unlock()
}
