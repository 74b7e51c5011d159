package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/danmuck/vcsrpc/internal/protocol"
)

// Conn is a buffered, optionally compressing Transport over a Stream.
// A Conn is driven by one session goroutine and is not safe for concurrent use.
type Conn struct {
	s    Stream
	opts Options

	r *bufio.Reader
	w *bufio.Writer

	zw           *zlib.Writer
	zdirty       bool
	zr           io.ReadCloser
	recvCompress bool

	closed  bool
	aborted atomic.Bool
}

// alivePoll is how often the liveness callback is consulted while a stream
// blocks under a single deadline.
const alivePoll = 100 * time.Millisecond

var _ Transport = (*Conn)(nil)

func NewConn(s Stream, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{s: s, opts: opts}
	c.w = bufio.NewWriterSize(deadlineWriter{c}, opts.SendBufferSize)
	c.r = bufio.NewReaderSize(deadlineReader{c}, opts.RecvBufferSize)
	return c
}

func (c *Conn) Send(p []byte) error {
	if c.closed {
		return protocol.ErrConnectionClosed
	}
	if !c.Alive() {
		return protocol.ErrCancelled
	}
	var err error
	if c.zw != nil {
		_, err = c.zw.Write(p)
		c.zdirty = true
	} else {
		_, err = c.w.Write(p)
	}
	return err
}

func (c *Conn) Flush() error {
	if c.closed {
		return protocol.ErrConnectionClosed
	}
	if err := c.flushCompressor(); err != nil {
		return err
	}
	return c.w.Flush()
}

// flushCompressor emits a zlib sync point so the peer can decode everything
// sent so far.
func (c *Conn) flushCompressor() error {
	if c.zw == nil || !c.zdirty {
		return nil
	}
	c.zdirty = false
	return c.zw.Flush()
}

func (c *Conn) Receive(p []byte) (int, error) {
	if c.closed {
		return 0, protocol.ErrConnectionClosed
	}
	if c.recvCompress && c.zr == nil {
		zr, err := zlib.NewReader(c.r)
		if err != nil {
			return receiveResult(0, err)
		}
		c.zr = zr
	}
	var (
		n   int
		err error
	)
	if c.zr != nil {
		n, err = c.zr.Read(p)
	} else {
		n, err = c.r.Read(p)
	}
	return receiveResult(n, err)
}

func receiveResult(n int, err error) (int, error) {
	if n > 0 {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, nil
	}
	return 0, err
}

func (c *Conn) Buffered() bool {
	return !c.closed && c.r.Buffered() > 0
}

func (c *Conn) SendBufferSize() int { return c.opts.SendBufferSize }
func (c *Conn) RecvBufferSize() int { return c.opts.RecvBufferSize }

// EnableSendCompression compresses everything sent after this call.
func (c *Conn) EnableSendCompression() error {
	if c.zw != nil {
		return nil
	}
	zw, err := zlib.NewWriterLevel(c.w, c.opts.CompressionLevel)
	if err != nil {
		return fmt.Errorf("transport: send compression: %w", err)
	}
	c.zw = zw
	return nil
}

// EnableRecvCompression decompresses everything received after the bytes
// already consumed. The zlib header is read on the next Receive.
func (c *Conn) EnableRecvCompression() error {
	c.recvCompress = true
	return nil
}

func (c *Conn) SendCompressed() bool { return c.zw != nil }
func (c *Conn) RecvCompressed() bool { return c.recvCompress }

func (c *Conn) Alive() bool {
	if c.closed || c.aborted.Load() {
		return false
	}
	return c.opts.Alive == nil || c.opts.Alive()
}

// Close flushes pending output and closes the stream.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	ferr := c.Flush()
	c.closed = true
	if c.zr != nil {
		c.zr.Close()
	}
	if err := c.s.Close(); err != nil && !c.aborted.Load() {
		return err
	}
	if ferr != nil && !errors.Is(ferr, protocol.ErrCancelled) {
		return ferr
	}
	return nil
}

// wait runs step until it reports done, slicing the wait into poll intervals
// so the liveness callback and MaxWait are honored while blocked.
func (c *Conn) wait(setDeadline func(time.Time) error, step func() (bool, error)) error {
	start := time.Now()
	for {
		if c.aborted.Load() || (c.opts.Alive != nil && !c.opts.Alive()) {
			return protocol.ErrCancelled
		}
		slice := c.opts.PollInterval
		if c.opts.MaxWait > 0 {
			remaining := c.opts.MaxWait - time.Since(start)
			if remaining <= 0 {
				return protocol.ErrTimeout
			}
			if slice <= 0 || remaining < slice {
				slice = remaining
			}
		}
		var deadline time.Time
		if slice > 0 {
			deadline = time.Now().Add(slice)
		}
		if err := setDeadline(deadline); err != nil {
			return err
		}
		stop := c.watchAlive()
		done, err := step()
		stop()
		if done {
			return nil
		}
		if c.aborted.Load() || (c.opts.Alive != nil && !c.opts.Alive()) {
			return protocol.ErrCancelled
		}
		if isTimeout(err) {
			continue
		}
		return err
	}
}

// watchAlive covers streams that wait under one deadline instead of poll
// slices: if the liveness callback fails during the wait, the stream is
// closed so the blocked call returns. The returned func ends the watch.
func (c *Conn) watchAlive() func() {
	if c.opts.Alive == nil || c.opts.PollInterval > 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(alivePoll)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				if !c.opts.Alive() {
					c.aborted.Store(true)
					_ = c.s.Close()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type deadlineWriter struct{ c *Conn }

func (w deadlineWriter) Write(p []byte) (int, error) {
	written := 0
	err := w.c.wait(w.c.s.SetWriteDeadline, func() (bool, error) {
		n, err := w.c.s.Write(p[written:])
		written += n
		if err == nil && written >= len(p) {
			return true, nil
		}
		return false, err
	})
	return written, err
}

type deadlineReader struct{ c *Conn }

// Read flushes pending output before blocking so the peer is never left
// waiting on data this side still holds.
func (r deadlineReader) Read(p []byte) (int, error) {
	if err := r.c.flushForRead(); err != nil {
		return 0, err
	}
	var n int
	err := r.c.wait(r.c.s.SetReadDeadline, func() (bool, error) {
		var err error
		n, err = r.c.s.Read(p)
		if n > 0 {
			return true, nil
		}
		return false, err
	})
	if n > 0 {
		return n, nil
	}
	return 0, err
}

func (c *Conn) flushForRead() error {
	if err := c.flushCompressor(); err != nil {
		return err
	}
	if c.w.Buffered() == 0 {
		return nil
	}
	return c.w.Flush()
}
