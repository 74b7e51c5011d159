package transport

import (
	"context"
	"io"
	"time"
)

// Transport is the contract a session consumes from the byte-stream layer.
type Transport interface {
	// Send buffers p for transmission.
	Send(p []byte) error
	// Receive reads into p. Zero bytes with a nil error means the peer closed.
	Receive(p []byte) (int, error)
	// Flush pushes buffered send data to the peer.
	Flush() error
	// Buffered reports whether received bytes are waiting to be read.
	Buffered() bool
	SendBufferSize() int
	RecvBufferSize() int
	EnableSendCompression() error
	EnableRecvCompression() error
	Alive() bool
	Close() error
}

// Stream is the raw connection under a Conn. net.Conn satisfies it.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Options tunes buffering, waits and compression of a Conn.
type Options struct {
	SendBufferSize   int
	RecvBufferSize   int
	MaxWait          time.Duration // zero waits forever
	PollInterval     time.Duration // zero uses a single deadline of MaxWait
	CompressionLevel int
	// Alive is polled while blocked; it must be safe to call from another
	// goroutine.
	Alive func() bool
}

// DefaultOptions returns defaults sized for a LAN peer.
func DefaultOptions() Options {
	return Options{
		SendBufferSize:   64 * 1024,
		RecvBufferSize:   64 * 1024,
		MaxWait:          0,
		PollInterval:     500 * time.Millisecond,
		CompressionLevel: 6,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = d.SendBufferSize
	}
	if o.RecvBufferSize <= 0 {
		o.RecvBufferSize = d.RecvBufferSize
	}
	if o.CompressionLevel == 0 {
		o.CompressionLevel = d.CompressionLevel
	}
	return o
}

// AliveFromContext reports alive until ctx is done.
func AliveFromContext(ctx context.Context) func() bool {
	return func() bool {
		return ctx.Err() == nil
	}
}
