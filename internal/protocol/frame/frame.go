package frame

import (
	"fmt"
	"slices"

	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/wire"
	"github.com/danmuck/vcsrpc/internal/transport"
)

const (
	// HeaderLen is one checksum byte followed by four length bytes.
	HeaderLen = 1 + wire.LengthLen
	// MinPayload is the smallest payload able to hold a func record.
	MinPayload = 11
	// MaxPayload is the exclusive upper bound on payload length.
	MaxPayload = 0x1FFFFFFF

	payloadChunk = 64 * 1024
)

// EncodeHeader builds the frame header for a payload of n bytes.
func EncodeHeader(n int) [HeaderLen]byte {
	var h [HeaderLen]byte
	wire.PutLength(h[1:], uint32(n))
	h[0] = h[1] ^ h[2] ^ h[3] ^ h[4]
	return h
}

// DecodeHeader validates the checksum and payload bounds and returns the
// payload length.
func DecodeHeader(b []byte) (int, error) {
	if len(b) != HeaderLen {
		return 0, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	if b[0] != b[1]^b[2]^b[3]^b[4] {
		return 0, fmt.Errorf("%w: header checksum %#02x", protocol.ErrNotProtocolFraming, b[0])
	}
	n := wire.Length(b[1:])
	if n < MinPayload || n >= MaxPayload {
		return 0, fmt.Errorf("%w: payload length %d", protocol.ErrNotProtocolFraming, n)
	}
	return int(n), nil
}

// CheckSize rejects payloads the header cannot describe.
func CheckSize(n int) error {
	if n >= MaxPayload {
		return fmt.Errorf("%w: %d bytes", protocol.ErrMessageTooLarge, n)
	}
	return nil
}

// Framer turns a transport byte stream into discrete messages. After a
// framing violation the stream is untrustworthy and every later receive fails.
type Framer struct {
	t      transport.Transport
	broken error
	hdr    [HeaderLen]byte
}

func New(t transport.Transport) *Framer {
	return &Framer{t: t}
}

// SendMessage writes one framed payload and returns the bytes put on the
// wire, header included.
func (f *Framer) SendMessage(payload []byte) (int, error) {
	if err := CheckSize(len(payload)); err != nil {
		return 0, err
	}
	h := EncodeHeader(len(payload))
	if err := f.t.Send(h[:]); err != nil {
		return 0, err
	}
	if err := f.t.Send(payload); err != nil {
		return 0, err
	}
	return HeaderLen + len(payload), nil
}

// ReceiveMessage reads one payload. A peer close between frames returns
// (nil, nil); a close inside a frame is ErrConnectionClosed.
func (f *Framer) ReceiveMessage() ([]byte, error) {
	if f.broken != nil {
		return nil, f.broken
	}
	got, err := f.readFull(f.hdr[:])
	if err != nil {
		return nil, err
	}
	if got == 0 {
		return nil, nil
	}
	if got < HeaderLen {
		return nil, fmt.Errorf("%w: short frame header", protocol.ErrConnectionClosed)
	}
	n, err := DecodeHeader(f.hdr[:])
	if err != nil {
		f.broken = err
		return nil, err
	}
	payload, err := f.readPayload(n)
	if err != nil {
		return nil, err
	}
	if len(payload) < n {
		return nil, fmt.Errorf("%w: short frame payload (%d of %d)", protocol.ErrConnectionClosed, len(payload), n)
	}
	return payload, nil
}

// readPayload reads up to n bytes, growing the buffer as data arrives so
// memory follows what the peer actually sent rather than what it declared.
func (f *Framer) readPayload(n int) ([]byte, error) {
	buf := make([]byte, 0, min(n, payloadChunk))
	for len(buf) < n {
		if len(buf) == cap(buf) {
			buf = slices.Grow(buf, min(n, 2*cap(buf))-len(buf))
		}
		got, err := f.t.Receive(buf[len(buf):min(n, cap(buf))])
		if err != nil {
			return buf, err
		}
		if got == 0 {
			break
		}
		buf = buf[:len(buf)+got]
	}
	return buf, nil
}

func (f *Framer) readFull(buf []byte) (int, error) {
	off := 0
	for off < len(buf) {
		n, err := f.t.Receive(buf[off:])
		if err != nil {
			return off, err
		}
		if n == 0 {
			return off, nil
		}
		off += n
	}
	return off, nil
}

// Pending reports whether received bytes are already buffered.
func (f *Framer) Pending() bool {
	return f.broken == nil && f.t.Buffered()
}

func (f *Framer) Broken() bool { return f.broken != nil }

func (f *Framer) Flush() error {
	return f.t.Flush()
}
