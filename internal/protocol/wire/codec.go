package wire

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/danmuck/vcsrpc/internal/protocol"
)

// LengthLen is the size of an encoded record or frame length.
const LengthLen = 4

// PutLength writes n as four bytes, least significant first.
func PutLength(b []byte, n uint32) {
	b[0] = byte(n)
	b[1] = byte(n >> 8)
	b[2] = byte(n >> 16)
	b[3] = byte(n >> 24)
}

// Length reads a length written by PutLength.
func Length(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// AppendRecord appends one name/value record to buf.
func AppendRecord(buf []byte, name string, value []byte) []byte {
	var l [LengthLen]byte
	PutLength(l[:], uint32(len(value)))
	buf = append(buf, name...)
	buf = append(buf, 0)
	buf = append(buf, l[:]...)
	buf = append(buf, value...)
	return append(buf, 0)
}

// RecordLen is the encoded size of one record.
func RecordLen(name string, value []byte) int {
	return len(name) + 1 + LengthLen + len(value) + 1
}

// Encode serializes vs in record order.
func Encode(vs *VarSet) ([]byte, error) {
	size := 0
	for _, r := range vs.recs {
		if strings.IndexByte(r.Name, 0) >= 0 {
			return nil, fmt.Errorf("%w: %q", protocol.ErrInvalidVarName, r.Name)
		}
		size += RecordLen(r.Name, r.Value)
	}
	out := make([]byte, 0, size)
	for _, r := range vs.recs {
		out = AppendRecord(out, r.Name, r.Value)
	}
	return out, nil
}

// Decode parses a payload produced by Encode. Any corrupt record discards the
// whole message.
func Decode(payload []byte) (*VarSet, error) {
	vs := NewVarSet()
	i := 0
	for i < len(payload) {
		end := bytes.IndexByte(payload[i:], 0)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated name at offset %d", protocol.ErrMalformedMessage, i)
		}
		name := string(payload[i : i+end])
		i += end + 1

		if len(payload)-i < LengthLen {
			return nil, fmt.Errorf("%w: short length at offset %d", protocol.ErrMalformedMessage, i)
		}
		l := int64(Length(payload[i : i+LengthLen]))
		i += LengthLen
		if l < 0 || int64(len(payload)-i) < l+1 {
			return nil, fmt.Errorf("%w: value overruns buffer at offset %d", protocol.ErrMalformedMessage, i)
		}
		value := payload[i : i+int(l)]
		i += int(l)
		if payload[i] != 0 {
			return nil, fmt.Errorf("%w: missing value terminator at offset %d", protocol.ErrMalformedMessage, i)
		}
		i++

		if name == "" {
			vs.AddArg(value)
		} else {
			vs.Set(name, value)
		}
	}
	return vs, nil
}
