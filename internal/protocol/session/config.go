package session

import (
	"github.com/rs/zerolog"

	"github.com/danmuck/vcsrpc/internal/protocol"
)

// Config defines flow-control watermarks and protocol declarations.
type Config struct {
	// Name tags log lines; a sequence name is assigned when empty.
	Name string
	// LoMark is the unacknowledged byte count that triggers a flush marker.
	LoMark int64
	// MinHiMark floors the negotiated high watermarks.
	MinHiMark int64
	// ProtocolVersion is declared to the peer in the protocol message.
	ProtocolVersion int64
	// ProtocolVars are extra variables carried by the protocol message.
	ProtocolVars map[string]string
	Logger       *zerolog.Logger
	Observer     Observer
}

// DefaultConfig returns the watermarks used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LoMark:          700,
		MinHiMark:       2000,
		ProtocolVersion: protocol.ProtocolVersion,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.LoMark <= 0 {
		c.LoMark = d.LoMark
	}
	if c.MinHiMark <= 0 {
		c.MinHiMark = d.MinHiMark
	}
	if c.MinHiMark < c.LoMark {
		c.MinHiMark = c.LoMark
	}
	if c.ProtocolVersion <= 0 {
		c.ProtocolVersion = d.ProtocolVersion
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}
