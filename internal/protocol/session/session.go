package session

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/vcsrpc/internal/protocol/dispatch"
	"github.com/danmuck/vcsrpc/internal/protocol/frame"
	"github.com/danmuck/vcsrpc/internal/protocol/wire"
	"github.com/danmuck/vcsrpc/internal/transport"
)

type (
	Handler  = dispatch.Handler[*Session]
	Entry    = dispatch.Entry[*Session]
	Table    = dispatch.Table[*Session]
	Registry = dispatch.Registry[*Session]
)

var sessionSeq atomic.Uint64

// latch keeps the first error set on it.
type latch struct {
	err error
}

func (l *latch) set(err error) {
	if l.err == nil && err != nil {
		l.err = err
	}
}

// Session is one end of an RPC connection.
type Session struct {
	name     string
	cfg      Config
	log      zerolog.Logger
	obs      Observer
	registry *Registry

	t      transport.Transport
	framer *frame.Framer

	send      *wire.VarSet
	recv      *wire.VarSet
	protoVars *wire.VarSet
	peerVars  *wire.VarSet

	// duplex accounting, in bytes, except the reverse counters which count
	// outstanding reverse-duplex invocations
	fwdSent int64
	fwdRecv int64
	revSent int64
	revRecv int64

	loMark     int64
	hiMarkFwd  int64
	hiMarkRev  int64
	peerHiMark int64

	dispatchDepth int
	endDispatch   bool
	containing    bool
	released      bool

	protocolSent bool
	peerProtocol int64
	compressing  bool

	sendErr     latch
	recvErr     latch
	handlerErr  latch
	dispatchErr error
}

// New binds a session to t. reg is the table set used by Dispatch; nil uses
// a registry holding only the built-in control messages.
func New(t transport.Transport, reg *Registry, cfg Config) *Session {
	cfg = cfg.normalized()
	if reg == nil {
		reg = NewRegistry()
	}
	s := &Session{cfg: cfg, obs: cfg.Observer, registry: reg}
	s.name = cfg.Name
	if s.name == "" {
		s.name = fmt.Sprintf("s-%d", sessionSeq.Add(1))
	}
	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	s.log = base.With().Str("session", s.name).Logger()
	s.protoVars = wire.NewVarSet()
	for k, v := range cfg.ProtocolVars {
		s.protoVars.SetString(k, v)
	}
	s.Reset(t)
	return s
}

// Reset returns the session to a clean state over t, as after a fresh
// connect. Dynamic protocol variables survive.
func (s *Session) Reset(t transport.Transport) {
	s.t = t
	s.framer = frame.New(t)
	s.send = wire.NewVarSet()
	s.recv = wire.NewVarSet()
	s.peerVars = wire.NewVarSet()
	s.fwdSent, s.fwdRecv, s.revSent, s.revRecv = 0, 0, 0, 0
	s.loMark = s.cfg.LoMark
	s.hiMarkFwd = s.cfg.MinHiMark
	s.hiMarkRev = s.cfg.MinHiMark
	s.peerHiMark = 0
	s.dispatchDepth = 0
	s.endDispatch = false
	s.containing = false
	s.released = false
	s.protocolSent = false
	s.peerProtocol = -1
	s.compressing = false
	s.sendErr = latch{}
	s.recvErr = latch{}
	s.handlerErr = latch{}
	s.dispatchErr = nil
}

// Close flushes buffered output and closes the transport.
func (s *Session) Close() error {
	return s.t.Close()
}

func (s *Session) Name() string             { return s.name }
func (s *Session) Logger() *zerolog.Logger  { return &s.log }
func (s *Session) Registry() *Registry      { return s.registry }
func (s *Session) SetRegistry(reg *Registry) { s.registry = reg }
func (s *Session) Transport() transport.Transport {
	return s.t
}

// SetProtocol adds a variable to the protocol message. It only has effect
// before the first invoke of a connection.
func (s *Session) SetProtocol(name, value string) {
	s.protoVars.SetString(name, value)
}

// Send-side variables.

func (s *Session) SetVar(name, value string)        { s.send.SetString(name, value) }
func (s *Session) SetVarBytes(name string, v []byte) { s.send.Set(name, v) }
func (s *Session) SetVarInt(name string, n int64)    { s.send.SetInt(name, n) }
func (s *Session) AddArg(v []byte)                   { s.send.AddArg(v) }
func (s *Session) SendVars() *wire.VarSet            { return s.send }

// Receive-side variables of the message being dispatched.

func (s *Session) GetVar(name string) string { return s.recv.GetString(name) }
func (s *Session) GetVarBytes(name string) ([]byte, bool) {
	return s.recv.Get(name)
}
func (s *Session) GetVarInt(name string) (int64, bool) { return s.recv.GetInt(name) }
func (s *Session) Arg(i int) ([]byte, bool)             { return s.recv.Arg(i) }
func (s *Session) Args() [][]byte                       { return s.recv.Args() }
func (s *Session) RecvVars() *wire.VarSet               { return s.recv }

// PeerVars are the variables of the last protocol message from the peer.
func (s *Session) PeerVars() *wire.VarSet { return s.peerVars }

// Released reports whether the peer has sent release or release2.
func (s *Session) Released() bool { return s.released }

// Compressing reports whether this side has turned on send compression.
func (s *Session) Compressing() bool { return s.compressing }

// PeerProtocol is the peer's declared version, or -1 before it arrives.
func (s *Session) PeerProtocol() int64 { return s.peerProtocol }

// Stats is a snapshot of the flow-control state.
type Stats struct {
	FwdSent    int64
	FwdRecv    int64
	RevSent    int64
	RevRecv    int64
	Depth      int
	LoMark     int64
	HiMarkFwd  int64
	HiMarkRev  int64
	PeerHiMark int64
}

func (s *Session) Stats() Stats {
	return Stats{
		FwdSent:    s.fwdSent,
		FwdRecv:    s.fwdRecv,
		RevSent:    s.revSent,
		RevRecv:    s.revRecv,
		Depth:      s.dispatchDepth,
		LoMark:     s.loMark,
		HiMarkFwd:  s.hiMarkFwd,
		HiMarkRev:  s.hiMarkRev,
		PeerHiMark: s.peerHiMark,
	}
}

// Status is a snapshot of the error latches.
type Status struct {
	SendErr     error
	RecvErr     error
	HandlerErr  error
	DispatchErr error
	Dropped     bool
}

func (s *Session) Status() Status {
	return Status{
		SendErr:     s.sendErr.err,
		RecvErr:     s.recvErr.err,
		HandlerErr:  s.handlerErr.err,
		DispatchErr: s.dispatchErr,
		Dropped:     s.Dropped(),
	}
}

func (s *Session) SendErr() error { return s.sendErr.err }
func (s *Session) RecvErr() error { return s.recvErr.err }

// HandlerErr is the first handler error that was not contained.
func (s *Session) HandlerErr() error { return s.handlerErr.err }

// DispatchErr is the outcome of the most recent DispatchOne.
func (s *Session) DispatchErr() error { return s.dispatchErr }

// Err returns the latched I/O error, receive side first.
func (s *Session) Err() error {
	if s.recvErr.err != nil {
		return s.recvErr.err
	}
	return s.sendErr.err
}

// Dropped reports whether the connection is unusable. A send error alone is
// not fatal while acknowledgments are outstanding, since the peer may still
// deliver useful data.
func (s *Session) Dropped() bool {
	if s.recvErr.err != nil {
		return true
	}
	return s.sendErr.err != nil && s.fwdRecv == 0
}

func (s *Session) hiMark() int64 {
	if s.revRecv > 0 {
		return s.hiMarkRev
	}
	return s.hiMarkFwd
}

// negotiateMarks sizes the high watermarks from both sides' buffers.
func (s *Session) negotiateMarks(peerSend, peerRecv int64) {
	localSend := int64(s.t.SendBufferSize())
	localRecv := int64(s.t.RecvBufferSize())
	s.hiMarkFwd = max(localSend+peerRecv-s.loMark, s.cfg.MinHiMark)
	s.hiMarkRev = max(localRecv+peerSend-s.loMark, s.cfg.MinHiMark)
	s.log.Debug().
		Int64("himark_fwd", s.hiMarkFwd).
		Int64("himark_rev", s.hiMarkRev).
		Int64("lomark", s.loMark).
		Msg("watermarks negotiated")
}
