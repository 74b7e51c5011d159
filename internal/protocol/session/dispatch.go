package session

import (
	"fmt"

	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/dispatch"
	"github.com/danmuck/vcsrpc/internal/protocol/frame"
	"github.com/danmuck/vcsrpc/internal/protocol/schema"
	"github.com/danmuck/vcsrpc/internal/protocol/wire"
)

// Mode selects the watermarks and stop condition of a dispatch loop.
type Mode int

const (
	// Complete runs until release or a fatal receive error.
	Complete Mode = iota
	// Duplex runs until unacknowledged bytes fall to the high watermark.
	Duplex
	// Flush runs until every sent byte is acknowledged.
	Flush
	// Over is Duplex that returns to an enclosing dispatch loop.
	Over
	// Contain runs at the caller's depth until a message fails, leaving the
	// error in DispatchErr instead of routing it.
	Contain
)

func (m Mode) String() string {
	switch m {
	case Complete:
		return "complete"
	case Duplex:
		return "duplex"
	case Flush:
		return "flush"
	case Over:
		return "over"
	case Contain:
		return "contain"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// marks returns the low and high watermarks for mode and whether the mode
// emits flow markers at all.
func (s *Session) marks(mode Mode) (lo, hi int64, metered bool) {
	switch mode {
	case Duplex:
		return s.loMark, s.hiMark(), true
	case Flush:
		return 0, 0, true
	case Over:
		return 0, s.hiMark(), true
	default:
		return 0, 0, false
	}
}

func (s *Session) continues(mode Mode, hi int64) bool {
	if s.sendErr.err != nil {
		return s.framer.Pending()
	}
	switch mode {
	case Complete:
		return true
	case Duplex, Over:
		return s.fwdRecv > hi
	case Flush:
		return s.fwdRecv != 0
	case Contain:
		return s.dispatchErr == nil
	}
	return false
}

// Dispatch receives and runs messages with the session's registry.
func (s *Session) Dispatch(mode Mode) {
	s.DispatchWith(mode, s.registry)
}

// DispatchWith receives and runs messages from reg until mode's stop
// condition holds. Only two levels of non-contained dispatch may nest; a
// deeper call returns at once.
func (s *Session) DispatchWith(mode Mode, reg *Registry) {
	if reg == nil {
		reg = s.registry
	}
	if s.dispatchDepth > 1 && mode != Contain {
		s.log.Trace().Stringer("mode", mode).Int("depth", s.dispatchDepth).Msg("dispatch: nesting limit")
		return
	}
	if mode == Contain {
		prev := s.containing
		s.containing = true
		s.dispatchErr = nil
		defer func() { s.containing = prev }()
	} else {
		s.dispatchDepth++
		defer s.leaveDispatch()
	}

	lo, hi, metered := s.marks(mode)
	for !s.endDispatch {
		if s.recvErr.err != nil && !s.framer.Pending() {
			break
		}
		if metered && s.fwdSent > lo && s.sendErr.err == nil {
			// The marker's own size stays out of fwdSent; Flush (lo 0) would never stop otherwise.
			s.sendMarker()
			continue
		}
		if !s.continues(mode, hi) {
			break
		}
		s.DispatchOne(reg)
	}
}

func (s *Session) leaveDispatch() {
	s.dispatchDepth--
	if s.dispatchDepth == 0 {
		s.endDispatch = false
	}
}

// sendMarker asks the peer to acknowledge everything sent since the last
// marker.
func (s *Session) sendMarker() {
	fseq, rseq := s.fwdSent, s.revSent
	s.fwdSent, s.revSent = 0, 0
	vs := wire.NewVarSet()
	vs.SetInt(protocol.VarHimark, s.hiMark())
	vs.SetInt(protocol.VarFseq, fseq)
	vs.SetInt(protocol.VarRseq, rseq)
	if _, err := s.sendVars(protocol.OpFlush1, vs); err != nil {
		return
	}
	s.obs.FlowMarker(fseq, rseq)
	s.log.Trace().Int64("fseq", fseq).Int64("rseq", rseq).Int64("fwd_recv", s.fwdRecv).Msg("flow marker sent")
}

// DispatchOne receives one message and runs its handler from reg. It
// returns the message's outcome, which is also kept in DispatchErr.
func (s *Session) DispatchOne(reg *Registry) error {
	if reg == nil {
		reg = s.registry
	}
	if err := s.recvErr.err; err != nil && !s.framer.Pending() {
		s.dispatchErr = err
		return err
	}
	vars, size, err := s.receive()
	if err != nil {
		s.recvErr.set(err)
		s.dispatchErr = err
		return err
	}
	op := vars.GetString(protocol.VarFunc)
	s.obs.MessageReceived(op, size)

	err = s.run(reg, op, vars)
	if err != nil && dispatch.IsFatal(err) {
		err = fmt.Errorf("%s: %w", op, err)
	}
	s.dispatchErr = err
	if s.dispatchDepth == 0 {
		s.endDispatch = false
	}
	if err == nil || s.containing {
		return err
	}
	s.handlerErr.set(err)
	if eh := reg.ErrorHandler(); eh != nil {
		eh(s, op, err)
	} else {
		s.log.Error().Str("op", op).Err(err).Msg("dispatch failed")
	}
	return err
}

func (s *Session) receive() (*wire.VarSet, int, error) {
	payload, err := s.framer.ReceiveMessage()
	if err != nil {
		return nil, 0, err
	}
	if payload == nil {
		return nil, 0, protocol.ErrConnectionClosed
	}
	vars, err := wire.Decode(payload)
	if err != nil {
		return nil, 0, err
	}
	if !vars.Has(protocol.VarFunc) {
		return nil, 0, protocol.ErrMissingFunc
	}
	return vars, frame.HeaderLen + len(payload), nil
}

// run executes the handler for op with vars as the receive side. The
// previous receive side is restored afterwards so a handler that nests a
// dispatch sees its own variables again once that returns.
func (s *Session) run(reg *Registry, op string, vars *wire.VarSet) error {
	h, ok := reg.Lookup(op)
	if !ok {
		return fmt.Errorf("%w: %q", protocol.ErrUnregisteredOperation, op)
	}
	prev := s.recv
	s.recv = vars
	defer func() { s.recv = prev }()

	done := s.obs.HandlerStart(op)
	err := schema.Validate(op, vars)
	if err != nil {
		err = dispatch.Fatal(err)
	} else {
		err = h(s)
	}
	done(err)
	return err
}
