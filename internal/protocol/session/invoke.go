package session

import (
	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/frame"
	"github.com/danmuck/vcsrpc/internal/protocol/wire"
)

// Invoke sends name with the current send variables. While reverse
// acknowledgments are outstanding it meters like InvokeDuplex.
func (s *Session) Invoke(name string) error {
	if s.revRecv > 0 {
		return s.InvokeDuplex(name)
	}
	_, err := s.InvokeOne(name)
	return err
}

// InvokeOne sends name unmetered and returns the framed size. The send
// variables are cleared whether or not the send succeeds. Once an I/O error
// is latched it sends nothing and returns that error.
func (s *Session) InvokeOne(name string) (int, error) {
	defer s.send.Clear()
	if name == protocol.OpProtocol {
		s.fillProtocol(s.send)
	}
	return s.sendVars(name, s.send)
}

// InvokeDuplex sends name, expects its size back through flow markers, and
// dispatches until the unacknowledged total is under the high watermark.
func (s *Session) InvokeDuplex(name string) error {
	n, err := s.InvokeOne(name)
	if err != nil {
		return err
	}
	s.fwdSent += int64(n)
	s.fwdRecv += int64(n)
	s.Dispatch(Duplex)
	return s.Err()
}

// InvokeDuplexRev is InvokeDuplex for a stream the peer answers in reverse.
// Metering then persists across Invoke calls until FlushDuplex.
func (s *Session) InvokeDuplexRev(name string) error {
	s.revSent++
	s.revRecv++
	return s.InvokeDuplex(name)
}

// InvokeOver is InvokeDuplex for handlers already inside a dispatch loop.
// It dispatches only until the unacknowledged total is under the high
// watermark; the enclosing loop receives the remaining acknowledgments.
func (s *Session) InvokeOver(name string) error {
	n, err := s.InvokeOne(name)
	if err != nil {
		return err
	}
	s.fwdSent += int64(n)
	s.fwdRecv += int64(n)
	s.Dispatch(Over)
	return s.Err()
}

// FlushDuplex dispatches until every metered byte is acknowledged.
func (s *Session) FlushDuplex() error {
	if s.fwdRecv == 0 {
		return s.Err()
	}
	s.fwdSent++
	s.fwdRecv++
	s.Dispatch(Flush)
	return s.Err()
}

// StartCompression asks the peer to compress the link. Everything this side
// sends after compress1 is compressed; receiving turns compressed when the
// peer's compress2 arrives.
func (s *Session) StartCompression() error {
	if s.compressing {
		return nil
	}
	if _, err := s.sendVars(protocol.OpCompress1, wire.NewVarSet()); err != nil {
		return err
	}
	if err := s.t.EnableSendCompression(); err != nil {
		s.sendErr.set(err)
		return err
	}
	s.compressing = true
	s.log.Debug().Msg("send compression enabled")
	return nil
}

// Release ends the peer's dispatch loop and flushes.
func (s *Session) Release() error {
	return s.release(protocol.OpRelease)
}

// ReleaseFinal ends the peer's dispatch loop for the last time on this
// connection.
func (s *Session) ReleaseFinal() error {
	return s.release(protocol.OpRelease2)
}

func (s *Session) release(op string) error {
	if _, err := s.sendVars(op, wire.NewVarSet()); err != nil {
		return err
	}
	if err := s.framer.Flush(); err != nil {
		s.sendErr.set(err)
		return err
	}
	return nil
}

// Flush pushes buffered output to the peer.
func (s *Session) Flush() error {
	if err := s.sendErr.err; err != nil {
		return err
	}
	if err := s.framer.Flush(); err != nil {
		s.sendErr.set(err)
		return err
	}
	return nil
}

// sendVars frames vs as op. The protocol message goes out first, once per
// connection. Encoding and size errors are returned without latching.
func (s *Session) sendVars(op string, vs *wire.VarSet) (int, error) {
	if err := s.Err(); err != nil {
		return 0, err
	}
	if op == protocol.OpProtocol {
		s.protocolSent = true
	} else if !s.protocolSent {
		s.protocolSent = true
		pv := wire.NewVarSet()
		s.fillProtocol(pv)
		if _, err := s.sendVars(protocol.OpProtocol, pv); err != nil {
			return 0, err
		}
	}
	vs.SetString(protocol.VarFunc, op)
	payload, err := wire.Encode(vs)
	if err != nil {
		return 0, err
	}
	if err := frame.CheckSize(len(payload)); err != nil {
		return 0, err
	}
	n, err := s.framer.SendMessage(payload)
	if err != nil {
		s.sendErr.set(err)
		s.log.Debug().Str("op", op).Err(err).Msg("send failed")
		return 0, err
	}
	s.obs.MessageSent(op, n)
	return n, nil
}

// fillProtocol adds the declared version, buffer sizes and dynamic protocol
// variables to vs, keeping any the caller already set.
func (s *Session) fillProtocol(vs *wire.VarSet) {
	setInt := func(name string, n int64) {
		if !vs.Has(name) {
			vs.SetInt(name, n)
		}
	}
	setInt(protocol.VarProto, s.cfg.ProtocolVersion)
	setInt(protocol.VarSndbuf, int64(s.t.SendBufferSize()))
	setInt(protocol.VarRcvbuf, int64(s.t.RecvBufferSize()))
	for _, r := range s.protoVars.Records() {
		if !vs.Has(r.Name) {
			vs.Set(r.Name, r.Value)
		}
	}
}
