package session

import (
	"github.com/danmuck/vcsrpc/internal/protocol"
	"github.com/danmuck/vcsrpc/internal/protocol/dispatch"
	"github.com/danmuck/vcsrpc/internal/protocol/wire"
)

// Builtins returns the control message table every registry starts with.
func Builtins() Table {
	return Table{
		{Name: protocol.OpProtocol, Handler: handleProtocol},
		{Name: protocol.OpCompress1, Handler: handleCompress1},
		{Name: protocol.OpCompress2, Handler: handleCompress2},
		{Name: protocol.OpFlush1, Handler: handleFlush1},
		{Name: protocol.OpFlush2, Handler: handleFlush2},
		{Name: protocol.OpRelease, Handler: handleRelease},
		{Name: protocol.OpRelease2, Handler: handleRelease},
	}
}

// NewRegistry returns a registry holding the built-in table followed by
// tables, so later tables shadow the built-ins.
func NewRegistry(tables ...Table) *Registry {
	reg := dispatch.NewRegistry(Builtins())
	for _, t := range tables {
		reg.Add(t)
	}
	return reg
}

func handleProtocol(s *Session) error {
	s.peerVars = s.recv.Clone()
	s.peerProtocol = 0
	if v, ok := s.GetVarInt(protocol.VarProto); ok {
		s.peerProtocol = v
	}
	snd, _ := s.GetVarInt(protocol.VarSndbuf)
	rcv, _ := s.GetVarInt(protocol.VarRcvbuf)
	s.negotiateMarks(snd, rcv)
	s.log.Debug().Int64("peer_proto", s.peerProtocol).Msg("peer protocol")
	return nil
}

// handleCompress1 answers a peer that compresses from here on. If this side
// already compresses (both started at once) only the receive side changes.
func handleCompress1(s *Session) error {
	if err := s.t.EnableRecvCompression(); err != nil {
		s.recvErr.set(err)
		return err
	}
	if s.compressing {
		return nil
	}
	if _, err := s.sendVars(protocol.OpCompress2, wire.NewVarSet()); err != nil {
		return err
	}
	if err := s.t.EnableSendCompression(); err != nil {
		s.sendErr.set(err)
		return err
	}
	s.compressing = true
	s.log.Debug().Msg("link compression enabled by peer")
	return nil
}

func handleCompress2(s *Session) error {
	if err := s.t.EnableRecvCompression(); err != nil {
		s.recvErr.set(err)
		return err
	}
	s.log.Debug().Msg("receive decompression enabled")
	return nil
}

// handleFlush1 echoes the marker's sequence counters back.
func handleFlush1(s *Session) error {
	if hi, ok := s.GetVarInt(protocol.VarHimark); ok {
		s.peerHiMark = hi
	}
	fseq, _ := s.GetVarBytes(protocol.VarFseq)
	rseq, _ := s.GetVarBytes(protocol.VarRseq)
	vs := wire.NewVarSet()
	vs.Set(protocol.VarFseq, fseq)
	vs.Set(protocol.VarRseq, rseq)
	_, err := s.sendVars(protocol.OpFlush2, vs)
	return err
}

func handleFlush2(s *Session) error {
	fseq, _ := s.GetVarInt(protocol.VarFseq)
	rseq, _ := s.GetVarInt(protocol.VarRseq)
	s.fwdRecv = s.ack(s.fwdRecv, fseq, "fwd")
	s.revRecv = s.ack(s.revRecv, rseq, "rev")
	return nil
}

func (s *Session) ack(outstanding, acked int64, dir string) int64 {
	if acked <= outstanding {
		return outstanding - acked
	}
	s.log.Warn().
		Str("dir", dir).
		Int64("outstanding", outstanding).
		Int64("acked", acked).
		Msg("flow acknowledgment exceeds outstanding count")
	return 0
}

func handleRelease(s *Session) error {
	s.endDispatch = true
	s.released = true
	return nil
}
