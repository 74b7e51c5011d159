package protocol

// Control message names understood by every session.
const (
	OpProtocol  = "protocol"
	OpCompress1 = "compress1"
	OpCompress2 = "compress2"
	OpFlush1    = "flush1"
	OpFlush2    = "flush2"
	OpRelease   = "release"
	OpRelease2  = "release2"
)

// Variable names with protocol meaning.
const (
	VarFunc    = "func"
	VarProto   = "proto"
	VarSndbuf  = "sndbuf"
	VarRcvbuf  = "rcvbuf"
	VarHimark  = "himark"
	VarFseq    = "fseq"
	VarRseq    = "rseq"
	VarHandle  = "handle"
	VarData    = "data"
	VarPath    = "path"
	VarMessage = "message"
)

// ProtocolVersion is the version this implementation declares in the protocol message.
const ProtocolVersion = 3

// IsControl reports whether op is one of the built-in control messages.
func IsControl(op string) bool {
	switch op {
	case OpProtocol, OpCompress1, OpCompress2, OpFlush1, OpFlush2, OpRelease, OpRelease2:
		return true
	}
	return false
}
