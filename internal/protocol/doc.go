// Package protocol owns the wire contract shared by every layer of the RPC core.
//
// Ownership boundary:
// - error taxonomy for framing, decoding, transport and dispatch failures
// - names of the built-in control messages and their variables
//
// Subpackages:
// - wire: tagged-variable payload codec
// - frame: checksum/length framing over a transport
// - schema: required variables for control messages
// - dispatch: operation name to handler registry
// - session: invoke/dispatch state machine and duplex flow control
package protocol
