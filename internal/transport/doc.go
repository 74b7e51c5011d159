// Package transport owns the byte-stream side of a session.
//
// Ownership boundary:
// - buffered send/receive over a net.Conn or websocket stream
// - one-way link compression per direction
// - bounded waits with liveness-driven cancellation
// - dialing with backoff, listening, TLS material
package transport
