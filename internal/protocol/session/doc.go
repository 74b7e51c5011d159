// Package session owns the invoke/dispatch state machine of one connection.
//
// Ownership boundary:
// - send and receive variable sets
// - duplex flow control (flush markers, watermarks)
// - nested dispatch depth and containment
// - built-in control messages (protocol, compression, flush, release)
// - error latches
//
// A Session is single threaded: one call stack drives Invoke, Dispatch,
// handlers and any nested Invoke. Run one goroutine per session.
package session
