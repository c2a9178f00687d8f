// Package display owns the MDC protocol engine for one display.
//
// Ownership boundary:
// - connection lifecycle (dial, loss, reconnect backoff)
// - command transmission, pacing and bounded retry
// - matching responses to the queue head
//
// Every Client runs a single actor goroutine. The queue, the receive
// accumulator, the connection and every timer belong to that goroutine;
// public methods, socket readers and timers reach it only through messages.
//
// State machine:
//
//	Disconnected -> Connecting -> Connected -> Disconnected
//
// A client never dials while its queue is empty.
package display
