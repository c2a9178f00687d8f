// Package session owns per-display exchange state shared by the client actor.
//
// Ownership boundary:
// - reliability config and backoff primitives
// - FIFO command queue with a single in-flight head
// - settle-once command results
//
// Nothing in this package is safe for concurrent mutation except Result;
// the queue belongs to exactly one actor goroutine.
package session
