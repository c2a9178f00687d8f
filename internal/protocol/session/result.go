package session

import (
	"context"
	"sync"
)

// Result is the settle-once outcome of one submitted command.
type Result struct {
	once sync.Once
	done chan struct{}
	data []byte
	err  error
}

func NewResult() *Result {
	return &Result{done: make(chan struct{})}
}

// Resolve settles r with response data. It reports whether this call settled r.
func (r *Result) Resolve(data []byte) bool {
	return r.settle(data, nil)
}

// Reject settles r with err. It reports whether this call settled r.
func (r *Result) Reject(err error) bool {
	return r.settle(nil, err)
}

func (r *Result) settle(data []byte, err error) bool {
	settled := false
	r.once.Do(func() {
		r.data = data
		r.err = err
		settled = true
		close(r.done)
	})
	return settled
}

// Done is closed once r is settled.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Settled reports whether r already carries an outcome.
func (r *Result) Settled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Err returns the failure of a settled result, or nil while pending.
func (r *Result) Err() error {
	if !r.Settled() {
		return nil
	}
	return r.err
}

// Wait blocks until r settles or ctx ends. A ctx error leaves the command
// queued; it only stops this caller from waiting.
func (r *Result) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
