package agent

import "sync/atomic"

// Abort is a one-way cancellation token. The run checks it at the top of
// each iteration; awaited engine and executor calls are never interrupted
// by it.
type Abort struct {
	tripped atomic.Bool
}

// Trip marks the token. Safe to call more than once, from any goroutine.
func (a *Abort) Trip() { a.tripped.Store(true) }

// Tripped reports whether Trip has been called.
func (a *Abort) Tripped() bool { return a.tripped.Load() }
