// Package leadership provides the one-shot "I am the leader" latch. It
// transitions false→true exactly once per process lifetime: leader.Engine's
// Activate sets it just before starting the engine's loops, and the robot
// node checks it so that it promotes itself at most once.
package leadership

import "sync"

// Flag is a one-shot broadcast primitive: goroutines call Wait to block
// until Set is called; Set may be called more than once but only the first
// call has any effect.
type Flag struct {
	once sync.Once
	ch   chan struct{}
}

// NewFlag returns an unset Flag.
func NewFlag() *Flag {
	return &Flag{ch: make(chan struct{})}
}

// Set transitions the flag to true, waking every current and future
// waiter. Safe to call more than once; only the first call matters.
func (f *Flag) Set() {
	f.once.Do(func() { close(f.ch) })
}

// IsSet reports whether Set has been called, without blocking.
func (f *Flag) IsSet() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until Set has been called.
func (f *Flag) Wait() {
	<-f.ch
}

// Done returns the underlying channel, closed when the flag is set, so
// callers can select on it alongside other events.
func (f *Flag) Done() <-chan struct{} {
	return f.ch
}
