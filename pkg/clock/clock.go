// Package clock provides the injectable time source used by every
// time-dependent component of the emulator.
//
// No storage backend or engine reads the OS clock directly. They all hold a
// Clock, so tests can substitute a fixed or advanceable source without
// monkey-patching.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time in milliseconds since the Unix epoch.
type Clock func() int64

// System reads the OS wall clock.
var System Clock = func() int64 {
	return time.Now().UnixMilli()
}

// Fixed returns a clock frozen at the given millisecond timestamp.
func Fixed(ms int64) Clock {
	return func() int64 { return ms }
}

// Virtual is an advanceable clock for tests. The zero value starts at 0 ms.
//
// Safe for concurrent use.
type Virtual struct {
	ms atomic.Int64
}

// NewVirtual returns a virtual clock starting at the given timestamp.
func NewVirtual(ms int64) *Virtual {
	v := &Virtual{}
	v.ms.Store(ms)
	return v
}

// Now returns the current virtual time in milliseconds.
func (v *Virtual) Now() int64 {
	return v.ms.Load()
}

// Clock returns a Clock reading this virtual source.
func (v *Virtual) Clock() Clock {
	return v.Now
}

// Advance moves the clock forward by d.
func (v *Virtual) Advance(d time.Duration) {
	v.ms.Add(d.Milliseconds())
}

// AdvanceMillis moves the clock forward by ms milliseconds.
func (v *Virtual) AdvanceMillis(ms int64) {
	v.ms.Add(ms)
}

// Set jumps the clock to an absolute millisecond timestamp.
func (v *Virtual) Set(ms int64) {
	v.ms.Store(ms)
}
