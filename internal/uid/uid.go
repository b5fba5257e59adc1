// Package uid allocates process-unique, time-ordered 64-bit identifiers.
//
// An ID packs the wall clock into its upper 48 bits and a per-millisecond
// sequence into the lower 16, so IDs sort by allocation time and the coarse
// timestamp can be recovered without a lookup.
package uid

import (
	"strconv"
	"sync/atomic"
	"time"
)

// counterBits is the width of the per-millisecond sequence.
const counterBits = 16

// ID is a 64-bit identifier of the form (millis << 16) | counter.
type ID uint64

// String renders the ID in its wire form (decimal).
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Millis returns the coarse timestamp embedded in the ID.
func (id ID) Millis() int64 {
	return int64(id >> counterBits)
}

// Parse converts the decimal wire form back into an ID.
func Parse(s string) (ID, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return ID(v), true
}

// Allocator hands out strictly increasing IDs. The packed state doubles as
// the last ID issued; a single CAS both claims the next value and publishes
// the new state, so no locks are needed.
type Allocator struct {
	state atomic.Uint64

	nowMillis func() int64
}

// NewAllocator returns an allocator backed by the wall clock.
func NewAllocator() *Allocator {
	return &Allocator{nowMillis: func() int64 { return time.Now().UnixMilli() }}
}

// NewAllocatorWithClock returns an allocator with an injected clock.
func NewAllocatorWithClock(nowMillis func() int64) *Allocator {
	return &Allocator{nowMillis: nowMillis}
}

// Next returns the next ID. If the wall clock regresses, or the 16-bit
// sequence for the current millisecond is exhausted, the allocator keeps
// counting past the millisecond boundary (borrowing from future milliseconds)
// rather than ever emitting a smaller value.
func (a *Allocator) Next() ID {
	for {
		old := a.state.Load()
		candidate := uint64(a.nowMillis()) << counterBits
		next := candidate
		if next <= old {
			next = old + 1
		}
		if a.state.CompareAndSwap(old, next) {
			return ID(next)
		}
	}
}
