// Package idallocator generates monotonically increasing 64-bit identifiers
// for connections, messages, and rooms, embedding a coarse timestamp in each
// one.
package idallocator

import (
	"sync/atomic"
	"time"
)

// counterBits is the width of the per-millisecond sequence packed into the
// low bits of each allocated ID. 16 bits allows 65536 IDs per millisecond
// before the allocator has to borrow from the next one.
const counterBits = 16

const counterMask = 1<<counterBits - 1

// Allocator produces IDs shaped as (millis_since_epoch << 16) | counter,
// where counter resets to zero whenever millis advances and is advanced past
// a millisecond boundary if it would otherwise wrap. The packed state lives
// in a single uint64 so every allocation is a lock-free compare-and-swap
// loop; there are no mutexes on the hot path.
type Allocator struct {
	state atomic.Uint64
}

// New returns an Allocator seeded at the current wall-clock millisecond.
func New() *Allocator {
	a := &Allocator{}
	a.state.Store(uint64(nowMillis()) << counterBits)
	return a
}

// Next returns the next ID. It is safe for concurrent use by any number of
// goroutines and never returns a value less than or equal to one it has
// already returned, even across a wall-clock regression: on regression the
// allocator keeps the last-seen millisecond and continues incrementing the
// counter rather than emit a decreasing ID.
func (a *Allocator) Next() uint64 {
	for {
		old := a.state.Load()
		oldMillis := old >> counterBits
		oldCounter := old & counterMask

		millis := uint64(nowMillis())
		var newMillis, newCounter uint64

		switch {
		case millis > oldMillis:
			newMillis = millis
			newCounter = 0
		case oldCounter == counterMask:
			// Counter space exhausted within this millisecond: borrow from
			// the next one rather than stall or collide.
			newMillis = oldMillis + 1
			newCounter = 0
		default:
			newMillis = oldMillis
			newCounter = oldCounter + 1
		}

		newState := (newMillis << counterBits) | newCounter
		if a.state.CompareAndSwap(old, newState) {
			return newState
		}
	}
}

// Millis extracts the coarse allocation timestamp embedded in id.
func Millis(id uint64) int64 {
	return int64(id >> counterBits)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
