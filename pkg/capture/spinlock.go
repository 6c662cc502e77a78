package capture

import (
	"runtime"
	"sync/atomic"
)

// spinLock is a non-sleeping mutual exclusion lock for very short
// critical sections. Waiters spin briefly, then yield the processor.
type spinLock struct {
	state atomic.Uint32
}

const spinsBeforeYield = 64

func (l *spinLock) Lock() {
	for spins := 0; !l.state.CompareAndSwap(0, 1); spins++ {
		if spins >= spinsBeforeYield {
			runtime.Gosched()
			spins = 0
		}
	}
}

func (l *spinLock) Unlock() {
	l.state.Store(0)
}
