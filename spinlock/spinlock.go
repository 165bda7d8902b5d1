package spinlock

import "runtime"
import "sync/atomic"

// spins before Lock yields the host processor. the lock holder may be a
// goroutine that is not currently running, so an unbounded spin could wait on
// a holder that never gets scheduled.
var Spinbudget = 1 << 10

type Spinlock_t struct {
	v uint32
}

func (l *Spinlock_t) Lock() {
	for {
		for i := 0; i < Spinbudget; i++ {
			if atomic.LoadUint32(&l.v) == 0 &&
				atomic.CompareAndSwapUint32(&l.v, 0, 1) {
				return
			}
		}
		runtime.Gosched()
	}
}

// returns true if the lock was acquired.
func (l *Spinlock_t) Trylock() bool {
	return atomic.CompareAndSwapUint32(&l.v, 0, 1)
}

func (l *Spinlock_t) Unlock() {
	if !atomic.CompareAndSwapUint32(&l.v, 1, 0) {
		panic("unlock of unlocked spinlock")
	}
}

func (l *Spinlock_t) Held() bool {
	return atomic.LoadUint32(&l.v) != 0
}

func (l *Spinlock_t) Lockassert() {
	if !l.Held() {
		panic("spinlock must be held")
	}
}
