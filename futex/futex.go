// Package futex keeps the global table of tasks blocked on user-space words.
// Waiters are keyed by the physical address of the word so that tasks sharing
// a page through different mappings meet in the same bucket.
package futex

import "fmt"

import "github.com/SlopLabs/slopos-sub002/caller"
import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/spinlock"
import "github.com/SlopLabs/slopos-sub002/task"

// reads user words by physical address.
type Umem_i interface {
	Load32(pa uintptr) (uint32, defs.Err_t)
}

// the scheduler services a futex needs.
type Blocker_i interface {
	// bracket a bucket critical section executed by self; preemption is
	// disabled in between.
	Crit_enter(self *task.Task_t)
	Crit_exit(self *task.Task_t)
	// gives up the CPU until a matching wake; returns immediately if the
	// wake already happened.
	Block(self *task.Task_t)
	Unblock(ref task.Tref_t, reason task.Reason_t) bool
}

type waiter_t struct {
	addr uintptr
	ref  task.Tref_t
	used bool
}

type bucket_t struct {
	l     spinlock.Spinlock_t
	slots [limits.FUTEX_SLOTS]waiter_t
	n     int
}

type Futex_t struct {
	buckets [limits.FUTEX_BUCKETS]bucket_t
	mem     Umem_i
	blk     Blocker_i
	// bucket-full warnings are printed once per distinct call path
	Full caller.Distinct_caller_t
}

func (f *Futex_t) Init(mem Umem_i, blk Blocker_i) {
	f.mem = mem
	f.blk = blk
	f.Full.Enabled = true
	for i := range f.buckets {
		b := &f.buckets[i]
		b.n = 0
		for j := range b.slots {
			b.slots[j] = waiter_t{}
		}
	}
}

// the bucket index for a 4-byte aligned address.
func Hash(addr uintptr) int {
	h := uint32(addr>>2) * 2654435761
	return int(h & (limits.FUTEX_BUCKETS - 1))
}

func (f *Futex_t) bucket(addr uintptr) *bucket_t {
	return &f.buckets[Hash(addr)]
}

// blocks self until a wake on addr, provided the word at addr still holds
// expected. returns -EAGAIN if the word changed (the caller re-checks its
// condition and retries) or there is no calling task, -ENOMEM if the bucket
// is full. timeout is accepted but not enforced; the wait lasts until a wake.
func (f *Futex_t) Wait(self *task.Task_t, addr uintptr, expected uint32, timeout uint64) defs.Err_t {
	if self == nil {
		return -defs.EAGAIN
	}
	if addr&0x3 != 0 {
		return -defs.EINVAL
	}
	_ = timeout
	b := f.bucket(addr)

	f.blk.Crit_enter(self)
	b.l.Lock()
	// the value check and the enqueue happen under one acquisition so that
	// a wake between the caller's read and this point is not missed.
	v, err := f.mem.Load32(addr)
	if err != 0 {
		b.l.Unlock()
		f.blk.Crit_exit(self)
		return err
	}
	if v != expected {
		b.l.Unlock()
		f.blk.Crit_exit(self)
		return -defs.EAGAIN
	}
	slot := -1
	for i := range b.slots {
		if !b.slots[i].used {
			slot = i
			break
		}
	}
	if slot == -1 {
		b.l.Unlock()
		f.blk.Crit_exit(self)
		if ok, path := f.Full.Distinct(); ok {
			fmt.Printf("futex bucket %v full (%#x):\n%s", Hash(addr),
				addr, path)
		}
		return -defs.ENOMEM
	}
	self.Prepare_block(task.R_FUTEX)
	b.slots[slot] = waiter_t{addr: addr, ref: self.Ref(), used: true}
	b.n++
	b.l.Unlock()
	f.blk.Crit_exit(self)

	f.blk.Block(self)
	return 0
}

// wakes up to max tasks waiting on addr. returns the number woken.
func (f *Futex_t) Wake(addr uintptr, max int) int {
	if max <= 0 {
		return 0
	}
	b := f.bucket(addr)
	woke := 0
	b.l.Lock()
	for i := range b.slots {
		if woke >= max {
			break
		}
		w := &b.slots[i]
		if !w.used || w.addr != addr {
			continue
		}
		ref := w.ref
		*w = waiter_t{}
		b.n--
		if f.blk.Unblock(ref, task.R_FUTEX) {
			woke++
		}
	}
	b.l.Unlock()
	return woke
}

// wakes at most one waiter; used to release a joiner once a task clears its
// tid word.
func (f *Futex_t) Wake_one(addr uintptr) int {
	return f.Wake(addr, 1)
}

// drops every waiter slot referencing the task. the caller does not know
// which bucket the task waits in, so all buckets are scanned.
func (f *Futex_t) Remove_task(ref task.Tref_t) int {
	n := 0
	for i := range f.buckets {
		b := &f.buckets[i]
		b.l.Lock()
		if b.n == 0 {
			b.l.Unlock()
			continue
		}
		for j := range b.slots {
			w := &b.slots[j]
			if w.used && w.ref == ref {
				*w = waiter_t{}
				b.n--
				n++
			}
		}
		b.l.Unlock()
	}
	return n
}

// number of tasks waiting on addr.
func (f *Futex_t) Waiters(addr uintptr) int {
	b := f.bucket(addr)
	n := 0
	b.l.Lock()
	for i := range b.slots {
		if b.slots[i].used && b.slots[i].addr == addr {
			n++
		}
	}
	b.l.Unlock()
	return n
}

// total occupied slots in addr's bucket.
func (f *Futex_t) Occupancy(addr uintptr) int {
	b := f.bucket(addr)
	b.l.Lock()
	n := b.n
	b.l.Unlock()
	return n
}
