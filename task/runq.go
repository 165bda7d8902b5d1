package task

import "fmt"
import "sync/atomic"

import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/spinlock"
import "github.com/SlopLabs/slopos-sub002/util"

// a per-CPU ready queue: one FIFO per priority level, linked through the task
// records by table index. only the owning CPU pops under normal operation;
// peers go through Trysteal/Take under the same lock.
type Runq_t struct {
	l      spinlock.Spinlock_t
	cpu    int32
	tt     *Table_t
	head   [limits.NPRIO]int32
	tail   [limits.NPRIO]int32
	bitmap uint32
	n      int32
}

func (rq *Runq_t) Init(cpu int, tt *Table_t) {
	rq.cpu = int32(cpu)
	rq.tt = tt
	for i := range rq.head {
		rq.head[i] = -1
		rq.tail[i] = -1
	}
	rq.bitmap = 0
	atomic.StoreInt32(&rq.n, 0)
}

func (rq *Runq_t) Lock() {
	rq.l.Lock()
}

func (rq *Runq_t) Unlock() {
	rq.l.Unlock()
}

func (rq *Runq_t) Trylock() bool {
	return rq.l.Trylock()
}

// number of queued tasks; a racy snapshot when read without the lock.
func (rq *Runq_t) Len() int {
	return int(atomic.LoadInt32(&rq.n))
}

func (rq *Runq_t) at(i int32) *Task_t {
	return &rq.tt.tasks[i]
}

func (rq *Runq_t) _push(t *Task_t) {
	rq.l.Lockassert()
	if t.Idle {
		panic("idle task queued")
	}
	if q := atomic.LoadInt32(&t.onq); q != -1 {
		panic(fmt.Sprintf("task %v already on queue %v", t.Tid, q))
	}
	p := t.Prio()
	if p < PRIO_MAX || p >= PRIO_IDLE {
		panic("bad prio")
	}
	idx := int32(t.Tid)
	t.qprio = int32(p)
	atomic.StoreInt32(&t.onq, rq.cpu)
	if rq.head[p] == -1 {
		t.qnext, t.qprev = -1, -1
		rq.head[p], rq.tail[p] = idx, idx
	} else {
		t.qnext = -1
		t.qprev = rq.tail[p]
		rq.at(rq.tail[p]).qnext = idx
		rq.tail[p] = idx
	}
	rq.bitmap |= 1 << uint(p)
	atomic.AddInt32(&rq.n, 1)
}

func (rq *Runq_t) _unlink(t *Task_t, p int) {
	if t.qprev == -1 {
		rq.head[p] = t.qnext
	} else {
		rq.at(t.qprev).qnext = t.qnext
	}
	if t.qnext == -1 {
		rq.tail[p] = t.qprev
	} else {
		rq.at(t.qnext).qprev = t.qprev
	}
	if rq.head[p] == -1 {
		rq.bitmap &^= 1 << uint(p)
	}
	t.qnext, t.qprev = -1, -1
	atomic.StoreInt32(&t.onq, -1)
	atomic.AddInt32(&rq.n, -1)
}

// most urgent non-empty level, or -1.
func (rq *Runq_t) _top() int {
	if rq.bitmap == 0 {
		return -1
	}
	return util.Ffs64(uint64(rq.bitmap))
}

func (rq *Runq_t) _pophead() *Task_t {
	p := rq._top()
	if p == -1 {
		return nil
	}
	t := rq.at(rq.head[p])
	rq._unlink(t, p)
	return t
}

func (rq *Runq_t) _poptail() *Task_t {
	p := rq._top()
	if p == -1 {
		return nil
	}
	t := rq.at(rq.tail[p])
	rq._unlink(t, p)
	return t
}

func (rq *Runq_t) Push(t *Task_t) {
	rq.l.Lock()
	rq._push(t)
	rq.l.Unlock()
}

// removes the oldest task of the most urgent level.
func (rq *Runq_t) Pop() *Task_t {
	rq.l.Lock()
	t := rq._pophead()
	rq.l.Unlock()
	return t
}

// removes a task on behalf of another CPU without waiting for the lock.
// returns nil if the lock is contended or the queue is empty.
func (rq *Runq_t) Trysteal() *Task_t {
	if rq.Len() == 0 || !rq.l.Trylock() {
		return nil
	}
	t := rq._poptail()
	rq.l.Unlock()
	return t
}

// like Trysteal, but waits for the lock.
func (rq *Runq_t) Take() *Task_t {
	rq.l.Lock()
	t := rq._poptail()
	rq.l.Unlock()
	return t
}

// returns a task obtained by Trysteal or Take to the queue it came from.
func (rq *Runq_t) Putback(t *Task_t) {
	rq.Push(t)
}

// removes t if it is queued here. returns true if it was.
func (rq *Runq_t) Remove(t *Task_t) bool {
	rq.l.Lock()
	defer rq.l.Unlock()
	if atomic.LoadInt32(&t.onq) != rq.cpu {
		return false
	}
	rq._unlink(t, int(t.qprio))
	return true
}

func (rq *Runq_t) Contains(t *Task_t) bool {
	rq.l.Lock()
	ret := atomic.LoadInt32(&t.onq) == rq.cpu
	rq.l.Unlock()
	return ret
}

// calls f on every queued task, most urgent first, with the queue locked.
// f must not modify the queue.
func (rq *Runq_t) Iter(f func(*Task_t) bool) {
	rq.l.Lock()
	defer rq.l.Unlock()
	for p := range rq.head {
		for i := rq.head[p]; i != -1; i = rq.at(i).qnext {
			if !f(rq.at(i)) {
				return
			}
		}
	}
}

// reports the most urgent queued priority, or -1.
func (rq *Runq_t) Toprio() int {
	rq.l.Lock()
	p := rq._top()
	rq.l.Unlock()
	return p
}
