package sched

import "sync/atomic"

import "github.com/SlopLabs/slopos-sub002/accnt"
import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/spinlock"
import "github.com/SlopLabs/slopos-sub002/stats"
import "github.com/SlopLabs/slopos-sub002/task"

// exception stacks (double fault, NMI, machine check) are carved out of a
// fixed region, NIST per CPU.
const (
	ISTBASE = uintptr(0xffffa00000000000)
	ISTSZ   = uintptr(4 << 12)
)

type cpustats_t struct {
	Nswitch    stats.Counter_t
	Nyield     stats.Counter_t
	Npreempt   stats.Counter_t
	Nblock     stats.Counter_t
	Nsteal     stats.Counter_t
	Nstealfail stats.Counter_t
	Ndrain     stats.Counter_t
	Nstale     stats.Counter_t
	Ninboxfull stats.Counter_t
	Nhalt      stats.Counter_t
	Nticks     stats.Counter_t
	Nistskip   stats.Counter_t
	Nwoke      stats.Counter_t
	// most wakes found in the inbox by one drain
	Inboxmax   stats.Hwm_t
}

// tasks woken by other CPUs wait here until the owner moves them onto its
// ready queue.
type inbox_t struct {
	l    spinlock.Spinlock_t
	ring [limits.INBOXSZ]task.Tref_t
	head uint32
	n    uint32
}

// returns false if the inbox is full.
func (ib *inbox_t) put(r task.Tref_t) bool {
	ib.l.Lock()
	defer ib.l.Unlock()
	if ib.n == uint32(len(ib.ring)) {
		return false
	}
	ib.ring[(ib.head+ib.n)%uint32(len(ib.ring))] = r
	atomic.AddUint32(&ib.n, 1)
	return true
}

// moves every queued reference into out, which must hold INBOXSZ entries.
func (ib *inbox_t) take(out []task.Tref_t) int {
	if atomic.LoadUint32(&ib.n) == 0 {
		return 0
	}
	ib.l.Lock()
	n := int(ib.n)
	for i := 0; i < n; i++ {
		out[i] = ib.ring[(ib.head+uint32(i))%uint32(len(ib.ring))]
	}
	ib.head = (ib.head + uint32(n)) % uint32(len(ib.ring))
	atomic.StoreUint32(&ib.n, 0)
	ib.l.Unlock()
	return n
}

func (ib *inbox_t) len() int {
	return int(atomic.LoadUint32(&ib.n))
}

type Cpu_t struct {
	id     int
	online int32
	paused int32

	rq    task.Runq_t
	inbox inbox_t

	// the idle task's context is the dispatch loop itself
	idle   *task.Task_t
	idletf defs.Trapframe_t
	Iacct  accnt.Accnt_t

	// tid of the dispatched task, 0 while the loop runs
	cur int32
	// the following are only touched by whatever runs on this CPU
	slice   int
	requeue bool

	pending  int32
	preempt  int32
	irqdepth int32
	ist      [limits.NIST]task.Kstack_t

	Stats cpustats_t
}

func (c *Cpu_t) init(id int, tt *task.Table_t) {
	c.id = id
	c.rq.Init(id, tt)
	c.inbox.head = 0
	atomic.StoreUint32(&c.inbox.n, 0)
	for i := range c.ist {
		lo := ISTBASE + uintptr(id*limits.NIST+i)*(ISTSZ+(1<<12))
		c.ist[i] = task.Kstack_t{Lo: lo, Hi: lo + ISTSZ}
	}
	c.idletf = defs.Trapframe_t{}
	c.idletf[defs.TF_CS] = defs.KCODE64
	c.idletf[defs.TF_RFLAGS] = defs.TF_FL_IF
	c.idletf[defs.TF_TRAP] = defs.TIMER
	atomic.StoreInt32(&c.cur, 0)
	atomic.StoreInt32(&c.pending, 0)
	atomic.StoreInt32(&c.preempt, 0)
	atomic.StoreInt32(&c.irqdepth, 0)
}

func (c *Cpu_t) Online() bool {
	return atomic.LoadInt32(&c.online) != 0
}

func (c *Cpu_t) Paused() bool {
	return atomic.LoadInt32(&c.paused) != 0
}

func (c *Cpu_t) set_pending() {
	atomic.StoreInt32(&c.pending, 1)
}

// clears the reschedule-pending flag, returning whether it was set.
func (c *Cpu_t) take_pending() bool {
	return atomic.CompareAndSwapInt32(&c.pending, 1, 0)
}

func (c *Cpu_t) Resched_pending() bool {
	return atomic.LoadInt32(&c.pending) != 0
}

func (c *Cpu_t) Preempt_count() int {
	return int(atomic.LoadInt32(&c.preempt))
}

func (c *Cpu_t) Irq_depth() int {
	return int(atomic.LoadInt32(&c.irqdepth))
}

// true if sp lies on one of the CPU's exception stacks.
func (c *Cpu_t) on_ist(sp uintptr) bool {
	for _, k := range c.ist {
		if k.Contains(sp) {
			return true
		}
	}
	return false
}

func (c *Cpu_t) Ist(i int) task.Kstack_t {
	return c.ist[i]
}

func (c *Cpu_t) Idle_task() *task.Task_t {
	return c.idle
}

// ready tasks waiting for this CPU, inbox included.
func (c *Cpu_t) Nready() int {
	return c.rq.Len() + c.inbox.len()
}
