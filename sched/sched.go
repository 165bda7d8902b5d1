// Package sched is the SMP scheduler core: per-CPU ready queues and dispatch
// loops, blocking and waking, work stealing, periodic balancing, the sleep
// queue and futex glue, and the interrupt-return reschedule hook.
//
// A Sched_t is brought up in a fixed order:
//
//	s := Mksched(plat, umem, lim)  // global tables
//	s.Init_scheduler()             // boot CPU
//	s.Init_scheduler_for_ap(cpu)   // each application processor
//	s.Start()                      // blocking primitives now block
//	s.Enter_scheduler(cpu)         // on each CPU; never returns
//
// Tasks may be created any time after Init_scheduler.
package sched

import "fmt"
import "sync/atomic"

import "github.com/SlopLabs/slopos-sub002/ctxsw"
import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/futex"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/sleepq"
import "github.com/SlopLabs/slopos-sub002/spinlock"
import "github.com/SlopLabs/slopos-sub002/stats"
import "github.com/SlopLabs/slopos-sub002/task"
import "github.com/SlopLabs/slopos-sub002/util"

// the machine below the scheduler.
type Platform_i interface {
	Ncpu() int
	Timerhz() uint64
	// waits for the next interrupt with interrupts enabled; returns the
	// number of timer interrupts to deliver.
	Halt(cpu int) int
	// timer interrupts raised on cpu since the last Halt or call.
	Pending_ticks(cpu int) int
	// sends a wakeup IPI.
	Kick(cpu int)
	Delay_ms(ms uint64)
	Nanotime() uint64
	Halt_forever(cpu int)
}

// access to user memory by physical address.
type Umem_i interface {
	Uva2pa(pid int, va uintptr) (uintptr, defs.Err_t)
	Load32(pa uintptr) (uint32, defs.Err_t)
	Store32(pa uintptr, v uint32) defs.Err_t
}

// a task body. it runs on the task's own context and receives its own record;
// returning from it exits the task with status 0.
type Taskfn_t func(self *task.Task_t, arg uintptr)

type schedstats_t struct {
	Ncreate  stats.Counter_t
	Nexit    stats.Counter_t
	Nreap    stats.Counter_t
	Nbalance stats.Counter_t
	Nmigrate stats.Counter_t
	Nfixup   stats.Counter_t
	Nsleep   stats.Counter_t
	Nwake    stats.Counter_t
	Nkill    stats.Counter_t
}

type Sched_t struct {
	plat Platform_i
	umem Umem_i
	lim  *limits.Syslimit_t
	ncpu int
	hz   uint64
	// timer ticks per time slice
	quantum int

	cpus [limits.MAXCPUS]Cpu_t
	tt   task.Table_t
	sq   sleepq.Sleepq_t
	ft   futex.Futex_t

	active  int32
	appause int32
	// global tick counter, advanced by the boot CPU's timer
	ticks   uint64
	lastbal uint64

	reapl   spinlock.Spinlock_t
	nzombie int32

	iwl      spinlock.Spinlock_t
	idlewake Idlewake_i

	Stats schedstats_t
}

func Mksched(plat Platform_i, umem Umem_i, lim *limits.Syslimit_t) *Sched_t {
	ncpu := plat.Ncpu()
	if ncpu <= 0 || ncpu > limits.MAXCPUS {
		panic("bad cpu count")
	}
	hz := plat.Timerhz()
	if hz == 0 {
		panic("no timer")
	}
	s := &Sched_t{plat: plat, umem: umem, lim: lim, ncpu: ncpu, hz: hz}
	s.quantum = int(lim.Quantum_ms * hz / 1000)
	if s.quantum < 1 {
		s.quantum = 1
	}
	spinlock.Spinbudget = lim.Stealspin
	s.tt.Init(&lim.Sysprocs)
	s.sq.Init()
	s.ft.Init(umem, &fblocker_t{s: s})
	return s
}

// brings up the boot CPU.
func (s *Sched_t) Init_scheduler() defs.Err_t {
	return s.Init_scheduler_for_ap(0)
}

// creates cpu's idle task and makes the CPU eligible for tasks. the calling
// context becomes the CPU's dispatch loop context.
func (s *Sched_t) Init_scheduler_for_ap(cpu int) defs.Err_t {
	if cpu < 0 || cpu >= s.ncpu {
		return -defs.EINVAL
	}
	c := &s.cpus[cpu]
	if c.Online() {
		return -defs.EBUSY
	}
	c.init(cpu, &s.tt)
	idle, err := s.tt.Alloc(fmt.Sprintf("idle%d", cpu), 0, task.PRIO_IDLE,
		1<<uint(cpu))
	if err != 0 {
		return err
	}
	idle.Idle = true
	idle.Set_running()
	idle.Setcpu(cpu)
	idle.Setoncpu(true)
	ctxsw.Capture(&idle.Ctx)
	idle.Ctx.Set_fatal(func(why string) {
		s.fatal(cpu, "%s", why)
	})
	c.idle = idle
	atomic.StoreInt32(&c.online, 1)
	dbg("cpu %v online, idle %v\n", cpu, idle.Tid)
	return 0
}

// replaces an exception stack range of cpu.
func (s *Sched_t) Set_ist_stack(cpu, i int, k task.Kstack_t) {
	if i < 0 || i >= limits.NIST || !k.Valid() {
		panic("bad ist")
	}
	s.cpus[cpu].ist[i] = k
}

func (s *Sched_t) Start() {
	if !s.cpus[0].Online() {
		panic("start before boot cpu init")
	}
	atomic.StoreInt32(&s.active, 1)
}

// after Stop, sleeps degrade to polled delays again.
func (s *Sched_t) Stop() {
	atomic.StoreInt32(&s.active, 0)
}

func (s *Sched_t) Active() bool {
	return atomic.LoadInt32(&s.active) != 0
}

func (s *Sched_t) Ncpu() int {
	return s.ncpu
}

func (s *Sched_t) Cpu(cpu int) *Cpu_t {
	return &s.cpus[cpu]
}

func (s *Sched_t) Tasks() *task.Table_t {
	return &s.tt
}

func (s *Sched_t) Sleepq() *sleepq.Sleepq_t {
	return &s.sq
}

func (s *Sched_t) Futex() *futex.Futex_t {
	return &s.ft
}

func (s *Sched_t) Ticks() uint64 {
	return atomic.LoadUint64(&s.ticks)
}

// the mask of every configured CPU.
func (s *Sched_t) cpumask() uint64 {
	return util.Lowbits(s.ncpu)
}

// creates a Ready task that runs fn(self, arg) and queues it.
func (s *Sched_t) Create_task(name string, pid, prio int, affinity uint64,
	fn Taskfn_t, arg uintptr) (*task.Task_t, defs.Err_t) {
	if fn == nil {
		return nil, -defs.EINVAL
	}
	if prio < task.PRIO_MAX || prio >= task.PRIO_IDLE {
		return nil, -defs.EINVAL
	}
	if affinity != 0 && affinity&s.cpumask() == 0 {
		return nil, -defs.EINVAL
	}
	t, err := s.tt.Alloc(name, pid, prio, affinity)
	if err != 0 {
		return nil, err
	}
	entry := func(a uintptr) {
		fn(t, a)
	}
	exit := func() {
		s.Exit(t, 0)
	}
	ctxsw.Mkctx(&t.Ctx, t.Kstack.Hi, entry, arg, exit)
	t.Ctx.Set_fatal(func(why string) {
		s.fatal(t.Cpu(), "task %v: %s", t.Tid, why)
	})
	s.Stats.Ncreate.Inc()
	s.Schedule_task(t)
	return t, 0
}

// changes the CPUs the task may run on. a queued task on a CPU outside the
// new mask moves immediately; a running one moves when it next yields.
func (s *Sched_t) Set_affinity(ref task.Tref_t, mask uint64) defs.Err_t {
	if mask != 0 && mask&s.cpumask() == 0 {
		return -defs.EINVAL
	}
	t, ok := s.tt.Get(ref)
	if !ok || t.Idle {
		return -defs.ESRCH
	}
	t.Setaffinity(mask)
	if q := t.Onq(); q >= 0 && !t.Allowed(q) {
		if s.cpus[q].rq.Remove(t) {
			s.Stats.Nfixup.Inc()
			s.Schedule_task(t)
		}
	}
	return 0
}

func (s *Sched_t) Set_priority(ref task.Tref_t, prio int) defs.Err_t {
	if prio < task.PRIO_MAX || prio >= task.PRIO_IDLE {
		return -defs.EINVAL
	}
	t, ok := s.tt.Get(ref)
	if !ok || t.Idle {
		return -defs.ESRCH
	}
	if q := t.Onq(); q >= 0 && s.cpus[q].rq.Remove(t) {
		t.Setprio(prio)
		s.cpus[q].rq.Push(t)
	} else {
		t.Setprio(prio)
	}
	return 0
}

// picks the CPU a ready task should queue on: the CPU it last ran on if the
// affinity mask allows, else the lowest allowed online CPU.
func (s *Sched_t) pick_cpu(t *task.Task_t) int {
	last := t.Cpu()
	if last >= 0 && last < s.ncpu && s.cpus[last].Online() && t.Allowed(last) {
		return last
	}
	for i := 0; i < s.ncpu; i++ {
		if s.cpus[i].Online() && t.Allowed(i) {
			return i
		}
	}
	// no allowed CPU is online yet; the dispatcher moves the task once one
	// comes up
	for i := 0; i < s.ncpu; i++ {
		if s.cpus[i].Online() {
			return i
		}
	}
	return 0
}

// makes a Ready task visible on some CPU's queue. a CPU's inbox absorbs the
// wake; when it is full the task goes straight onto the queue under its lock.
func (s *Sched_t) Schedule_task(t *task.Task_t) {
	if t.Idle {
		panic("idle task scheduled")
	}
	cpu := s.pick_cpu(t)
	c := &s.cpus[cpu]
	t.Setcpu(cpu)
	if !c.inbox.put(t.Ref()) {
		c.Stats.Ninboxfull.Inc()
		c.rq.Push(t)
	}
	if cur := s.current(c); cur != nil && t.Prio() < cur.Prio() {
		c.set_pending()
	}
	s.plat.Kick(cpu)
}

// the task dispatched on c, or nil.
func (s *Sched_t) current(c *Cpu_t) *task.Task_t {
	tid := atomic.LoadInt32(&c.cur)
	if tid == 0 {
		return nil
	}
	t, ok := s.tt.Byid(defs.Tid_t(tid))
	if !ok {
		return nil
	}
	return t
}

func (s *Sched_t) Statstr() string {
	ret := "sched:" + stats.Stats2String(&s.Stats)
	for i := 0; i < s.ncpu; i++ {
		c := &s.cpus[i]
		if !c.Online() {
			continue
		}
		ret += fmt.Sprintf("cpu %v: idle %vms queued %v", i,
			c.Iacct.Total()/1000000, c.Nready())
		ret += stats.Stats2String(&c.Stats)
	}
	return ret
}
