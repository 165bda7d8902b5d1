package sched

import "runtime"
import "sync/atomic"

import "github.com/SlopLabs/slopos-sub002/ctxsw"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/task"

// what one pass of the dispatch loop did.
type Step_t int

const (
	S_DISPATCH Step_t = iota
	S_STEAL
	S_PAUSED
	S_WOKE
	S_HALT
)

var stepnames = [...]string{"dispatch", "steal", "paused", "woke", "halt"}

func (st Step_t) String() string {
	return stepnames[st]
}

// the CPU's dispatch loop. never returns; a CPU without an idle task or idle
// stack halts for good instead.
func (s *Sched_t) Enter_scheduler(cpu int) {
	if cpu < 0 || cpu >= s.ncpu {
		s.fatal(0, "enter_scheduler: no cpu %v", cpu)
	}
	c := &s.cpus[cpu]
	if !c.Online() || c.idle == nil {
		s.fatal(cpu, "no idle task")
	}
	if !c.idle.Kstack.Valid() || !c.idle.Ctx.Valid() {
		s.fatal(cpu, "no idle stack")
	}
	for {
		s.Runonce(cpu)
	}
}

// one iteration of cpu's dispatch loop. it must run on the context that
// initialized the CPU.
func (s *Sched_t) Runonce(cpu int) Step_t {
	c := &s.cpus[cpu]
	s.drain(c)
	if c.Paused() {
		s.idle_halt(c)
		return S_PAUSED
	}
	if t := c.rq.Pop(); t != nil {
		s.dispatch(c, t)
		return S_DISPATCH
	}
	if atomic.LoadInt32(&s.appause) == 0 && s.steal(c) {
		return S_STEAL
	}
	s.reap(c)
	if s.idle_wakeup(cpu) {
		c.Stats.Nwoke.Inc()
		return S_WOKE
	}
	s.idle_halt(c)
	return S_HALT
}

// moves the tasks other CPUs woke for c onto its ready queue.
func (s *Sched_t) drain(c *Cpu_t) {
	var refs [limits.INBOXSZ]task.Tref_t
	n := c.inbox.take(refs[:])
	if n == 0 {
		return
	}
	c.Stats.Ndrain.Inc()
	c.Stats.Inboxmax.Observe(int64(n))
	for _, r := range refs[:n] {
		t, ok := s.tt.Get(r)
		if !ok {
			c.Stats.Nstale.Inc()
			continue
		}
		c.rq.Push(t)
	}
}

// runs t until it gives the CPU back.
func (s *Sched_t) dispatch(c *Cpu_t, t *task.Task_t) {
	// the CPU that last ran t may not have finished switching away yet
	for spin := 0; t.Oncpu(); spin++ {
		if spin >= s.lim.Stealspin {
			runtime.Gosched()
			spin = 0
		}
	}
	if !t.Allowed(c.id) {
		s.Stats.Nfixup.Inc()
		s.Schedule_task(t)
		return
	}
	t.Set_running()
	t.Setcpu(c.id)
	t.Setoncpu(true)
	atomic.StoreInt32(&c.cur, int32(t.Tid))
	c.slice = s.quantum
	c.requeue = false
	c.Stats.Nswitch.Inc()
	dbg("cpu %v: run %v\n", c.id, t)

	st := t.Atime.Now()
	ctxsw.Switch(&c.idle.Ctx, &t.Ctx)
	t.Atime.Ran(st)

	atomic.StoreInt32(&c.cur, 0)
	s.finish(c, t)
}

// completes a switch away from t, which no longer executes on this CPU.
func (s *Sched_t) finish(c *Cpu_t, t *task.Task_t) {
	if c.requeue {
		c.requeue = false
		if t.Allowed(c.id) {
			c.rq.Push(t)
		} else {
			s.Schedule_task(t)
		}
	} else if st, _ := t.Getstate(); st == task.ZOMBIE {
		atomic.AddInt32(&s.nzombie, 1)
	}
	t.Setoncpu(false)
}

// frees zombies that no CPU runs on anymore. only one CPU reaps at a time;
// the others skip.
func (s *Sched_t) reap(c *Cpu_t) {
	if atomic.LoadInt32(&s.nzombie) == 0 || !s.reapl.Trylock() {
		return
	}
	var dead [limits.MAXTASKS]*task.Task_t
	n := 0
	s.tt.Iter(func(t *task.Task_t) bool {
		if st, _ := t.Getstate(); st == task.ZOMBIE && !t.Oncpu() {
			dead[n] = t
			n++
		}
		return true
	})
	for _, t := range dead[:n] {
		// a blocked task killed mid-wait must not leave references behind
		// before its id is reused
		s.sq.Cancel(t.Tid)
		s.ft.Remove_task(t.Ref())
		s.tt.Free(t)
		atomic.AddInt32(&s.nzombie, -1)
		s.Stats.Nreap.Inc()
	}
	s.reapl.Unlock()
}

func (s *Sched_t) idle_wakeup(cpu int) bool {
	s.iwl.Lock()
	iw := s.idlewake
	s.iwl.Unlock()
	return iw != nil && iw.Idle_wakeup(cpu) != 0
}

// halts until the next interrupt and delivers the timer interrupts that
// arrived meanwhile.
func (s *Sched_t) idle_halt(c *Cpu_t) {
	st := c.Iacct.Now()
	n := s.plat.Halt(c.id)
	c.Iacct.Idled(st)
	c.Stats.Nhalt.Inc()
	sp := c.idle.Kstack.Hi - 64
	for i := 0; i < n; i++ {
		tf := c.idletf
		s.Scheduler_handle_timer_interrupt(c.id, &tf, sp)
	}
}

// quiesces every application processor: they stop dispatching and halt until
// Resume_aps, and no CPU steals meanwhile.
func (s *Sched_t) Pause_aps() {
	atomic.StoreInt32(&s.appause, 1)
	for i := 1; i < s.ncpu; i++ {
		atomic.StoreInt32(&s.cpus[i].paused, 1)
	}
}

func (s *Sched_t) Resume_aps() {
	for i := 1; i < s.ncpu; i++ {
		atomic.StoreInt32(&s.cpus[i].paused, 0)
		s.plat.Kick(i)
	}
	atomic.StoreInt32(&s.appause, 0)
}
