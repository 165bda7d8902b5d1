package sched

import "math/bits"

import "github.com/SlopLabs/slopos-sub002/ctxsw"
import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/task"
import "github.com/SlopLabs/slopos-sub002/util"

// returns the CPU to its dispatch loop. self must be RUNNING there.
func (s *Sched_t) to_idle(self *task.Task_t, c *Cpu_t) {
	ctxsw.Switch(&self.Ctx, &c.idle.Ctx)
}

// running to ready; the dispatch loop requeues self once it is off the CPU.
func (s *Sched_t) requeue_self(self *task.Task_t, c *Cpu_t) {
	self.Set_ready()
	c.requeue = true
	s.to_idle(self, c)
}

// gives up the CPU to any ready task.
func (s *Sched_t) Yield(self *task.Task_t) {
	if self == nil || self.Idle {
		return
	}
	c := &s.cpus[self.Cpu()]
	c.Stats.Nyield.Inc()
	s.requeue_self(self, c)
}

// blocks self after Prepare_block. returns immediately if the wake already
// arrived. cpu must be read before the block is committed: from then on a
// waker may requeue self elsewhere.
func (s *Sched_t) block(self *task.Task_t, cpu int) {
	c := &s.cpus[cpu]
	if !self.Commit_block() {
		return
	}
	c.Stats.Nblock.Inc()
	s.to_idle(self, c)
}

// delivers a wake for reason through ref and queues the task if it was fully
// blocked. returns whether the wake matched.
func (s *Sched_t) unblock(ref task.Tref_t, reason task.Reason_t) bool {
	t, m, enq := s.tt.Wake(ref, reason)
	if enq {
		s.Stats.Nwake.Inc()
		s.Schedule_task(t)
	}
	return m
}

func (s *Sched_t) checkself(self *task.Task_t) defs.Err_t {
	if self == nil || self.Idle {
		return -defs.EPERM
	}
	if _, ok := s.tt.Get(self.Ref()); !ok {
		return -defs.ESRCH
	}
	if self.Note.Doomed() {
		return -defs.EINTR
	}
	return 0
}

// the longest sleep in ticks. deadlines stay less than half the tick space
// ahead of now so that the wraparound comparison never sees them as due.
const MAXSLEEPTICKS = uint64(1) << 62

// converts a duration to timer ticks, rounding up, at least one tick and at
// most MAXSLEEPTICKS.
func (s *Sched_t) ms2ticks(ms uint64) uint64 {
	hi, lo := bits.Mul64(ms, s.hz)
	if hi != 0 {
		return MAXSLEEPTICKS
	}
	ret := util.Divroundup(lo, 1000)
	if ret == 0 {
		ret = 1
	}
	if ret > MAXSLEEPTICKS {
		ret = MAXSLEEPTICKS
	}
	return ret
}

// blocks self for at least ms milliseconds. returns -EINTR if the task was
// killed while asleep.
func (s *Sched_t) Sleep_ms(self *task.Task_t, ms uint64) defs.Err_t {
	if ms == 0 {
		return 0
	}
	if !s.Active() {
		s.plat.Delay_ms(ms)
		return 0
	}
	if err := s.checkself(self); err != 0 {
		return err
	}
	cpu := self.Cpu()
	deadline := s.Ticks() + s.ms2ticks(ms)

	s.Preempt_disable(cpu)
	self.Prepare_block(task.R_SLEEP)
	if err := s.sq.Upsert(self.Ref(), deadline); err != 0 {
		self.Cancel_block()
		s.Preempt_enable(cpu)
		return err
	}
	if q := self.Onq(); q >= 0 {
		s.cpus[q].rq.Remove(self)
	}
	s.Preempt_enable(cpu)
	s.Stats.Nsleep.Inc()

	s.block(self, cpu)
	return self.Note.Killerr()
}

// drops a pending sleep without waking the task; used on termination.
func (s *Sched_t) Cancel_sleep(tid defs.Tid_t) bool {
	return s.sq.Cancel(tid)
}

// wakes every sleeper whose deadline is at or before now.
func (s *Sched_t) Wake_due_sleepers(now uint64) int {
	var due [limits.MAXTASKS]task.Tref_t
	n := s.sq.Due(now, due[:])
	woke := 0
	for _, r := range due[:n] {
		// the id may have been reaped and reused, or the task blocked
		// again for another reason since it went to sleep
		if s.unblock(r, task.R_SLEEP) {
			woke++
		}
	}
	return woke
}

// blocks self on the futex word at physical address pa.
func (s *Sched_t) Futex_wait(self *task.Task_t, pa uintptr, expected uint32,
	timeout uint64) defs.Err_t {
	if self == nil {
		return -defs.EAGAIN
	}
	if err := s.checkself(self); err != 0 {
		return err
	}
	if err := s.ft.Wait(self, pa, expected, timeout); err != 0 {
		return err
	}
	return self.Note.Killerr()
}

func (s *Sched_t) Futex_wake(pa uintptr, max int) int {
	return s.ft.Wake(pa, max)
}

// terminates self with the given status. never returns.
func (s *Sched_t) Exit(self *task.Task_t, code int) {
	s.exit(self, code, task.EXIT_NORMAL)
}

func (s *Sched_t) exit(self *task.Task_t, code int, why task.Exitreason_t) {
	cpu := self.Cpu()
	if self.Idle {
		s.fatal(cpu, "idle task exit")
	}
	s.Cancel_sleep(self.Tid)
	s.ft.Remove_task(self.Ref())
	if self.Ctid != 0 {
		// release a joiner waiting for the tid word to clear
		if err := s.umem.Store32(self.Ctid, 0); err == 0 {
			s.ft.Wake_one(self.Ctid)
		}
	}
	self.Set_zombie(code, why)
	s.Stats.Nexit.Inc()
	dbg("cpu %v: exit %v status %#x\n", cpu, self.Tid, code)
	ctxsw.Exit_to(&s.cpus[cpu].idle.Ctx)
}

// the scheduler services the futex table uses.
type fblocker_t struct {
	s *Sched_t
}

func (fb *fblocker_t) Crit_enter(self *task.Task_t) {
	fb.s.Preempt_disable(self.Cpu())
}

func (fb *fblocker_t) Crit_exit(self *task.Task_t) {
	fb.s.Preempt_enable(self.Cpu())
}

func (fb *fblocker_t) Block(self *task.Task_t) {
	fb.s.block(self, self.Cpu())
}

func (fb *fblocker_t) Unblock(ref task.Tref_t, reason task.Reason_t) bool {
	return fb.s.unblock(ref, reason)
}
