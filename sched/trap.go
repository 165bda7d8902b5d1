package sched

import "sync/atomic"

import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/task"

func (s *Sched_t) Irq_enter(cpu int) {
	atomic.AddInt32(&s.cpus[cpu].irqdepth, 1)
}

// leaves an interrupt handler whose frame sits at sp and, if a reschedule is
// pending and allowed here, switches away from the interrupted task before
// returning to it. reports whether the scheduler was invoked.
func (s *Sched_t) Irq_exit(cpu int, sp uintptr) bool {
	c := &s.cpus[cpu]
	if atomic.AddInt32(&c.irqdepth, -1) < 0 {
		s.fatal(cpu, "unbalanced interrupt exit")
	}
	return s.irq_resched(c, sp)
}

func (s *Sched_t) irq_resched(c *Cpu_t, sp uintptr) bool {
	// the stack pointer, not a flag, says whether we are on an exception
	// stack; a double fault may arrive while flags are mid-update
	if c.on_ist(sp) {
		c.Stats.Nistskip.Inc()
		return false
	}
	if atomic.LoadInt32(&c.irqdepth) > 0 || c.Preempt_count() > 0 {
		return false
	}
	if !c.take_pending() {
		return false
	}
	cur := s.current(c)
	if cur == nil {
		// interrupted the dispatch loop, which reschedules anyway
		return true
	}
	c.Stats.Npreempt.Inc()
	s.requeue_self(cur, c)
	return true
}

// copies the interrupted user register state into the current task before
// anything can switch away from it.
func (s *Sched_t) Save_preempt_context(cpu int, tf *defs.Trapframe_t) {
	if !tf.Fromuser() {
		return
	}
	cur := s.current(&s.cpus[cpu])
	if cur == nil {
		s.fatal(cpu, "user trap frame without a task")
	}
	cur.Utf = *tf
	cur.Uvalid = true
}

// timer bookkeeping: the boot CPU advances the global tick, wakes sleepers
// and runs the periodic balancer; every CPU charges its current task's slice.
func (s *Sched_t) Scheduler_timer_tick(cpu int) {
	c := &s.cpus[cpu]
	c.Stats.Nticks.Inc()
	if cpu == 0 {
		now := atomic.AddUint64(&s.ticks, 1)
		s.Wake_due_sleepers(now)
		s.Balance_tick(now * 1000 / s.hz)
	}
	if atomic.LoadInt32(&c.cur) == 0 {
		return
	}
	c.slice--
	if c.slice <= 0 {
		if c.Nready() > 0 {
			c.set_pending()
		} else {
			c.slice = s.quantum
		}
	}
}

func (s *Sched_t) Scheduler_handle_timer_interrupt(cpu int, tf *defs.Trapframe_t,
	sp uintptr) {
	s.Irq_enter(cpu)
	s.Save_preempt_context(cpu, tf)
	s.Scheduler_timer_tick(cpu)
	s.Irq_exit(cpu, sp)
}

// asks for a reschedule on the next eligible interrupt exit.
func (s *Sched_t) Request_reschedule_from_interrupt(cpu int) {
	s.cpus[cpu].set_pending()
}

func (s *Sched_t) Preempt_disable(cpu int) {
	atomic.AddInt32(&s.cpus[cpu].preempt, 1)
}

func (s *Sched_t) Preempt_enable(cpu int) {
	if atomic.AddInt32(&s.cpus[cpu].preempt, -1) < 0 {
		s.fatal(cpu, "preempt count underflow")
	}
}

// takes the interrupts that arrived while self ran in user mode: pending
// timer interrupts, or a reschedule IPI. tasks call it at the points where a
// real CPU would have been interrupted. the ticks are all charged to the CPU
// that raised them before a single interrupt exit may switch self away.
func (s *Sched_t) Irqpoint(self *task.Task_t) {
	cpu := self.Cpu()
	c := &s.cpus[cpu]
	sp := self.Kstack.Hi - uintptr(defs.TFSIZE*8)
	if n := s.plat.Pending_ticks(cpu); n > 0 {
		var tf defs.Trapframe_t
		tf[defs.TF_TRAP] = defs.TIMER
		tf[defs.TF_CS] = defs.UCODE64
		tf[defs.TF_SS] = defs.UDATA
		tf[defs.TF_RIP] = self.Ctx.Rip
		tf[defs.TF_RFLAGS] = defs.TF_FL_IF
		s.Irq_enter(cpu)
		for i := 0; i < n; i++ {
			s.Save_preempt_context(cpu, &tf)
			s.Scheduler_timer_tick(cpu)
		}
		s.Irq_exit(cpu, sp)
	} else if c.Resched_pending() {
		s.Irq_enter(cpu)
		s.Irq_exit(cpu, sp)
	}
	s.deliver_signals(self)
}

// acts on self's pending signals with their default dispositions: SIGKILL,
// SIGTERM and SIGINT terminate, the rest are discarded.
func (s *Sched_t) deliver_signals(self *task.Task_t) {
	if self.Note.Doomed() {
		s.exit(self, defs.Mkexitsig(defs.SIGKILL), task.EXIT_KILLED)
	}
	for sig := self.Note.Take_signal(); sig != 0; sig = self.Note.Take_signal() {
		switch sig {
		case defs.SIGTERM, defs.SIGINT:
			s.exit(self, defs.Mkexitsig(sig), task.EXIT_KILLED)
		}
	}
}
