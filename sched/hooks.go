package sched

import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/task"

// the scheduler services drivers use.
type Kservices_i interface {
	Current_task(cpu int) *task.Task_t
	Current_task_id(cpu int) defs.Tid_t
	Block_current_task(self *task.Task_t) defs.Err_t
	Unblock_task(ref task.Tref_t) bool
	Signal_process_group(pgid int, sig int) int
}

var _ Kservices_i = (*Sched_t)(nil)

// polled once per idle loop pass; a non-zero return keeps the CPU from
// halting so that the driver's work gets picked up right away.
type Idlewake_i interface {
	Idle_wakeup(cpu int) int
}

// installs the idle wakeup callback, replacing any previous one. nil removes
// it.
func (s *Sched_t) Register_idle_wakeup_callback(iw Idlewake_i) {
	s.iwl.Lock()
	s.idlewake = iw
	s.iwl.Unlock()
}

func (s *Sched_t) Current_task(cpu int) *task.Task_t {
	if cpu < 0 || cpu >= s.ncpu {
		return nil
	}
	return s.current(&s.cpus[cpu])
}

// 0 when the CPU runs its dispatch loop.
func (s *Sched_t) Current_task_id(cpu int) defs.Tid_t {
	if t := s.Current_task(cpu); t != nil {
		return t.Tid
	}
	return 0
}

// first half of a driver wait: after this, an Unblock_task that arrives
// before Block_prepared makes Block_prepared return at once.
func (s *Sched_t) Prepare_block_current(self *task.Task_t) defs.Err_t {
	if err := s.checkself(self); err != 0 {
		return err
	}
	self.Prepare_block(task.R_DRIVER)
	return 0
}

func (s *Sched_t) Block_prepared(self *task.Task_t) defs.Err_t {
	s.block(self, self.Cpu())
	return self.Note.Killerr()
}

// blocks self until Unblock_task. drivers that hand self to an interrupt
// handler before blocking use Prepare_block_current and Block_prepared.
func (s *Sched_t) Block_current_task(self *task.Task_t) defs.Err_t {
	if err := s.Prepare_block_current(self); err != 0 {
		return err
	}
	return s.Block_prepared(self)
}

// wakes a task blocked through Block_current_task. returns false if it was
// not blocked for a driver.
func (s *Sched_t) Unblock_task(ref task.Tref_t) bool {
	return s.unblock(ref, task.R_DRIVER)
}

// posts sig to every task of the process group. SIGKILL also purges the task
// from every wait structure and wakes it, so that its blocking call returns
// -EINTR. returns the number of tasks signaled, or -ESRCH.
func (s *Sched_t) Signal_process_group(pgid int, sig int) int {
	if sig <= 0 || sig >= defs.NSIG {
		return int(-defs.EINVAL)
	}
	var refs [limits.MAXTASKS]task.Tref_t
	var ts [limits.MAXTASKS]*task.Task_t
	n := 0
	s.tt.Iter(func(t *task.Task_t) bool {
		t.Lock()
		ok := !t.Idle && t.Pid == pgid && t.State != task.ZOMBIE
		t.Unlock()
		if ok {
			refs[n] = t.Ref()
			ts[n] = t
			n++
		}
		return true
	})
	if n == 0 {
		return int(-defs.ESRCH)
	}
	for i := 0; i < n; i++ {
		if ts[i].Note.Signal(sig) {
			s.kill(refs[i])
		}
	}
	return n
}

func (s *Sched_t) kill(ref task.Tref_t) {
	s.Stats.Nkill.Inc()
	s.Cancel_sleep(ref.Tid)
	s.ft.Remove_task(ref)
	t, ok := s.tt.Get(ref)
	if !ok {
		return
	}
	if _, r := t.Getstate(); r != task.R_NONE {
		s.unblock(ref, r)
	}
}
