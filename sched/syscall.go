package sched

import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/task"
import "github.com/SlopLabs/slopos-sub002/util"

// the system call entry for self trapping in with tf. arguments follow the
// x86-64 convention; the return value goes back in rax.
func (s *Sched_t) Syscall(self *task.Task_t, tf *defs.Trapframe_t) int {
	// signals posted while self ran in user mode
	s.deliver_signals(self)

	sysno := int(tf[defs.TF_RAX])
	a1 := int(tf[defs.TF_RDI])
	a2 := int(tf[defs.TF_RSI])
	a3 := int(tf[defs.TF_RDX])
	a4 := int(tf[defs.TF_R10])

	var ret int
	switch sysno {
	case defs.SYS_YIELD:
		ret = s.Sys_yield(self)
	case defs.SYS_GETPID:
		ret = self.Pid
	case defs.SYS_GETTID:
		ret = s.Sys_gettid(self)
	case defs.SYS_EXIT:
		s.Sys_exit(self, a1)
	case defs.SYS_KILL:
		ret = s.Signal_process_group(a1, a2)
	case defs.SYS_SLEEPMS:
		ret = s.Sys_sleep(self, a1)
	case defs.SYS_FUTEX:
		ret = s.Sys_futex(self, a1, a2, a3, a4)
	case defs.SYS_SETTIDADR:
		ret = s.Sys_set_tid_address(self, a1)
	case defs.SYS_GETRUSAGE:
		ret = s.Sys_getrusage(self, a1, a2)
	default:
		ret = int(-defs.ENOSYS)
	}
	return ret
}

func (s *Sched_t) Sys_yield(self *task.Task_t) int {
	s.Yield(self)
	return 0
}

func (s *Sched_t) Sys_gettid(self *task.Task_t) int {
	return int(self.Tid)
}

func (s *Sched_t) Sys_exit(self *task.Task_t, status int) {
	status = status&0xff | defs.EXITED
	s.exit(self, status, task.EXIT_NORMAL)
}

func (s *Sched_t) Sys_sleep(self *task.Task_t, ms int) int {
	if ms < 0 {
		return int(-defs.EINVAL)
	}
	return int(s.Sleep_ms(self, uint64(ms)))
}

// translates a user futex address. the word must be 4-byte aligned and lie
// entirely inside user space.
func (s *Sched_t) uva2fut(self *task.Task_t, uva int) (uintptr, defs.Err_t) {
	va := uintptr(uva)
	if va&0x3 != 0 {
		return 0, -defs.EINVAL
	}
	if va < defs.USERMIN || va+4 > defs.USERMAX {
		return 0, -defs.EFAULT
	}
	return s.umem.Uva2pa(self.Pid, va)
}

func (s *Sched_t) Sys_futex(self *task.Task_t, uaddr, op, val, timeout int) int {
	if op != defs.FUTEX_WAIT && op != defs.FUTEX_WAKE {
		return int(-defs.EINVAL)
	}
	pa, err := s.uva2fut(self, uaddr)
	if err != 0 {
		return int(err)
	}
	switch op {
	case defs.FUTEX_WAIT:
		if timeout < 0 {
			return int(-defs.EINVAL)
		}
		return int(s.Futex_wait(self, pa, uint32(val), uint64(timeout)))
	case defs.FUTEX_WAKE:
		if val < 0 {
			return int(-defs.EINVAL)
		}
		return s.Futex_wake(pa, val)
	}
	panic("not reached")
}

// registers the word cleared and woken when self exits. returns the tid.
func (s *Sched_t) Sys_set_tid_address(self *task.Task_t, uaddr int) int {
	if uaddr == 0 {
		self.Ctid = 0
		return int(self.Tid)
	}
	pa, err := s.uva2fut(self, uaddr)
	if err != 0 {
		return int(err)
	}
	self.Ctid = pa
	return int(self.Tid)
}

// copies self's run time and idle time, as two timevals, to uaddr. only the
// calling task's own usage is available.
func (s *Sched_t) Sys_getrusage(self *task.Task_t, who, uaddr int) int {
	if who != defs.RUSAGE_SELF {
		return int(-defs.EINVAL)
	}
	ru := self.Atime.Fetch()
	for off := 0; off < len(ru); off += 8 {
		w := util.Get64(ru, off)
		for half := 0; half < 2; half++ {
			pa, err := s.uva2fut(self, uaddr+off+4*half)
			if err != 0 {
				return int(err)
			}
			v := uint32(w >> (32 * uint(half)))
			if err := s.umem.Store32(pa, v); err != 0 {
				return int(err)
			}
		}
	}
	return 0
}
