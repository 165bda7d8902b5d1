package sched

import "testing"

import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/platform"
import "github.com/SlopLabs/slopos-sub002/task"

// a started scheduler on a manual machine. the test goroutine plays every
// CPU by calling Runonce.
func mksched(t *testing.T, ncpu int) (*Sched_t, *platform.Machine_t, *platform.Physmem_t) {
	plat := platform.Mkmanual(ncpu, 1000)
	pm := platform.Mkphysmem()
	s := Mksched(plat, pm, limits.MkSysLimit())
	if err := s.Init_scheduler(); err != 0 {
		t.Fatalf("init: %v", err)
	}
	for i := 1; i < ncpu; i++ {
		if err := s.Init_scheduler_for_ap(i); err != 0 {
			t.Fatalf("init ap %v: %v", i, err)
		}
	}
	s.Start()
	return s, plat, pm
}

func mktask(t *testing.T, s *Sched_t, name string, prio int, aff uint64,
	fn Taskfn_t) *task.Task_t {
	tk, err := s.Create_task(name, 1, prio, aff, fn, 0)
	if err != 0 {
		t.Fatalf("create %v: %v", name, err)
	}
	return tk
}

func nop(*task.Task_t, uintptr) {}

func state(tk *task.Task_t) task.State_t {
	st, _ := tk.Getstate()
	return st
}

// steps cpu until cond holds or the step budget runs out.
func rununtil(t *testing.T, s *Sched_t, cpu int, cond func() bool) {
	for i := 0; i < 100; i++ {
		if cond() {
			return
		}
		s.Runonce(cpu)
	}
	t.Fatalf("cpu %v made no progress", cpu)
}

func TestInitOrder(t *testing.T) {
	plat := platform.Mkmanual(2, 1000)
	s := Mksched(plat, platform.Mkphysmem(), limits.MkSysLimit())
	if err := s.Init_scheduler_for_ap(2); err != -defs.EINVAL {
		t.Fatalf("bad cpu: %v", err)
	}
	s.Init_scheduler()
	if err := s.Init_scheduler(); err != -defs.EBUSY {
		t.Fatalf("double init: %v", err)
	}
	idle := s.Cpu(0).Idle_task()
	if idle == nil || !idle.Idle || idle.Prio() != task.PRIO_IDLE {
		t.Fatalf("bad idle task %v", idle)
	}
	if _, err := s.Create_task("x", 1, task.PRIO_IDLE, 0, nop, 0); err != -defs.EINVAL {
		t.Fatalf("idle prio accepted: %v", err)
	}
	if _, err := s.Create_task("x", 1, 5, 1<<2, nop, 0); err != -defs.EINVAL {
		t.Fatalf("affinity without cpus accepted: %v", err)
	}
	if _, err := s.Create_task("x", 1, 5, 0, nil, 0); err != -defs.EINVAL {
		t.Fatalf("nil body accepted: %v", err)
	}
}

func TestMissingIdleFatal(t *testing.T) {
	plat := platform.Mkmanual(2, 1000)
	s := Mksched(plat, platform.Mkphysmem(), limits.MkSysLimit())
	s.Init_scheduler()
	defer func() {
		h, ok := recover().(platform.Halted_t)
		if !ok || h.Cpu != 1 || !plat.Dead(1) {
			t.Fatalf("cpu without idle task kept running")
		}
	}()
	s.Enter_scheduler(1)
}

func TestSleepInactive(t *testing.T) {
	plat := platform.Mkmanual(1, 1000)
	s := Mksched(plat, platform.Mkphysmem(), limits.MkSysLimit())
	s.Init_scheduler()
	if err := s.Sleep_ms(nil, 0); err != 0 {
		t.Fatalf("zero sleep: %v", err)
	}
	if plat.Nanotime() != 0 {
		t.Fatalf("zero sleep delayed")
	}
	if err := s.Sleep_ms(nil, 5); err != 0 {
		t.Fatalf("polled sleep: %v", err)
	}
	if plat.Nanotime() != 5000000 {
		t.Fatalf("polled sleep did not delay: %v", plat.Nanotime())
	}
}

func TestYieldRoundRobin(t *testing.T) {
	s, _, _ := mksched(t, 1)
	var trace []string
	body := func(name string) Taskfn_t {
		return func(self *task.Task_t, _ uintptr) {
			for i := 0; i < 2; i++ {
				trace = append(trace, name)
				s.Yield(self)
			}
		}
	}
	a := mktask(t, s, "a", 5, 0, body("a"))
	b := mktask(t, s, "b", 5, 0, body("b"))
	rununtil(t, s, 0, func() bool {
		return state(a) == task.ZOMBIE && state(b) == task.ZOMBIE
	})
	want := "abab"
	got := ""
	for _, x := range trace {
		got += x
	}
	if got != want {
		t.Fatalf("order %q, want %q", got, want)
	}
	rununtil(t, s, 0, func() bool { return s.Tasks().Nlive() == 1 })
	if s.Stats.Nreap.Get() != 2 {
		t.Fatalf("reaped %v", s.Stats.Nreap.Get())
	}
}

func TestPriorityOrder(t *testing.T) {
	s, _, _ := mksched(t, 1)
	var trace []string
	lo := mktask(t, s, "lo", 8, 0, func(*task.Task_t, uintptr) {
		trace = append(trace, "lo")
	})
	hi := mktask(t, s, "hi", 2, 0, func(*task.Task_t, uintptr) {
		trace = append(trace, "hi")
	})
	rununtil(t, s, 0, func() bool {
		return state(lo) == task.ZOMBIE && state(hi) == task.ZOMBIE
	})
	if trace[0] != "hi" {
		t.Fatalf("low priority ran first: %v", trace)
	}
}

// A sleeps 10ms on a one-CPU machine; B must run meanwhile and A must come
// back once ten ticks have passed.
func TestSleepWakes(t *testing.T) {
	s, plat, _ := mksched(t, 1)
	var trace []string
	stop := false
	var aerr defs.Err_t
	a := mktask(t, s, "A", 5, 0, func(self *task.Task_t, _ uintptr) {
		trace = append(trace, "a0")
		aerr = s.Sleep_ms(self, 10)
		trace = append(trace, "a1")
	})
	b := mktask(t, s, "B", 5, 0, func(self *task.Task_t, _ uintptr) {
		for !stop {
			trace = append(trace, "b")
			s.Irqpoint(self)
			s.Yield(self)
		}
	})
	rununtil(t, s, 0, func() bool { return state(a) == task.BLOCKED })
	if d, ok := s.Sleepq().Lookup(a.Tid); !ok || d != 10 {
		t.Fatalf("sleep entry %v %v", d, ok)
	}
	for i := 0; i < 3; i++ {
		s.Runonce(0)
	}
	if state(a) != task.BLOCKED {
		t.Fatalf("A woke early")
	}
	if len(trace) < 2 || trace[1] != "b" {
		t.Fatalf("B did not run while A slept: %v", trace)
	}

	plat.Tick(0, 10)
	rununtil(t, s, 0, func() bool { return state(a) != task.BLOCKED })
	if _, ok := s.Sleepq().Lookup(a.Tid); ok {
		t.Fatalf("sleep entry left behind")
	}
	if s.Ticks() != 10 {
		t.Fatalf("ticks %v", s.Ticks())
	}
	if !b.Uvalid || b.Utf[defs.TF_CS] != defs.UCODE64 {
		t.Fatalf("user context not saved on timer interrupt")
	}
	rununtil(t, s, 0, func() bool { return state(a) == task.ZOMBIE })
	if aerr != 0 || trace[len(trace)-1] != "a1" {
		t.Fatalf("A: %v %v", aerr, trace)
	}
	stop = true
	rununtil(t, s, 0, func() bool { return s.Tasks().Nlive() == 1 })
}

func TestFutexWaitWake(t *testing.T) {
	s, _, pm := mksched(t, 1)
	if _, err := pm.Map(1, 0x1000); err != 0 {
		t.Fatalf("map: %v", err)
	}
	aret := 1
	a := mktask(t, s, "A", 5, 0, func(self *task.Task_t, _ uintptr) {
		aret = s.Sys_futex(self, 0x1000, defs.FUTEX_WAIT, 0, 0)
	})
	n1, n2 := -1, -1
	var ast task.State_t
	b := mktask(t, s, "B", 5, 0, func(self *task.Task_t, _ uintptr) {
		n1 = s.Sys_futex(self, 0x1000, defs.FUTEX_WAKE, 1, 0)
		ast = state(a)
		n2 = s.Sys_futex(self, 0x1000, defs.FUTEX_WAKE, 1, 0)
	})
	rununtil(t, s, 0, func() bool { return state(b) == task.ZOMBIE })
	if n1 != 1 || n2 != 0 {
		t.Fatalf("wakes %v %v", n1, n2)
	}
	pa, _ := pm.Uva2pa(1, 0x1000)
	if s.Futex().Waiters(pa) != 0 || s.Futex().Occupancy(pa) != 0 {
		t.Fatalf("woken waiter left in its bucket")
	}
	if ast != task.READY {
		t.Fatalf("A not ready after wake: %v", ast)
	}
	rununtil(t, s, 0, func() bool { return state(a) == task.ZOMBIE })
	if aret != 0 {
		t.Fatalf("wait returned %v", aret)
	}
	if s.Cpu(0).Preempt_count() != 0 {
		t.Fatalf("preempt count leaked")
	}
}

func TestFutexMismatch(t *testing.T) {
	s, _, pm := mksched(t, 1)
	pa, _ := pm.Map(1, 0x3000)
	pm.Store32(pa, 5)
	ret := 1
	a := mktask(t, s, "A", 5, 0, func(self *task.Task_t, _ uintptr) {
		ret = s.Sys_futex(self, 0x3000, defs.FUTEX_WAIT, 4, 0)
	})
	s.Runonce(0)
	if state(a) != task.ZOMBIE || ret != int(-defs.EAGAIN) {
		t.Fatalf("mismatched wait: %v %v", state(a), ret)
	}
}

func TestSyscallArgs(t *testing.T) {
	s, _, pm := mksched(t, 1)
	pm.Map(1, 0x1000)
	var rets []int
	a := mktask(t, s, "A", 5, 0, func(self *task.Task_t, _ uintptr) {
		var tf defs.Trapframe_t
		tf[defs.TF_RAX] = defs.SYS_GETTID
		rets = append(rets, s.Syscall(self, &tf))
		tf[defs.TF_RAX] = 9999
		rets = append(rets, s.Syscall(self, &tf))
		rets = append(rets, s.Sys_futex(self, 0x1002, defs.FUTEX_WAKE, 1, 0))
		rets = append(rets, s.Sys_futex(self, 0x10, defs.FUTEX_WAKE, 1, 0))
		rets = append(rets, s.Sys_futex(self, 0x9000, defs.FUTEX_WAKE, 1, 0))
		rets = append(rets, s.Sys_futex(self, 0x1000, 77, 1, 0))
		rets = append(rets, s.Sys_sleep(self, -1))
		tf[defs.TF_RAX] = defs.SYS_EXIT
		tf[defs.TF_RDI] = 3
		s.Syscall(self, &tf)
		t.Errorf("exit returned")
	})
	s.Runonce(0)
	want := []int{int(a.Tid), int(-defs.ENOSYS), int(-defs.EINVAL),
		int(-defs.EFAULT), int(-defs.EFAULT), int(-defs.EINVAL),
		int(-defs.EINVAL)}
	if len(rets) != len(want) {
		t.Fatalf("got %v", rets)
	}
	for i := range want {
		if rets[i] != want[i] {
			t.Fatalf("call %v: got %v want %v", i, rets[i], want[i])
		}
	}
	a.Lock()
	code := a.Exitcode
	a.Unlock()
	if state(a) != task.ZOMBIE || code != 3|defs.EXITED {
		t.Fatalf("exit status %#x", code)
	}
}

func TestDriverBlock(t *testing.T) {
	s, _, _ := mksched(t, 1)
	var berr defs.Err_t = 1
	a := mktask(t, s, "A", 5, 0, func(self *task.Task_t, _ uintptr) {
		if s.Current_task(self.Cpu()) != self {
			t.Errorf("current task mismatch")
		}
		berr = s.Block_current_task(self)
	})
	rununtil(t, s, 0, func() bool { return state(a) == task.BLOCKED })
	if s.Current_task_id(0) != 0 {
		t.Fatalf("dispatch loop has a current task")
	}
	// a stale sleep entry for the same id must not wake a driver wait
	s.Sleepq().Upsert(a.Ref(), 1)
	if n := s.Wake_due_sleepers(5); n != 0 || state(a) != task.BLOCKED {
		t.Fatalf("sleep wake hit a driver wait")
	}
	if !s.Unblock_task(a.Ref()) {
		t.Fatalf("unblock failed")
	}
	if s.Unblock_task(a.Ref()) {
		t.Fatalf("second unblock matched")
	}
	rununtil(t, s, 0, func() bool { return state(a) == task.ZOMBIE })
	if berr != 0 {
		t.Fatalf("block returned %v", berr)
	}
}

func TestKillSleeper(t *testing.T) {
	s, _, _ := mksched(t, 1)
	var serr defs.Err_t
	a := mktask(t, s, "A", 5, 0, func(self *task.Task_t, _ uintptr) {
		serr = s.Sleep_ms(self, 1000)
	})
	rununtil(t, s, 0, func() bool { return state(a) == task.BLOCKED })
	if n := s.Signal_process_group(2, defs.SIGKILL); n != int(-defs.ESRCH) {
		t.Fatalf("empty group: %v", n)
	}
	if n := s.Signal_process_group(1, defs.SIGKILL); n != 1 {
		t.Fatalf("signaled %v", n)
	}
	if _, ok := s.Sleepq().Lookup(a.Tid); ok {
		t.Fatalf("killed sleeper still queued")
	}
	rununtil(t, s, 0, func() bool { return state(a) == task.ZOMBIE })
	if serr != -defs.EINTR {
		t.Fatalf("sleep returned %v", serr)
	}
}

func TestJoin(t *testing.T) {
	s, _, pm := mksched(t, 1)
	pa, _ := pm.Map(1, 0x2000)
	pm.Store32(pa, 42)
	joined := false
	j := mktask(t, s, "J", 5, 0, func(self *task.Task_t, _ uintptr) {
		for {
			v, _ := pm.Load32(pa)
			if v == 0 {
				break
			}
			s.Futex_wait(self, pa, v, 0)
		}
		joined = true
	})
	rununtil(t, s, 0, func() bool { return state(j) == task.BLOCKED })
	mktask(t, s, "C", 5, 0, func(self *task.Task_t, _ uintptr) {
		s.Sys_set_tid_address(self, 0x2000)
	})
	rununtil(t, s, 0, func() bool { return state(j) == task.ZOMBIE })
	if !joined {
		t.Fatalf("joiner not released")
	}
}

func TestIdleWakeup(t *testing.T) {
	s, _, _ := mksched(t, 1)
	s.Register_idle_wakeup_callback(iwfn(func(int) int { return 1 }))
	if st := s.Runonce(0); st != S_WOKE {
		t.Fatalf("step %v", st)
	}
	s.Register_idle_wakeup_callback(nil)
	if st := s.Runonce(0); st != S_HALT {
		t.Fatalf("step %v", st)
	}
}

type iwfn func(int) int

func (f iwfn) Idle_wakeup(cpu int) int {
	return f(cpu)
}

func TestPauseAps(t *testing.T) {
	s, _, _ := mksched(t, 2)
	mktask(t, s, "x", 5, 0, nop)
	mktask(t, s, "y", 5, 0, nop)
	s.drain(s.Cpu(0))
	s.Pause_aps()
	if st := s.Runonce(1); st != S_PAUSED {
		t.Fatalf("paused ap: %v", st)
	}
	s.Resume_aps()
	if st := s.Runonce(1); st != S_STEAL {
		t.Fatalf("ap after resume: %v", st)
	}
}

func TestUrgentWakePreempts(t *testing.T) {
	s, _, _ := mksched(t, 2)
	x := mktask(t, s, "x", 5, 1<<1, nop)
	// pretend x is dispatched on cpu 1
	s.drain(s.Cpu(1))
	s.Cpu(1).rq.Remove(x)
	s.cpus[1].cur = int32(x.Tid)
	mktask(t, s, "lazy", 9, 1<<1, nop)
	if s.Cpu(1).Resched_pending() {
		t.Fatalf("less urgent wake preempts")
	}
	mktask(t, s, "urgent", 1, 1<<1, nop)
	if !s.Cpu(1).Resched_pending() {
		t.Fatalf("urgent wake did not request a reschedule")
	}
}

// two processes map one page at different addresses; a wake through either
// mapping reaches waiters of the other.
func TestFutexSharedPage(t *testing.T) {
	s, _, pm := mksched(t, 1)
	pm.Map(1, 0x4000)
	if err := pm.Share(1, 0x4000, 2, 0x7000); err != 0 {
		t.Fatalf("share: %v", err)
	}
	wret := 1
	w, err := s.Create_task("w", 2, 5, 0, func(self *task.Task_t, _ uintptr) {
		wret = s.Sys_futex(self, 0x7004, defs.FUTEX_WAIT, 0, 0)
	}, 0)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	rununtil(t, s, 0, func() bool { return state(w) == task.BLOCKED })
	woke := -1
	mktask(t, s, "k", 5, 0, func(self *task.Task_t, _ uintptr) {
		woke = s.Sys_futex(self, 0x4004, defs.FUTEX_WAKE, 1, 0)
	})
	rununtil(t, s, 0, func() bool { return state(w) == task.ZOMBIE })
	if woke != 1 || wret != 0 {
		t.Fatalf("wake through other mapping: %v %v", woke, wret)
	}
}

func TestLongSleep(t *testing.T) {
	s, plat, _ := mksched(t, 1)
	if s.ms2ticks(0) != 1 || s.ms2ticks(10) != 10 {
		t.Fatalf("ms2ticks %v %v", s.ms2ticks(0), s.ms2ticks(10))
	}
	if s.ms2ticks(1<<62) != MAXSLEEPTICKS || s.ms2ticks(^uint64(0)) != MAXSLEEPTICKS {
		t.Fatalf("huge sleep not clamped")
	}
	sret := 1
	a := mktask(t, s, "A", 5, 0, func(self *task.Task_t, _ uintptr) {
		sret = s.Sys_sleep(self, 1<<62)
	})
	rununtil(t, s, 0, func() bool { return state(a) == task.BLOCKED })
	if d, ok := s.Sleepq().Lookup(a.Tid); !ok || d != MAXSLEEPTICKS {
		t.Fatalf("sleep entry %v %v", d, ok)
	}
	plat.Tick(0, 1)
	s.Runonce(0)
	if state(a) != task.BLOCKED {
		t.Fatalf("long sleeper woke after one tick")
	}
	s.Signal_process_group(1, defs.SIGKILL)
	rununtil(t, s, 0, func() bool { return state(a) == task.ZOMBIE })
	if sret != int(-defs.EINTR) {
		t.Fatalf("sleep returned %v", sret)
	}
}

// a killed futex waiter leaves its bucket before its id is reused, so a wake
// on the old word cannot reach the id's next owner.
func TestKillFutexWaiter(t *testing.T) {
	s, _, pm := mksched(t, 1)
	pa, _ := pm.Map(1, 0x6000)
	aret := 1
	a := mktask(t, s, "A", 5, 0, func(self *task.Task_t, _ uintptr) {
		aret = s.Sys_futex(self, 0x6000, defs.FUTEX_WAIT, 0, 0)
	})
	rununtil(t, s, 0, func() bool { return state(a) == task.BLOCKED })
	if s.Futex().Waiters(pa) != 1 {
		t.Fatalf("waiters %v", s.Futex().Waiters(pa))
	}
	old := a.Ref()
	if n := s.Signal_process_group(1, defs.SIGKILL); n != 1 {
		t.Fatalf("signaled %v", n)
	}
	if s.Futex().Waiters(pa) != 0 {
		t.Fatalf("killed waiter still in its bucket")
	}
	rununtil(t, s, 0, func() bool { return s.Tasks().Nlive() == 1 })
	if aret != int(-defs.EINTR) {
		t.Fatalf("wait returned %v", aret)
	}

	var berr defs.Err_t = 1
	b, err := s.Create_task("B", 5, 5, 0, func(self *task.Task_t, _ uintptr) {
		berr = s.Block_current_task(self)
	}, 0)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	if b.Tid != old.Tid || b.Gen() == old.Gen {
		t.Fatalf("id not reused: %v %v", b.Ref(), old)
	}
	rununtil(t, s, 0, func() bool { return state(b) == task.BLOCKED })
	if n := s.Futex_wake(pa, 1); n != 0 {
		t.Fatalf("wake reached %v", n)
	}
	s.Runonce(0)
	if state(b) != task.BLOCKED {
		t.Fatalf("stale wake unblocked the id's new owner")
	}
	if !s.Unblock_task(b.Ref()) {
		t.Fatalf("unblock")
	}
	rununtil(t, s, 0, func() bool { return state(b) == task.ZOMBIE })
	if berr != 0 {
		t.Fatalf("block returned %v", berr)
	}
}

func TestSignalDefaults(t *testing.T) {
	s, _, _ := mksched(t, 1)
	stop := false
	spin := func(self *task.Task_t, _ uintptr) {
		for !stop {
			s.Irqpoint(self)
			s.Yield(self)
		}
	}
	a := mktask(t, s, "A", 5, 0, spin)
	b, _ := s.Create_task("B", 2, 5, 0, spin, 0)
	rununtil(t, s, 0, func() bool { return s.Cpu(0).Stats.Nswitch.Get() >= 2 })

	if n := s.Signal_process_group(2, defs.SIGCHLD); n != 1 {
		t.Fatalf("signaled %v", n)
	}
	if n := s.Signal_process_group(1, defs.SIGTERM); n != 1 {
		t.Fatalf("signaled %v", n)
	}
	rununtil(t, s, 0, func() bool { return state(a) == task.ZOMBIE })
	if a.Exitcode != defs.Mkexitsig(defs.SIGTERM) || a.Exitreason != task.EXIT_KILLED {
		t.Fatalf("A exit %#x %v", a.Exitcode, a.Exitreason)
	}
	for i := 0; i < 4; i++ {
		s.Runonce(0)
	}
	if state(b) == task.ZOMBIE {
		t.Fatalf("ignored signal terminated B")
	}
	stop = true
	rununtil(t, s, 0, func() bool { return state(b) == task.ZOMBIE })
	if b.Exitcode != 0 || b.Exitreason != task.EXIT_NORMAL {
		t.Fatalf("B exit %#x %v", b.Exitcode, b.Exitreason)
	}
}

func TestGetrusage(t *testing.T) {
	s, _, pm := mksched(t, 1)
	pa, _ := pm.Map(1, 0x5000)
	pm.Store32(pa+16, 7)
	r1, r2, r3 := 1, 1, 1
	a := mktask(t, s, "A", 5, 0, func(self *task.Task_t, _ uintptr) {
		s.Yield(self)
		r1 = s.Sys_getrusage(self, defs.RUSAGE_SELF, 0x5000)
		r2 = s.Sys_getrusage(self, defs.RUSAGE_SELF, 0x9000)
		r3 = s.Sys_getrusage(self, 1, 0x5000)
	})
	rununtil(t, s, 0, func() bool { return state(a) == task.ZOMBIE })
	if r1 != 0 || r2 != int(-defs.EFAULT) || r3 != int(-defs.EINVAL) {
		t.Fatalf("getrusage %v %v %v", r1, r2, r3)
	}
	var w [8]uint32
	for i := range w {
		w[i], _ = pm.Load32(pa + uintptr(4*i))
	}
	if w[1] != 0 || w[3] != 0 || w[2] >= 1000000 {
		t.Fatalf("run time %v", w[:4])
	}
	for i := 4; i < 8; i++ {
		if w[i] != 0 {
			t.Fatalf("task idle time %v", w[4:])
		}
	}
}

// a switch to a zeroed context halts the CPU through the scheduler instead
// of unwinding the dispatch loop.
func TestCorruptContextFatal(t *testing.T) {
	s, plat, _ := mksched(t, 1)
	a := mktask(t, s, "A", 5, 0, nop)
	s.drain(s.Cpu(0))
	a.Ctx.Reset()
	defer func() {
		h, ok := recover().(platform.Halted_t)
		if !ok || h.Cpu != 0 || !plat.Dead(0) {
			t.Fatalf("corrupt context not fatal to cpu 0")
		}
	}()
	s.Runonce(0)
}
