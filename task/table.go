package task

import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/spinlock"

// kernel stacks live at fixed addresses derived from the task id, each
// followed by an unmapped guard page.
const (
	KSTACKBASE = uintptr(0xffff900000000000)
	KSTACKSZ   = uintptr(4 << 12)
	kstackspan = KSTACKSZ + (1 << 12)
)

func Kstackfor(tid defs.Tid_t) Kstack_t {
	lo := KSTACKBASE + uintptr(tid)*kstackspan
	return Kstack_t{Lo: lo, Hi: lo + KSTACKSZ}
}

// the fixed-capacity task table. id 0 is never handed out so that a zero
// Tref_t never resolves.
type Table_t struct {
	l     spinlock.Spinlock_t
	tasks [limits.MAXTASKS]Task_t
	nlive int
	lim   *limits.Sysatomic_t
}

func (tt *Table_t) Init(lim *limits.Sysatomic_t) {
	tt.lim = lim
	for i := range tt.tasks {
		t := &tt.tasks[i]
		t.Tid = defs.Tid_t(i)
		t.State = FREE
		t.qnext, t.qprev, t.onq = -1, -1, -1
		t.cpu = -1
	}
}

// allocates the lowest free id. fails with -EAGAIN when the system-wide task
// limit is reached and -ENOMEM when the table is full.
func (tt *Table_t) Alloc(name string, pid, prio int, affinity uint64) (*Task_t, defs.Err_t) {
	if prio < PRIO_MAX || prio > PRIO_IDLE {
		return nil, -defs.EINVAL
	}
	if tt.lim != nil && !tt.lim.Take() {
		return nil, -defs.EAGAIN
	}
	tt.l.Lock()
	defer tt.l.Unlock()
	for i := 1; i < len(tt.tasks); i++ {
		t := &tt.tasks[i]
		t.Lock()
		if t.State != FREE {
			t.Unlock()
			continue
		}
		t.Pid = pid
		t.Name = name
		t.Idle = false
		t.prio = int32(prio)
		t.affinity = affinity
		t.cpu = -1
		t.Migrations = 0
		t.oncpu = 0
		t.State = READY
		t.Reason = R_NONE
		t.Uvalid = false
		t.Kstack = Kstackfor(t.Tid)
		t.Exitcode = 0
		t.Exitreason = EXIT_NORMAL
		t.Ctid = 0
		t.qnext, t.qprev, t.onq = -1, -1, -1
		t.Unlock()
		t.Note.Reset()
		t.Atime.Reset()
		tt.nlive++
		return t, 0
	}
	if tt.lim != nil {
		tt.lim.Give()
	}
	return nil, -defs.ENOMEM
}

// returns the task r refers to, unless the slot was freed or reused since
// the reference was taken.
func (tt *Table_t) Get(r Tref_t) (*Task_t, bool) {
	if r.Tid <= 0 || int(r.Tid) >= len(tt.tasks) {
		return nil, false
	}
	t := &tt.tasks[r.Tid]
	t.Lock()
	ok := t.State != FREE && t.Gen() == r.Gen
	t.Unlock()
	if !ok {
		return nil, false
	}
	return t, true
}

// delivers a wake for reason to the task r refers to, like Task_t.Wake. the
// generation is checked under the same lock acquisition as the wake, so a
// task reaped and reused after r was recorded is never woken through r.
func (tt *Table_t) Wake(r Tref_t, reason Reason_t) (*Task_t, bool, bool) {
	if r.Tid <= 0 || int(r.Tid) >= len(tt.tasks) {
		return nil, false, false
	}
	t := &tt.tasks[r.Tid]
	t.Lock()
	defer t.Unlock()
	if t.State == FREE || t.Gen() != r.Gen {
		return nil, false, false
	}
	m, enq := t._wake(reason)
	return t, m, enq
}

// returns the live task with the given id.
func (tt *Table_t) Byid(tid defs.Tid_t) (*Task_t, bool) {
	if tid <= 0 || int(tid) >= len(tt.tasks) {
		return nil, false
	}
	t := &tt.tasks[tid]
	if s, _ := t.Getstate(); s == FREE {
		return nil, false
	}
	return t, true
}

// returns the slot to the free pool. the caller guarantees that no CPU runs
// on the task's context and that no wait structure references it.
func (tt *Table_t) Free(t *Task_t) {
	if t.Oncpu() || t.Onq() != -1 {
		panic("free of busy task")
	}
	tt.l.Lock()
	t.Lock()
	if t.State == FREE {
		panic("double free")
	}
	t.State = FREE
	t.Reason = R_NONE
	atomic_gen_bump(t)
	t.Ctx.Reset()
	t.Unlock()
	tt.nlive--
	tt.l.Unlock()
	if tt.lim != nil {
		tt.lim.Give()
	}
}

// calls f on every non-free task until f returns false. f must not call back
// into the table.
func (tt *Table_t) Iter(f func(*Task_t) bool) {
	for i := 1; i < len(tt.tasks); i++ {
		t := &tt.tasks[i]
		if s, _ := t.Getstate(); s == FREE {
			continue
		}
		if !f(t) {
			return
		}
	}
}

func (tt *Table_t) Nlive() int {
	tt.l.Lock()
	ret := tt.nlive
	tt.l.Unlock()
	return ret
}
