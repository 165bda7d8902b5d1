package task

import "fmt"
import "sync/atomic"

import "github.com/SlopLabs/slopos-sub002/accnt"
import "github.com/SlopLabs/slopos-sub002/ctxsw"
import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/spinlock"
import "github.com/SlopLabs/slopos-sub002/tinfo"

type State_t int

const (
	FREE State_t = iota
	READY
	RUNNING
	BLOCKED
	ZOMBIE
)

var statenames = [...]string{"free", "ready", "running", "blocked", "zombie"}

func (s State_t) String() string {
	if int(s) < len(statenames) {
		return statenames[s]
	}
	return "state?"
}

// why a task is blocked. drivers use R_DRIVER through the service interface.
type Reason_t int

const (
	R_NONE Reason_t = iota
	R_SLEEP
	R_FUTEX
	R_DRIVER
)

var reasonnames = [...]string{"none", "sleep", "futex", "driver"}

func (r Reason_t) String() string {
	if int(r) < len(reasonnames) {
		return reasonnames[r]
	}
	return "reason?"
}

// 0 is the most urgent priority. the least urgent level belongs to the idle
// tasks and is never queued.
const (
	PRIO_MAX     = 0
	PRIO_DEFAULT = 5
	PRIO_IDLE    = limits.NPRIO - 1
)

type Exitreason_t int

const (
	EXIT_NORMAL Exitreason_t = iota
	EXIT_KILLED
	EXIT_FAULT
)

// a reference to a task table slot. a reference whose generation no longer
// matches the slot's never resolves, so a stale reference to a reaped and
// reused id is detected instead of acting on the new occupant.
type Tref_t struct {
	Tid defs.Tid_t
	Gen uint32
}

func (r Tref_t) String() string {
	return fmt.Sprintf("%v.%v", r.Tid, r.Gen)
}

type Kstack_t struct {
	Lo uintptr
	Hi uintptr
}

func (k Kstack_t) Valid() bool {
	return k.Hi > k.Lo
}

func (k Kstack_t) Contains(sp uintptr) bool {
	return sp >= k.Lo && sp < k.Hi
}

type Task_t struct {
	// protects State, Reason and the exit fields; leaf lock except for the
	// tinfo note.
	l spinlock.Spinlock_t

	Tid  defs.Tid_t
	gen  uint32
	Pid  int
	Name string
	Idle bool

	prio     int32
	affinity uint64
	// CPU the task last ran on or was last queued for
	cpu        int32
	Migrations uint64
	oncpu      int32

	State  State_t
	Reason Reason_t

	Ctx ctxsw.Context_t
	// user register state copied out of the trap frame when a timer
	// interrupt arrives in ring 3
	Utf    defs.Trapframe_t
	Uvalid bool
	Kstack Kstack_t

	Exitcode   int
	Exitreason Exitreason_t
	// physical address of the clear-child-tid word, or 0
	Ctid uintptr

	Note  tinfo.Tnote_t
	Atime accnt.Accnt_t

	// ready queue linkage, protected by the queue's lock. qprio is the
	// level the task was queued at, which survives a concurrent Setprio.
	qnext int32
	qprev int32
	qprio int32
	onq   int32
}

func (t *Task_t) Lock() {
	t.l.Lock()
}

func (t *Task_t) Unlock() {
	t.l.Unlock()
}

func (t *Task_t) Gen() uint32 {
	return atomic.LoadUint32(&t.gen)
}

func (t *Task_t) Ref() Tref_t {
	return Tref_t{Tid: t.Tid, Gen: t.Gen()}
}

func (t *Task_t) Prio() int {
	return int(atomic.LoadInt32(&t.prio))
}

func (t *Task_t) Setprio(p int) {
	atomic.StoreInt32(&t.prio, int32(p))
}

func (t *Task_t) Affinity() uint64 {
	return atomic.LoadUint64(&t.affinity)
}

func (t *Task_t) Setaffinity(m uint64) {
	atomic.StoreUint64(&t.affinity, m)
}

// returns true if the affinity mask permits the task on cpu.
func (t *Task_t) Allowed(cpu int) bool {
	m := t.Affinity()
	return m == 0 || m&(1<<uint(cpu)) != 0
}

func (t *Task_t) Cpu() int {
	return int(atomic.LoadInt32(&t.cpu))
}

func (t *Task_t) Setcpu(c int) {
	atomic.StoreInt32(&t.cpu, int32(c))
}

func (t *Task_t) Migrated() {
	atomic.AddUint64(&t.Migrations, 1)
}

func (t *Task_t) Nmigrations() uint64 {
	return atomic.LoadUint64(&t.Migrations)
}

// true while some CPU still executes on the task's context, including the
// window between the task giving up the CPU and the CPU finishing the switch.
func (t *Task_t) Oncpu() bool {
	return atomic.LoadInt32(&t.oncpu) != 0
}

func (t *Task_t) Setoncpu(on bool) {
	v := int32(0)
	if on {
		v = 1
	}
	atomic.StoreInt32(&t.oncpu, v)
}

// id of the CPU whose ready queue holds the task, or -1.
func (t *Task_t) Onq() int {
	return int(atomic.LoadInt32(&t.onq))
}

func (t *Task_t) Getstate() (State_t, Reason_t) {
	t.Lock()
	s, r := t.State, t.Reason
	t.Unlock()
	return s, r
}

// the running task announces that it is about to block for reason. a wake for
// the same reason that arrives before Commit_block cancels the block.
func (t *Task_t) Prepare_block(reason Reason_t) {
	if reason == R_NONE {
		panic("block without reason")
	}
	t.Lock()
	if t.State != RUNNING {
		t.Unlock()
		panic(fmt.Sprintf("task %v blocks while %v", t.Tid, t.State))
	}
	t.Reason = reason
	t.Unlock()
}

// undoes Prepare_block when the blocking operation fails before blocking.
func (t *Task_t) Cancel_block() {
	t.Lock()
	t.Reason = R_NONE
	t.Unlock()
}

// moves the task to BLOCKED. returns false if a matching wake already
// arrived, in which case the task must keep running.
func (t *Task_t) Commit_block() bool {
	t.Lock()
	defer t.Unlock()
	if t.Reason == R_NONE {
		return false
	}
	if t.State != RUNNING {
		panic("commit block of non-running task")
	}
	t.State = BLOCKED
	return true
}

// delivers a wake for reason. the first result reports whether the wake
// matched; the second whether the task was fully blocked and therefore must
// be queued by the caller. a task blocked for another reason is left alone.
func (t *Task_t) Wake(reason Reason_t) (bool, bool) {
	t.Lock()
	defer t.Unlock()
	return t._wake(reason)
}

func (t *Task_t) _wake(reason Reason_t) (bool, bool) {
	t.l.Lockassert()
	if reason == R_NONE || t.Reason != reason {
		return false, false
	}
	t.Reason = R_NONE
	if t.State == BLOCKED {
		t.State = READY
		return true, true
	}
	return true, false
}

func (t *Task_t) Set_running() {
	t.Lock()
	if t.State != READY {
		t.Unlock()
		panic(fmt.Sprintf("dispatch of %v task %v", t.State, t.Tid))
	}
	t.State = RUNNING
	t.Unlock()
}

// running to ready on preemption or yield.
func (t *Task_t) Set_ready() {
	t.Lock()
	if t.State != RUNNING {
		t.Unlock()
		panic("yield of non-running task")
	}
	t.State = READY
	t.Unlock()
}

// records the exit status and moves the task to ZOMBIE.
func (t *Task_t) Set_zombie(code int, why Exitreason_t) {
	t.Lock()
	t.Exitcode = code
	t.Exitreason = why
	t.State = ZOMBIE
	t.Reason = R_NONE
	t.Unlock()
}

func (t *Task_t) String() string {
	s, r := t.Getstate()
	ret := fmt.Sprintf("%v:%v[%v prio %v cpu %v", t.Tid, t.Name, s,
		t.Prio(), t.Cpu())
	if r != R_NONE {
		ret += " on " + r.String()
	}
	return ret + "]"
}

func atomic_gen_bump(t *Task_t) {
	atomic.AddUint32(&t.gen, 1)
}
