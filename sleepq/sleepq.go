// Package sleepq holds the wake deadlines of sleeping tasks. Entries are
// indexed by task id, so a task never has more than one.
package sleepq

import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/spinlock"
import "github.com/SlopLabs/slopos-sub002/task"

type ent_t struct {
	ref      task.Tref_t
	deadline uint64
	active   bool
}

type Sleepq_t struct {
	l       spinlock.Spinlock_t
	ents    [limits.MAXTASKS]ent_t
	nactive int
}

func (sq *Sleepq_t) Init() {
	sq.l.Lock()
	for i := range sq.ents {
		sq.ents[i] = ent_t{}
	}
	sq.nactive = 0
	sq.l.Unlock()
}

// true if the tick counter has reached deadline, treating the 64-bit counter
// as circular.
func Expired(now, deadline uint64) bool {
	return now-deadline < 1<<63
}

// inserts or replaces the entry for ref's task id. a second call for the
// same task before the first deadline fires moves the deadline.
func (sq *Sleepq_t) Upsert(ref task.Tref_t, deadline uint64) defs.Err_t {
	if ref.Tid <= 0 || int(ref.Tid) >= len(sq.ents) {
		return -defs.ESRCH
	}
	sq.l.Lock()
	e := &sq.ents[ref.Tid]
	if !e.active {
		sq.nactive++
	}
	*e = ent_t{ref: ref, deadline: deadline, active: true}
	sq.l.Unlock()
	return 0
}

// drops the task's entry, if any. returns true if there was one.
func (sq *Sleepq_t) Cancel(tid defs.Tid_t) bool {
	if tid <= 0 || int(tid) >= len(sq.ents) {
		return false
	}
	sq.l.Lock()
	e := &sq.ents[tid]
	ret := e.active
	if ret {
		*e = ent_t{}
		sq.nactive--
	}
	sq.l.Unlock()
	return ret
}

// collects up to len(out) expired entries into out, clears them, and returns
// the count. entries that do not fit stay queued for the next tick.
func (sq *Sleepq_t) Due(now uint64, out []task.Tref_t) int {
	n := 0
	sq.l.Lock()
	if sq.nactive == 0 {
		sq.l.Unlock()
		return 0
	}
	for i := range sq.ents {
		if n == len(out) {
			break
		}
		e := &sq.ents[i]
		if !e.active || !Expired(now, e.deadline) {
			continue
		}
		out[n] = e.ref
		n++
		*e = ent_t{}
		sq.nactive--
	}
	sq.l.Unlock()
	return n
}

// returns the deadline of tid's entry and whether it is active.
func (sq *Sleepq_t) Lookup(tid defs.Tid_t) (uint64, bool) {
	if tid <= 0 || int(tid) >= len(sq.ents) {
		return 0, false
	}
	sq.l.Lock()
	e := sq.ents[tid]
	sq.l.Unlock()
	return e.deadline, e.active
}

func (sq *Sleepq_t) Active() int {
	sq.l.Lock()
	ret := sq.nactive
	sq.l.Unlock()
	return ret
}
