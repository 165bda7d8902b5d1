package sleepq

import "math"
import "testing"

import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/task"

func ref(tid int) task.Tref_t {
	return task.Tref_t{Tid: defs.Tid_t(tid), Gen: 1}
}

func TestUpsertIdempotent(t *testing.T) {
	var sq Sleepq_t
	sq.Init()
	if err := sq.Upsert(ref(3), 100); err != 0 {
		t.Fatalf("upsert: %v", err)
	}
	if err := sq.Upsert(ref(3), 250); err != 0 {
		t.Fatalf("upsert: %v", err)
	}
	if n := sq.Active(); n != 1 {
		t.Fatalf("%v active entries, want 1", n)
	}
	d, ok := sq.Lookup(3)
	if !ok || d != 250 {
		t.Fatalf("deadline %v %v", d, ok)
	}
	var out [4]task.Tref_t
	if n := sq.Due(100, out[:]); n != 0 {
		t.Fatalf("old deadline fired")
	}
	if n := sq.Due(250, out[:]); n != 1 || out[0] != ref(3) {
		t.Fatalf("due %v %v", n, out[0])
	}
	if sq.Active() != 0 {
		t.Fatalf("entry not cleared")
	}
}

func TestWraparound(t *testing.T) {
	var sq Sleepq_t
	sq.Init()
	sq.Upsert(ref(7), math.MaxUint64-5)
	sq.Upsert(ref(8), 10)
	var out [4]task.Tref_t
	if n := sq.Due(math.MaxUint64-6, out[:]); n != 0 {
		t.Fatalf("fired early: %v", n)
	}
	n := sq.Due(3, out[:])
	if n != 1 || out[0] != ref(7) {
		t.Fatalf("wrapped deadline: %v %v", n, out[:n])
	}
	if _, ok := sq.Lookup(8); !ok {
		t.Fatalf("future entry dropped")
	}
}

func TestDueBounded(t *testing.T) {
	var sq Sleepq_t
	sq.Init()
	for i := 1; i <= 5; i++ {
		sq.Upsert(ref(i), uint64(i))
	}
	var out [2]task.Tref_t
	if n := sq.Due(10, out[:]); n != 2 {
		t.Fatalf("got %v", n)
	}
	if sq.Active() != 3 {
		t.Fatalf("overflow entries lost")
	}
	if n := sq.Due(10, out[:]); n != 2 {
		t.Fatalf("got %v", n)
	}
}

func TestCancel(t *testing.T) {
	var sq Sleepq_t
	sq.Init()
	if sq.Cancel(4) {
		t.Fatalf("cancel of absent entry")
	}
	sq.Upsert(ref(4), 9)
	if !sq.Cancel(4) || sq.Active() != 0 {
		t.Fatalf("cancel failed")
	}
	if err := sq.Upsert(task.Tref_t{}, 1); err != -defs.ESRCH {
		t.Fatalf("tid 0 accepted: %v", err)
	}
}
