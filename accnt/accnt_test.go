package accnt

import "testing"

import "github.com/SlopLabs/slopos-sub002/util"

func TestRusage(t *testing.T) {
	a := Accnt_t{Runns: 2e9 + 5000, Idlens: 3000}
	ru := a.Fetch()
	if util.Get64(ru, 0) != 2 || util.Get64(ru, 8) != 5 {
		t.Fatalf("run timeval %v %v", util.Get64(ru, 0), util.Get64(ru, 8))
	}
	if util.Get64(ru, 16) != 0 || util.Get64(ru, 24) != 3 {
		t.Fatalf("idle timeval")
	}
}

func TestRan(t *testing.T) {
	var a Accnt_t
	st := a.Now()
	a.Ran(st)
	a.Ran(st)
	if a.Runs() != 2 || a.Runns < 0 || a.Idlens != 0 {
		t.Fatalf("ran %+v", a)
	}
	a.Idled(a.Now())
	if a.Idlens < 0 {
		t.Fatalf("idled %+v", a)
	}
}

func TestAdd(t *testing.T) {
	a := Accnt_t{Runns: 10}
	b := Accnt_t{Runns: 5, Idlens: 7, Nruns: 1}
	a.Add(&b)
	if a.Total() != 22 || a.Runs() != 1 {
		t.Fatalf("total %v", a.Total())
	}
	a.Reset()
	if a.Total() != 0 || a.Runs() != 0 {
		t.Fatalf("reset")
	}
}
