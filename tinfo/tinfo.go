package tinfo

import "sync"

import "github.com/SlopLabs/slopos-sub002/defs"

// per-task kill and signal state. protects itself and is a leaf lock.
type Tnote_t struct {
	sync.Mutex
	Killed   bool
	Isdoomed bool
	// bit n set iff signal n is pending
	Sigpending uint64
	// error returned from an interrupted blocking call
	Kerr defs.Err_t
}

func (t *Tnote_t) Doomed() bool {
	t.Lock()
	ret := t.Isdoomed
	t.Unlock()
	return ret
}

// records sig as pending. returns true if the signal dooms the task.
func (t *Tnote_t) Signal(sig int) bool {
	if sig <= 0 || sig >= defs.NSIG {
		panic("bad sig")
	}
	t.Lock()
	defer t.Unlock()
	t.Sigpending |= 1 << uint(sig)
	if sig != defs.SIGKILL {
		return false
	}
	t.Killed = true
	t.Isdoomed = true
	if t.Kerr == 0 {
		t.Kerr = -defs.EINTR
	}
	return true
}

// returns the lowest pending signal and clears it, or 0.
func (t *Tnote_t) Take_signal() int {
	t.Lock()
	defer t.Unlock()
	for i := 1; i < defs.NSIG; i++ {
		if t.Sigpending&(1<<uint(i)) != 0 {
			t.Sigpending &^= 1 << uint(i)
			return i
		}
	}
	return 0
}

// returns the error a blocking call must return because the task was killed,
// or 0.
func (t *Tnote_t) Killerr() defs.Err_t {
	t.Lock()
	defer t.Unlock()
	if !t.Killed {
		return 0
	}
	if t.Kerr == 0 {
		panic("must be non-zero")
	}
	return t.Kerr
}

func (t *Tnote_t) Reset() {
	t.Lock()
	t.Killed = false
	t.Isdoomed = false
	t.Sigpending = 0
	t.Kerr = 0
	t.Unlock()
}
