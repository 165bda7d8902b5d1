package caller

import "fmt"
import "runtime"
import "sync"

const maxdepth = 32

func render(pcs []uintptr) string {
	s := ""
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if fr.Function == "runtime.goexit" {
			break
		}
		pre := "\t<-"
		if s == "" {
			pre = ""
		}
		s += fmt.Sprintf("%s%v (%v:%v)\n", pre, fr.Function, fr.File, fr.Line)
		if !more {
			break
		}
	}
	return s
}

// the callers of Callerstr's caller, skipping start more frames, innermost
// first.
func Callerstr(start int) string {
	var pcs [maxdepth]uintptr
	n := runtime.Callers(start+2, pcs[:])
	return render(pcs[:n])
}

func Callerdump(start int) {
	fmt.Printf("%s", Callerstr(start+1))
}

// reports whether a call path was seen before, so that a warning on a hot
// path is printed once per distinct path instead of on every call.
type Distinct_caller_t struct {
	sync.Mutex
	Enabled bool
	seen    map[uint64]bool
}

func pathkey(pcs []uintptr) uint64 {
	h := uint64(14695981039346656037)
	for _, pc := range pcs {
		h ^= uint64(pc)
		h *= 1099511628211
	}
	return h
}

func (dc *Distinct_caller_t) Len() int {
	dc.Lock()
	defer dc.Unlock()
	return len(dc.seen)
}

// returns true and the rendered path the first time Distinct's caller is
// reached through its current chain of callers.
func (dc *Distinct_caller_t) Distinct() (bool, string) {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return false, ""
	}
	var pcs [maxdepth]uintptr
	n := runtime.Callers(2, pcs[:])
	if n == 0 {
		return false, ""
	}
	k := pathkey(pcs[:n])
	if dc.seen[k] {
		return false, ""
	}
	if dc.seen == nil {
		dc.seen = make(map[uint64]bool)
	}
	dc.seen[k] = true
	return true, render(pcs[:n])
}
