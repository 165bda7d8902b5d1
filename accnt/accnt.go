package accnt

import "sync/atomic"
import "time"

import "github.com/SlopLabs/slopos-sub002/util"

var epoch = time.Now()

// time accounting for a task (time dispatched) or a CPU (time halted in the
// idle loop). all fields are nanoseconds except Nruns.
type Accnt_t struct {
	Runns  int64
	Idlens int64
	// completed dispatches
	Nruns int64
}

// a monotonic timestamp to pass to Ran or Idled.
func (a *Accnt_t) Now() int64 {
	return int64(time.Since(epoch))
}

// charges the time since a Now timestamp as one dispatch.
func (a *Accnt_t) Ran(since int64) {
	atomic.AddInt64(&a.Runns, a.Now()-since)
	atomic.AddInt64(&a.Nruns, 1)
}

// charges the time since a Now timestamp as idle time.
func (a *Accnt_t) Idled(since int64) {
	atomic.AddInt64(&a.Idlens, a.Now()-since)
}

func (a *Accnt_t) Add(n *Accnt_t) {
	atomic.AddInt64(&a.Runns, atomic.LoadInt64(&n.Runns))
	atomic.AddInt64(&a.Idlens, atomic.LoadInt64(&n.Idlens))
	atomic.AddInt64(&a.Nruns, atomic.LoadInt64(&n.Nruns))
}

func (a *Accnt_t) Total() int64 {
	return atomic.LoadInt64(&a.Runns) + atomic.LoadInt64(&a.Idlens)
}

func (a *Accnt_t) Runs() int64 {
	return atomic.LoadInt64(&a.Nruns)
}

func (a *Accnt_t) Reset() {
	atomic.StoreInt64(&a.Runns, 0)
	atomic.StoreInt64(&a.Idlens, 0)
	atomic.StoreInt64(&a.Nruns, 0)
}

// the user-visible rusage prefix: the run time as the user timeval and the
// idle time as the system timeval, each {sec, usec}.
func (a *Accnt_t) Fetch() []uint8 {
	ret := make([]uint8, 4*8)
	for i, ns := range []int64{atomic.LoadInt64(&a.Runns),
		atomic.LoadInt64(&a.Idlens)} {
		util.Put64(ret, i*16, uint64(ns/1e9))
		util.Put64(ret, i*16+8, uint64(ns%1e9/1000))
	}
	return ret
}
