// Package platform simulates the machine underneath the scheduler: per-CPU
// halt with timer interrupts, inter-processor kicks, a monotonic clock and
// permanent CPU death. A manual machine only advances when told to, so that
// tests can step the dispatch loop deterministically.
package platform

import "fmt"
import "sync/atomic"
import "time"

import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/stats"

// the value a manual machine panics with when a CPU halts for good.
type Halted_t struct {
	Cpu int
}

func (h Halted_t) Error() string {
	return fmt.Sprintf("cpu %v halted", h.Cpu)
}

type mcpu_t struct {
	// timer interrupts raised but not yet taken
	pend int64
	// realtime mode: tick number of the last interrupt raised
	last  uint64
	kick  chan struct{}
	dead  int32
	Halts stats.Counter_t
	Kicks stats.Counter_t
}

type Machine_t struct {
	ncpu   int
	hz     uint64
	manual bool
	start  time.Time
	// manual clock, nanoseconds
	clock uint64
	cpus  [limits.MAXCPUS]mcpu_t
}

func mk(ncpu int, hz uint64, manual bool) *Machine_t {
	if ncpu <= 0 || ncpu > limits.MAXCPUS {
		panic("bad ncpu")
	}
	if hz == 0 {
		panic("bad hz")
	}
	m := &Machine_t{ncpu: ncpu, hz: hz, manual: manual, start: time.Now()}
	for i := 0; i < ncpu; i++ {
		m.cpus[i].kick = make(chan struct{}, 1)
	}
	return m
}

// a machine whose clock and timer only move through Tick and Advance.
func Mkmanual(ncpu int, hz uint64) *Machine_t {
	return mk(ncpu, hz, true)
}

// a machine driven by the host clock.
func Mkrealtime(ncpu int, hz uint64) *Machine_t {
	return mk(ncpu, hz, false)
}

func (m *Machine_t) Ncpu() int {
	return m.ncpu
}

func (m *Machine_t) Timerhz() uint64 {
	return m.hz
}

func (m *Machine_t) period() time.Duration {
	return time.Second / time.Duration(m.hz)
}

// returns the number of timer interrupts raised on cpu since the last call.
func (m *Machine_t) Pending_ticks(cpu int) int {
	c := &m.cpus[cpu]
	if !m.manual {
		now := uint64(time.Since(m.start) / m.period())
		last := atomic.LoadUint64(&c.last)
		if now > last && atomic.CompareAndSwapUint64(&c.last, last, now) {
			atomic.AddInt64(&c.pend, int64(now-last))
		}
	}
	return int(atomic.SwapInt64(&c.pend, 0))
}

// waits with interrupts enabled until the next interrupt, then returns the
// number of timer interrupts to deliver. a manual machine never waits.
func (m *Machine_t) Halt(cpu int) int {
	c := &m.cpus[cpu]
	c.Halts.Inc()
	if m.manual {
		select {
		case <-c.kick:
		default:
		}
		return m.Pending_ticks(cpu)
	}
	next := time.Duration(atomic.LoadUint64(&c.last)+1) * m.period()
	wait := next - time.Since(m.start)
	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-c.kick:
		case <-t.C:
		}
		t.Stop()
	}
	return m.Pending_ticks(cpu)
}

// wakes a halted CPU; the IPI carries no payload.
func (m *Machine_t) Kick(cpu int) {
	c := &m.cpus[cpu]
	c.Kicks.Inc()
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// raises n timer interrupts on cpu and advances the manual clock by as many
// timer periods when cpu is 0.
func (m *Machine_t) Tick(cpu, n int) {
	if !m.manual {
		panic("tick on realtime machine")
	}
	atomic.AddInt64(&m.cpus[cpu].pend, int64(n))
	if cpu == 0 {
		atomic.AddUint64(&m.clock, uint64(n)*uint64(m.period()))
	}
}

func (m *Machine_t) Advance(ns uint64) {
	atomic.AddUint64(&m.clock, ns)
}

func (m *Machine_t) Nanotime() uint64 {
	if m.manual {
		return atomic.LoadUint64(&m.clock)
	}
	return uint64(time.Since(m.start))
}

// busy-waits for ms milliseconds.
func (m *Machine_t) Delay_ms(ms uint64) {
	if m.manual {
		m.Advance(ms * 1000000)
		return
	}
	until := time.Now().Add(time.Duration(ms) * time.Millisecond)
	for time.Now().Before(until) {
		time.Sleep(50 * time.Microsecond)
	}
}

// the CPU stops for good. a manual machine panics with Halted_t instead so
// that the caller can observe it.
func (m *Machine_t) Halt_forever(cpu int) {
	atomic.StoreInt32(&m.cpus[cpu].dead, 1)
	if m.manual {
		panic(Halted_t{Cpu: cpu})
	}
	for {
		time.Sleep(time.Hour)
	}
}

func (m *Machine_t) Dead(cpu int) bool {
	return atomic.LoadInt32(&m.cpus[cpu].dead) != 0
}

func (m *Machine_t) Stats(cpu int) string {
	return stats.Stats2String(&m.cpus[cpu])
}
