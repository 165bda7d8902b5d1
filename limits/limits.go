package limits

import "sync/atomic"

// compile-time capacities; every scheduler table is a fixed array sized by
// these so that nothing grows after boot.
const (
	MAXCPUS       = 64
	MAXTASKS      = 256
	NPRIO         = 16
	FUTEX_BUCKETS = 64
	FUTEX_SLOTS   = 16
	INBOXSZ       = 32
	NIST          = 3
)

type Sysatomic_t int64

type Syslimit_t struct {
	// live tasks, idle tasks included
	Sysprocs Sysatomic_t
	// timer interrupt frequency
	Timerhz uint64
	// time slice before a runnable peer preempts the current task
	Quantum_ms uint64
	// attempts before a spinlock acquisition yields the host CPU
	Stealspin int
	// periodic balancer cadence; settable at runtime
	Balance_ms Sysatomic_t
	// allowed spread around the average queue length, in percent
	Imbalance_pct Sysatomic_t
}

var Syslimit *Syslimit_t = MkSysLimit()

func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs:      MAXTASKS,
		Timerhz:       1000,
		Quantum_ms:    10,
		Stealspin:     1 << 10,
		Balance_ms:    100,
		Imbalance_pct: 25,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(s)
}

func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

// returns false if the limit has been reached.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

func (s *Sysatomic_t) Give() {
	s.Given(1)
}

func (s *Sysatomic_t) Load() int64 {
	return atomic.LoadInt64(s._aptr())
}

func (s *Sysatomic_t) Store(v int64) {
	atomic.StoreInt64(s._aptr(), v)
}
