package sched

import "sync/atomic"

import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/task"

// runs the balancer if the balance interval elapsed since the last pass.
// concurrent callers race on the timestamp so that one of them balances.
func (s *Sched_t) Balance_tick(nowms uint64) bool {
	iv := uint64(s.lim.Balance_ms.Load())
	last := atomic.LoadUint64(&s.lastbal)
	if nowms-last < iv {
		return false
	}
	if !atomic.CompareAndSwapUint64(&s.lastbal, last, nowms) {
		return false
	}
	return s.Balance()
}

// one balancing pass: misplaced tasks move to an allowed CPU, then if the
// queue lengths spread past the imbalance threshold one task moves from the
// longest queue to the shortest. reports whether a task moved for load.
func (s *Sched_t) Balance() bool {
	s.Affinity_fixup()
	var lens [limits.MAXCPUS]int
	n, sum := 0, 0
	max, min := -1, -1
	for i := 0; i < s.ncpu; i++ {
		if !s.cpus[i].Online() {
			continue
		}
		l := s.cpus[i].rq.Len()
		lens[i] = l
		sum += l
		n++
		if max == -1 || l > lens[max] {
			max = i
		}
		if min == -1 || l < lens[min] {
			min = i
		}
	}
	if n < 2 {
		return false
	}
	s.Stats.Nbalance.Inc()
	// in hundredths of a task
	avg := sum * 100 / n
	thr := int(s.lim.Imbalance_pct.Load())
	hi := lens[max]*100 - avg
	lo := avg - lens[min]*100
	if hi*100 <= thr*avg && lo*100 <= thr*avg {
		return false
	}
	// moving one task between queues a task apart only swaps them
	if lens[max]-lens[min] < 2 {
		return false
	}
	from, to := &s.cpus[max], &s.cpus[min]
	t := from.rq.Take()
	if t == nil {
		return false
	}
	if !t.Allowed(to.id) {
		from.rq.Putback(t)
		return false
	}
	s.migrate(t, to)
	s.plat.Kick(to.id)
	return true
}

// lowest online CPU permitted by t's mask, or -1.
func (s *Sched_t) lowest_allowed(t *task.Task_t) int {
	for i := 0; i < s.ncpu; i++ {
		if s.cpus[i].Online() && t.Allowed(i) {
			return i
		}
	}
	return -1
}

// moves every queued task sitting on a CPU outside its affinity mask to the
// lowest CPU the mask allows. returns the number moved.
func (s *Sched_t) Affinity_fixup() int {
	moved := 0
	for i := 0; i < s.ncpu; i++ {
		c := &s.cpus[i]
		if !c.Online() || c.rq.Len() == 0 {
			continue
		}
		var bad [limits.MAXTASKS]*task.Task_t
		n := 0
		c.rq.Iter(func(t *task.Task_t) bool {
			if !t.Allowed(i) {
				bad[n] = t
				n++
			}
			return true
		})
		for _, t := range bad[:n] {
			to := s.lowest_allowed(t)
			if to == -1 || !c.rq.Remove(t) {
				continue
			}
			s.migrate(t, &s.cpus[to])
			s.plat.Kick(to)
			s.Stats.Nfixup.Inc()
			moved++
		}
	}
	return moved
}

func (s *Sched_t) Set_balance_interval(ms int) defs.Err_t {
	if ms <= 0 {
		return -defs.EINVAL
	}
	s.lim.Balance_ms.Store(int64(ms))
	return 0
}

func (s *Sched_t) Set_imbalance_threshold(pct int) defs.Err_t {
	if pct < 0 || pct > 1000 {
		return -defs.EINVAL
	}
	s.lim.Imbalance_pct.Store(int64(pct))
	return 0
}
