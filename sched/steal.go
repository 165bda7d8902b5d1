package sched

import "github.com/SlopLabs/slopos-sub002/task"

// takes one ready task from a peer for c. peers are tried once each in
// order, starting with c's successor. a task whose affinity excludes c goes
// back to its victim and the scan continues. reports whether c got a task.
func (s *Sched_t) steal(c *Cpu_t) bool {
	for i := 1; i < s.ncpu; i++ {
		v := &s.cpus[(c.id+i)%s.ncpu]
		if !v.Online() {
			continue
		}
		t := v.rq.Trysteal()
		if t == nil {
			continue
		}
		if !t.Allowed(c.id) {
			v.rq.Putback(t)
			c.Stats.Nstealfail.Inc()
			continue
		}
		s.migrate(t, c)
		c.Stats.Nsteal.Inc()
		return true
	}
	return false
}

// queues a task taken off another CPU's queue on c.
func (s *Sched_t) migrate(t *task.Task_t, c *Cpu_t) {
	t.Migrated()
	t.Setcpu(c.id)
	c.rq.Push(t)
	s.Stats.Nmigrate.Inc()
}
