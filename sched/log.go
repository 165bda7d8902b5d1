package sched

import "fmt"

import "github.com/SlopLabs/slopos-sub002/caller"

const debug = false

func dbg(f string, args ...interface{}) {
	if debug {
		fmt.Printf(f, args...)
	}
}

// reports a broken scheduler invariant and stops the CPU for good; running
// on could corrupt other CPUs' queues.
func (s *Sched_t) fatal(cpu int, f string, args ...interface{}) {
	fmt.Printf("FATAL cpu %v: %s\n", cpu, fmt.Sprintf(f, args...))
	caller.Callerdump(1)
	s.plat.Halt_forever(cpu)
	panic("halt returned")
}
