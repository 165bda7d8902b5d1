package main

import "flag"
import "fmt"
import "os"
import "runtime"
import "sync"
import "sync/atomic"
import "time"

import "github.com/SlopLabs/slopos-sub002/defs"
import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/platform"
import "github.com/SlopLabs/slopos-sub002/sched"
import "github.com/SlopLabs/slopos-sub002/task"

var _cpus struct {
	joincpus uint64
	apready  uint64
}

var thesched *sched.Sched_t

// application processor entry. the AP waits for the boot CPU to let it join,
// brings up its scheduler state and enters the dispatch loop.
func ap_entry(myid int, budget time.Duration) {
	mybit := uint64(1) << uint(myid)
	until := time.Now().Add(budget)
	for atomic.LoadUint64(&_cpus.joincpus)&mybit == 0 {
		if time.Now().After(until) {
			fmt.Printf("cpu %v: never released\n", myid)
			return
		}
		runtime.Gosched()
	}
	if err := thesched.Init_scheduler_for_ap(myid); err != 0 {
		fmt.Printf("cpu %v: init failed: %v\n", myid, err)
		return
	}
	atomic.AddUint64(&_cpus.apready, 1)
	thesched.Enter_scheduler(myid)
}

// releases the APs and waits, within a time budget, until they report
// ready. returns the number that came up.
func cpus_start(ncpu int, budget time.Duration) int {
	apcnt := ncpu - 1
	if apcnt == 0 {
		fmt.Printf("uniprocessor\n")
		return 0
	}
	for i := 1; i < ncpu; i++ {
		go ap_entry(i, budget)
	}
	all := uint64(1)<<uint(ncpu) - 1
	atomic.StoreUint64(&_cpus.joincpus, all&^1)
	until := time.Now().Add(budget)
	for atomic.LoadUint64(&_cpus.apready) < uint64(apcnt) {
		if time.Now().After(until) {
			break
		}
		runtime.Gosched()
	}
	got := int(atomic.LoadUint64(&_cpus.apready))
	if got != apcnt {
		fmt.Printf("only %v of %v APs started\n", got, apcnt)
	}
	return got
}

type result_t struct {
	sync.Mutex
	lines []string
}

func (r *result_t) add(f string, args ...interface{}) {
	r.Lock()
	r.lines = append(r.lines, fmt.Sprintf(f, args...))
	r.Unlock()
}

// a mixed workload: yielding spinners, sleepers, a futex ping-pong pair, a
// joiner waiting for a child through its tid word, and tasks pinned to the
// last CPU.
func workload(s *sched.Sched_t, pm *platform.Physmem_t, ncpu int, wg *sync.WaitGroup,
	res *result_t) {
	spawn := func(name string, pid, prio int, aff uint64, fn sched.Taskfn_t) {
		wg.Add(1)
		body := func(self *task.Task_t, arg uintptr) {
			defer wg.Done()
			fn(self, arg)
		}
		if _, err := s.Create_task(name, pid, prio, aff, body, 0); err != 0 {
			wg.Done()
			fmt.Printf("create %v: %v\n", name, err)
		}
	}

	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("yield%d", i)
		spawn(name, 1, task.PRIO_DEFAULT, 0, func(self *task.Task_t, _ uintptr) {
			for j := 0; j < 50; j++ {
				s.Irqpoint(self)
				s.Yield(self)
			}
			res.add("%v: done, %v migrations", name, self.Nmigrations())
		})
	}

	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("sleep%d", i)
		spawn(name, 1, task.PRIO_DEFAULT-1, 0, func(self *task.Task_t, _ uintptr) {
			var tf defs.Trapframe_t
			st := time.Now()
			for j := 0; j < 5; j++ {
				tf[defs.TF_RAX] = defs.SYS_SLEEPMS
				tf[defs.TF_RDI] = 5
				if r := s.Syscall(self, &tf); r != 0 {
					res.add("%v: sleep failed %v", name, r)
				}
			}
			res.add("%v: slept %v", name, time.Since(st).Round(time.Millisecond))
		})
	}

	// ping-pong between two processes sharing one page at different
	// addresses. the word counts handoffs: even means ping's turn.
	const word = 0x1000
	const pongword = 0x5000
	if _, err := pm.Map(2, word); err != 0 {
		panic("map")
	}
	if err := pm.Share(2, word, 4, pongword); err != 0 {
		panic("share")
	}
	turn := func(pid int, va uintptr, parity uint32, name string) sched.Taskfn_t {
		return func(self *task.Task_t, _ uintptr) {
			pa, _ := pm.Uva2pa(pid, va)
			for i := 0; i < 20; i++ {
				for {
					v, _ := pm.Load32(pa)
					if v%2 == parity {
						break
					}
					s.Sys_futex(self, int(va), defs.FUTEX_WAIT, int(v), 0)
				}
				pm.Add32(pa, 1)
				s.Sys_futex(self, int(va), defs.FUTEX_WAKE, 1, 0)
			}
			res.add("%v: 20 rounds", name)
		}
	}
	spawn("ping", 2, task.PRIO_DEFAULT, 0, turn(2, word, 0, "ping"))
	spawn("pong", 4, task.PRIO_DEFAULT, 0, turn(4, pongword, 1, "pong"))

	// the joiner waits for the tid word the child clears on exit
	const tidword = 0x2000
	if _, err := pm.Map(3, tidword); err != 0 {
		panic("map")
	}
	tpa, _ := pm.Uva2pa(3, tidword)
	pm.Store32(tpa, 1)
	spawn("joiner", 3, task.PRIO_DEFAULT, 0, func(self *task.Task_t, _ uintptr) {
		for {
			v, _ := pm.Load32(tpa)
			if v == 0 {
				break
			}
			s.Sys_futex(self, tidword, defs.FUTEX_WAIT, int(v), 0)
		}
		res.add("joiner: child gone")
	})
	spawn("child", 3, task.PRIO_DEFAULT, 0, func(self *task.Task_t, _ uintptr) {
		s.Sys_set_tid_address(self, tidword)
		s.Sleep_ms(self, 20)
	})

	last := uint64(1) << uint(ncpu-1)
	for i := 0; i < 2; i++ {
		name := fmt.Sprintf("pinned%d", i)
		spawn(name, 4, task.PRIO_DEFAULT+2, last, func(self *task.Task_t, _ uintptr) {
			st := time.Now()
			for time.Since(st) < 30*time.Millisecond {
				s.Irqpoint(self)
			}
			res.add("%v: ran on cpu %v, %v migrations", name, self.Cpu(),
				self.Nmigrations())
		})
	}
}

func main() {
	ncpu := flag.Int("ncpu", 4, "number of simulated CPUs")
	hz := flag.Uint64("hz", 1000, "timer frequency")
	flag.Parse()
	if *ncpu < 1 || *ncpu > limits.MAXCPUS {
		fmt.Printf("bad cpu count %v\n", *ncpu)
		os.Exit(1)
	}

	fmt.Printf("              slopos scheduler\n")
	fmt.Printf("          go version: %v\n", runtime.Version())
	fmt.Printf("  %v CPUs, %v Hz\n", *ncpu, *hz)

	plat := platform.Mkrealtime(*ncpu, *hz)
	pm := platform.Mkphysmem()
	lim := limits.MkSysLimit()
	lim.Timerhz = *hz
	thesched = sched.Mksched(plat, pm, lim)
	if err := thesched.Init_scheduler(); err != 0 {
		fmt.Printf("boot cpu init: %v\n", err)
		os.Exit(1)
	}
	cpus_start(*ncpu, time.Second)
	thesched.Start()

	var wg sync.WaitGroup
	res := &result_t{}
	workload(thesched, pm, *ncpu, &wg, res)
	go thesched.Enter_scheduler(0)

	done := make(chan bool)
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		fmt.Printf("workload stuck\n%v", thesched.Statstr())
		os.Exit(1)
	}
	thesched.Stop()

	res.Lock()
	for _, l := range res.lines {
		fmt.Printf("%v\n", l)
	}
	res.Unlock()
	fmt.Printf("%v", thesched.Statstr())
	for i := 0; i < *ncpu; i++ {
		fmt.Printf("platform cpu %v:%v", i, plat.Stats(i))
	}
}
