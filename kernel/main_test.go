package main

import "log"
import "strings"
import "sync"
import "testing"
import "time"

import "github.com/SlopLabs/slopos-sub002/limits"
import "github.com/SlopLabs/slopos-sub002/platform"
import "github.com/SlopLabs/slopos-sub002/sched"

func TestBoot(t *testing.T) {
	const ncpu = 2
	plat := platform.Mkrealtime(ncpu, 1000)
	pm := platform.Mkphysmem()
	thesched = sched.Mksched(plat, pm, limits.MkSysLimit())
	if err := thesched.Init_scheduler(); err != 0 {
		t.Fatalf("init: %v", err)
	}
	if n := cpus_start(ncpu, 5*time.Second); n != ncpu-1 {
		t.Fatalf("%v APs started", n)
	}
	thesched.Start()

	var wg sync.WaitGroup
	res := &result_t{}
	workload(thesched, pm, ncpu, &wg, res)
	go thesched.Enter_scheduler(0)

	done := make(chan bool)
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatalf("workload stuck\n%v", thesched.Statstr())
	}

	res.Lock()
	defer res.Unlock()
	for _, l := range res.lines {
		log.Printf("%v", l)
		if strings.Contains(l, "failed") {
			t.Fatalf("%v", l)
		}
		if strings.HasPrefix(l, "pinned") && !strings.Contains(l, "cpu 1,") {
			t.Fatalf("pinned task left its cpu: %v", l)
		}
	}
	if len(res.lines) != 13 {
		t.Fatalf("%v tasks reported", len(res.lines))
	}
}
