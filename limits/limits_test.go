package limits

import "testing"

func TestTakeGive(t *testing.T) {
	var s Sysatomic_t = 2
	if !s.Take() || !s.Take() {
		t.Fatalf("take under limit failed")
	}
	if s.Take() {
		t.Fatalf("take past limit succeeded")
	}
	if s.Load() != 0 {
		t.Fatalf("failed take leaked: %v", s.Load())
	}
	s.Give()
	if !s.Take() {
		t.Fatalf("take after give failed")
	}
}

func TestDefaults(t *testing.T) {
	l := MkSysLimit()
	if l.Balance_ms.Load() != 100 || l.Imbalance_pct.Load() != 25 {
		t.Fatalf("balance defaults %v %v", l.Balance_ms.Load(),
			l.Imbalance_pct.Load())
	}
	if FUTEX_BUCKETS&(FUTEX_BUCKETS-1) != 0 {
		t.Fatalf("bucket count must be a power of two")
	}
	if MAXCPUS > 64 {
		t.Fatalf("affinity masks are 64 bits")
	}
}
