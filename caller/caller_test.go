package caller

import "strings"
import "testing"

func warn(dc *Distinct_caller_t) bool {
	ok, _ := dc.Distinct()
	return ok
}

func TestDistinct(t *testing.T) {
	dc := &Distinct_caller_t{Enabled: true}
	first := 0
	for i := 0; i < 3; i++ {
		if warn(dc) {
			first++
		}
	}
	if first != 1 {
		t.Fatalf("same path reported %v times", first)
	}
	if !warn(dc) {
		t.Fatalf("different call site not reported")
	}
	if dc.Len() != 2 {
		t.Fatalf("len %v", dc.Len())
	}
}

func TestDistinctPath(t *testing.T) {
	dc := &Distinct_caller_t{Enabled: true}
	ok, path := dc.Distinct()
	if !ok || !strings.Contains(path, "TestDistinctPath") {
		t.Fatalf("path %q", path)
	}
}

func TestDisabled(t *testing.T) {
	dc := &Distinct_caller_t{}
	if warn(dc) {
		t.Fatalf("disabled tracker reported")
	}
}

func TestCallerstr(t *testing.T) {
	s := Callerstr(0)
	if !strings.Contains(s, "caller_test.go") ||
		!strings.Contains(s, "TestCallerstr") {
		t.Fatalf("missing test frame: %q", s)
	}
}
