package stats

import "fmt"
import "reflect"
import "sync/atomic"

// counters compile to nothing when false.
const Stats = true

type Counter_t int64

func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

func (c *Counter_t) Add(n int64) {
	if Stats {
		atomic.AddInt64((*int64)(c), n)
	}
}

func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// the largest value observed.
type Hwm_t int64

func (h *Hwm_t) Observe(v int64) {
	if !Stats {
		return
	}
	for {
		old := atomic.LoadInt64((*int64)(h))
		if v <= old || atomic.CompareAndSwapInt64((*int64)(h), old, v) {
			return
		}
	}
}

func (h *Hwm_t) Get() int64 {
	return atomic.LoadInt64((*int64)(h))
}

// renders every Counter_t and Hwm_t field of the struct st, one per line.
func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	s := ""
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		switch f.Type {
		case reflect.TypeOf(Counter_t(0)):
			s += fmt.Sprintf("\n\t#%s: %d", f.Name, v.Field(i).Int())
		case reflect.TypeOf(Hwm_t(0)):
			s += fmt.Sprintf("\n\t^%s: %d", f.Name, v.Field(i).Int())
		}
	}
	return s + "\n"
}
