// Package ctxsw is the only code that transfers control between execution
// contexts. Every context owns a baton; a context runs only while it holds its
// baton, so at most one context per CPU executes at any time. Floating point
// state and the address-space root are not part of a context; callers switch
// those themselves.
package ctxsw

import "reflect"
import "runtime"
import "sync/atomic"

import "github.com/SlopLabs/slopos-sub002/defs"

type Entry_t func(arg uintptr)

type Context_t struct {
	// callee-saved registers. a fresh context carries its entry function's
	// address in R12 and the entry argument in R13.
	Rbx    uintptr
	Rbp    uintptr
	R12    uintptr
	R13    uintptr
	R14    uintptr
	R15    uintptr
	Rsp    uintptr
	Rip    uintptr
	Rflags uintptr

	baton   chan struct{}
	started uint32
	entry   Entry_t
	exit    func()
	fatal   func(why string)
}

func (c *Context_t) Valid() bool {
	return c.baton != nil
}

// f runs before the panic whenever a switch through c finds a context in an
// impossible state. Mkctx and Reset clear it.
func (c *Context_t) Set_fatal(f func(why string)) {
	c.fatal = f
}

func (c *Context_t) die(why string) {
	if c != nil && c.fatal != nil {
		c.fatal(why)
	}
	panic("ctxsw: " + why)
}

// zeroes the context; the record must not be switched to afterwards.
func (c *Context_t) Reset() {
	*c = Context_t{}
}

func pc(skip int) uintptr {
	p, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return 0
	}
	return p
}

// Fnaddr returns the code address of f.
func Fnaddr(f interface{}) uintptr {
	return reflect.ValueOf(f).Pointer()
}

func (c *Context_t) resume() {
	select {
	case c.baton <- struct{}{}:
	default:
		c.die("context resumed twice")
	}
}

func (c *Context_t) park() {
	<-c.baton
}

// Capture makes the calling execution context resumable through c. It is used
// once per CPU to remember the pre-scheduler entry point the CPU falls back to
// whenever a task gives up the processor.
func Capture(c *Context_t) {
	c.baton = make(chan struct{}, 1)
	atomic.StoreUint32(&c.started, 1)
	c.Rip = pc(1)
	c.Rflags = defs.TF_FL_IF
	c.entry = nil
	c.exit = nil
}

// Mkctx prepares c to begin execution on the trampoline, which calls
// entry(arg) and then exit. stacktop is the top of the context's kernel stack.
func Mkctx(c *Context_t, stacktop uintptr, entry Entry_t, arg uintptr, exit func()) {
	if entry == nil || exit == nil {
		panic("ctxsw: nil entry")
	}
	*c = Context_t{}
	c.baton = make(chan struct{}, 1)
	c.Rsp = stacktop &^ 0xf
	c.Rip = Fnaddr(trampoline)
	c.R12 = Fnaddr(entry)
	c.R13 = arg
	c.Rflags = defs.TF_FL_IF
	c.entry = entry
	c.exit = exit
}

// Switch saves the running context into prev (unless prev is nil, which marks
// the first switch on a CPU) and resumes next. The call returns only when some
// CPU switches back to prev. Interrupts must be disabled by the caller.
func Switch(prev, next *Context_t) {
	if next == nil || next.baton == nil {
		prev.die("corrupt context")
	}
	if prev != nil {
		if prev.baton == nil {
			prev.die("corrupt previous context")
		}
		prev.Rip = pc(1)
	}
	if atomic.CompareAndSwapUint32(&next.started, 0, 1) {
		go trampoline(next)
	}
	next.resume()
	if prev != nil {
		prev.park()
	}
}

// Exit_to resumes next and destroys the calling context. It never returns.
func Exit_to(next *Context_t) {
	if next == nil || next.baton == nil {
		next.die("corrupt context")
	}
	if atomic.CompareAndSwapUint32(&next.started, 0, 1) {
		go trampoline(next)
	}
	next.resume()
	runtime.Goexit()
}

// landing pad for a fresh context.
func trampoline(c *Context_t) {
	c.park()
	if c.entry == nil || c.R12 != Fnaddr(c.entry) {
		c.die("trampoline without entry")
	}
	c.entry(c.R13)
	c.exit()
	c.die("task exit returned")
}
