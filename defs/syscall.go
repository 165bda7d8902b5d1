package defs

const (
	SYS_YIELD     = 24
	SYS_GETPID    = 39
	SYS_EXIT      = 60
	SYS_KILL      = 62
	SYS_GETRUSAGE = 98
	RUSAGE_SELF   = 0
	SYS_SETTIDADR = 218
	SYS_FUTEX     = 31342
	FUTEX_WAIT    = 1
	FUTEX_WAKE    = 2
	SYS_GETTID    = 31343
	SYS_SLEEPMS   = 31344

	// user pointers must fall inside [USERMIN, USERMAX)
	USERMIN = uintptr(0x1000)
	USERMAX = uintptr(0x800000000000)

	EXITED   = 1 << 10
	SIGNALED = 1 << 11
	SIGSHIFT = 27
)

const (
	SIGINT  = 2
	SIGKILL = 9
	SIGTERM = 15
	SIGCHLD = 17
	NSIG    = 32
)

func Mkexitsig(sig int) int {
	if sig < 0 || sig > NSIG {
		panic("bad sig")
	}
	return sig << SIGSHIFT
}
