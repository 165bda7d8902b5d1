package defs

// task ids are small integers indexing the task table; reused after reap.
type Tid_t int

const (
	DIVZERO  = 0
	NMI      = 2
	UD       = 6
	DBLFAULT = 8
	GPFAULT  = 13
	PGFAULT  = 14
	TIMER    = 32
	SYSCALL  = 64
	RESCHED  = 71

	IRQ_BASE = 32
)

// trap frame layout, as pushed by the interrupt entry stubs
const (
	TFSIZE    = 24
	TFREGS    = 17
	TF_GSBASE = 0
	TF_FSBASE = 1
	TF_R15    = 2
	TF_R14    = 3
	TF_R13    = 4
	TF_R12    = 5
	TF_R11    = 6
	TF_R10    = 7
	TF_R9     = 8
	TF_R8     = 9
	TF_RBP    = 10
	TF_RSI    = 11
	TF_RDI    = 12
	TF_RDX    = 13
	TF_RCX    = 14
	TF_RBX    = 15
	TF_RAX    = 16
	TF_TRAP   = TFREGS
	TF_ERROR  = TFREGS + 1
	TF_RIP    = TFREGS + 2
	TF_CS     = TFREGS + 3
	TF_RFLAGS = TFREGS + 4
	TF_RSP    = TFREGS + 5
	TF_SS     = TFREGS + 6
	TF_FL_IF  = 1 << 9
)

// segment selectors; the low two bits of a selector are its privilege level
const (
	KCODE64 = 0x08
	KDATA   = 0x10
	UCODE64 = 0x1b
	UDATA   = 0x23
	CPLMASK = 0x3
)

type Trapframe_t [TFSIZE]uintptr

// returns true if the frame was pushed while the CPU executed in ring 3.
func (tf *Trapframe_t) Fromuser() bool {
	return tf[TF_CS]&CPLMASK == 3
}
