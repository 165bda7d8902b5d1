package defs

const (
	EPERM       Err_t = 1
	ENOENT      Err_t = 2
	ESRCH       Err_t = 3
	EINTR       Err_t = 4
	EAGAIN      Err_t = 11
	EWOULDBLOCK       = EAGAIN
	ENOMEM      Err_t = 12
	EFAULT      Err_t = 14
	EBUSY       Err_t = 16
	EINVAL      Err_t = 22
	ENOSYS      Err_t = 38
	ETIMEDOUT   Err_t = 110
)

// Err_t is an errno; kernel routines return 0 on success and a negated errno
// on failure.
type Err_t int

var errnames = map[Err_t]string{
	EPERM:     "EPERM",
	ENOENT:    "ENOENT",
	ESRCH:     "ESRCH",
	EINTR:     "EINTR",
	EAGAIN:    "EAGAIN",
	ENOMEM:    "ENOMEM",
	EFAULT:    "EFAULT",
	EBUSY:     "EBUSY",
	EINVAL:    "EINVAL",
	ENOSYS:    "ENOSYS",
	ETIMEDOUT: "ETIMEDOUT",
}

func (e Err_t) String() string {
	if e == 0 {
		return "ok"
	}
	n := e
	sign := ""
	if n < 0 {
		n = -n
		sign = "-"
	}
	if s, ok := errnames[n]; ok {
		return sign + s
	}
	return sign + "errno?"
}
