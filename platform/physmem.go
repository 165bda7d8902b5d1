package platform

import "sync"
import "sync/atomic"

import "github.com/SlopLabs/slopos-sub002/defs"

const (
	PGSHIFT  = 12
	PGSIZE   = 1 << PGSHIFT
	PGOFFSET = PGSIZE - 1
)

type frame_t [PGSIZE / 4]uint32

type mkey_t struct {
	pid int
	vpn uintptr
}

// word-addressable physical memory plus per-process page mappings. only
// 32-bit aligned accesses are supported, which is all the futex code needs.
type Physmem_t struct {
	sync.Mutex
	frames map[uintptr]*frame_t
	maps   map[mkey_t]uintptr
	// next free physical page number; page 0 is never handed out
	nextppn uintptr
}

func Mkphysmem() *Physmem_t {
	return &Physmem_t{
		frames:  make(map[uintptr]*frame_t),
		maps:    make(map[mkey_t]uintptr),
		nextppn: 1,
	}
}

// maps a fresh zeroed page at va in pid's address space and returns its
// physical address.
func (pm *Physmem_t) Map(pid int, va uintptr) (uintptr, defs.Err_t) {
	if va < defs.USERMIN || va >= defs.USERMAX {
		return 0, -defs.EFAULT
	}
	pm.Lock()
	defer pm.Unlock()
	k := mkey_t{pid, va >> PGSHIFT}
	if _, ok := pm.maps[k]; ok {
		return 0, -defs.EINVAL
	}
	ppn := pm.nextppn
	pm.nextppn++
	pm.frames[ppn] = &frame_t{}
	pm.maps[k] = ppn
	return ppn << PGSHIFT, 0
}

// maps the page backing sva in spid's address space at dva in dpid's.
func (pm *Physmem_t) Share(spid int, sva uintptr, dpid int, dva uintptr) defs.Err_t {
	if dva < defs.USERMIN || dva >= defs.USERMAX {
		return -defs.EFAULT
	}
	pm.Lock()
	defer pm.Unlock()
	ppn, ok := pm.maps[mkey_t{spid, sva >> PGSHIFT}]
	if !ok {
		return -defs.EFAULT
	}
	pm.maps[mkey_t{dpid, dva >> PGSHIFT}] = ppn
	return 0
}

func (pm *Physmem_t) Uva2pa(pid int, va uintptr) (uintptr, defs.Err_t) {
	pm.Lock()
	ppn, ok := pm.maps[mkey_t{pid, va >> PGSHIFT}]
	pm.Unlock()
	if !ok {
		return 0, -defs.EFAULT
	}
	return ppn<<PGSHIFT | va&PGOFFSET, 0
}

func (pm *Physmem_t) word(pa uintptr) (*uint32, defs.Err_t) {
	if pa&0x3 != 0 {
		return nil, -defs.EINVAL
	}
	pm.Lock()
	f, ok := pm.frames[pa>>PGSHIFT]
	pm.Unlock()
	if !ok {
		return nil, -defs.EFAULT
	}
	return &f[(pa&PGOFFSET)>>2], 0
}

func (pm *Physmem_t) Load32(pa uintptr) (uint32, defs.Err_t) {
	p, err := pm.word(pa)
	if err != 0 {
		return 0, err
	}
	return atomic.LoadUint32(p), 0
}

func (pm *Physmem_t) Store32(pa uintptr, v uint32) defs.Err_t {
	p, err := pm.word(pa)
	if err != 0 {
		return err
	}
	atomic.StoreUint32(p, v)
	return 0
}

func (pm *Physmem_t) Cas32(pa uintptr, old, new uint32) (bool, defs.Err_t) {
	p, err := pm.word(pa)
	if err != 0 {
		return false, err
	}
	return atomic.CompareAndSwapUint32(p, old, new), 0
}

func (pm *Physmem_t) Add32(pa uintptr, d uint32) (uint32, defs.Err_t) {
	p, err := pm.word(pa)
	if err != 0 {
		return 0, err
	}
	return atomic.AddUint32(p, d), 0
}
