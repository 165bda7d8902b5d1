package util

import "encoding/binary"

// ceil(n/d) on unsigned quantities without overflow; d must be non-zero.
func Divroundup(n, d uint64) uint64 {
	q := n / d
	if n%d != 0 {
		q++
	}
	return q
}

// index of the lowest set bit of a non-zero mask.
func Ffs64(m uint64) int {
	if m == 0 {
		panic("no bits")
	}
	i := 0
	for m&0xff == 0 {
		m >>= 8
		i += 8
	}
	for m&1 == 0 {
		m >>= 1
		i++
	}
	return i
}

// the mask with the low n bits set.
func Lowbits(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<uint(n) - 1
}

// little-endian words, as user space lays out its structures.
func Put64(b []uint8, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:], v)
}

func Get64(b []uint8, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off:])
}
