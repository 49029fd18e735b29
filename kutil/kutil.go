// Package kutil holds small numeric helpers shared across the core,
// adapted from biscuit's util package (biscuit/src/util/util.go):
// the same generic rounding helpers, generalized further with
// golang.org/x/exp/constraints so callers outside this module's
// control of the Int constraint can still use them.
package kutil

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Number is satisfied by every built-in integer type, matching
// biscuit's ad hoc Int constraint but sourced from the ecosystem
// constraints package rather than re-declared per module.
type Number = constraints.Integer

// Min returns the smaller of a and b.
func Min[T Number](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Number](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Number](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Number](v, b T) T {
	return Rounddown(v+b-1, b)
}

// DivRoundup computes ceil(v/b) for positive v, b.
func DivRoundup[T Number](v, b T) T {
	return (v + b - 1) / b
}

// Readn reads an n-byte little-endian integer from a at off.
// It panics if the requested region is out of bounds or n is unsupported,
// exactly as biscuit's Readn does for on-disk field access.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || n < 0 || off+n > len(a) {
		panic("kutil.Readn: out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch n {
	case 8:
		return *(*int)(p)
	case 4:
		return int(*(*uint32)(p))
	case 2:
		return int(*(*uint16)(p))
	case 1:
		return int(*(*uint8)(p))
	default:
		panic("kutil.Readn: unsupported size")
	}
}

// Writen writes val using sz bytes into a at off.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || sz < 0 || off+sz > len(a) {
		panic("kutil.Writen: out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*int)(p) = val
	case 4:
		*(*uint32)(p) = uint32(val)
	case 2:
		*(*uint16)(p) = uint16(val)
	case 1:
		*(*uint8)(p) = uint8(val)
	default:
		panic("kutil.Writen: unsupported size")
	}
}
