package vmm

import "unsafe"

// unsafeSlice views n bytes starting at virtual address va as a Go
// byte slice, for copying data into and out of pages reached through
// a physical window rather than the running goroutine's own address
// space.
func unsafeSlice(va uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(va)), n)
}
