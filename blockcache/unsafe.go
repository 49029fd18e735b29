package blockcache

import "unsafe"

// unsafeSlice views n bytes starting at virtual address va as a Go
// byte slice, for reading/writing a mapped block's backing frame
// through the physical window.
func unsafeSlice(va uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(va)), n)
}
