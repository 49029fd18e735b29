package fs

import "unsafe"

func addOffset(base uintptr, off uintptr) unsafe.Pointer {
	return unsafe.Pointer(base + off)
}

func blockBytes(ptr uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), BlockSize)
}
