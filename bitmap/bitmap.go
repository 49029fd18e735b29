// Package bitmap implements the occupancy bitmaps the free-space
// tracker (file-system free block/inode maps) and the fixed-size
// allocator's Quarry share: one bit per slot, packed into 64-bit
// words, with the usual population-count free-slot search. Adapted
// from biscuit's on-disk free bitmap handling in fs/fs.go (Balloc/
// Bfree scan a byte-indexed bitmap one block at a time) and
// generalized into an in-memory word-packed type shared by every
// caller that needs "find me a zero bit, set it" rather than
// reimplementing the scan per subsystem.
package bitmap

import (
	"math/bits"
	"strconv"

	"corekernel/errs"
	"corekernel/ksync"
)

// Bitmap tracks the occupancy of a fixed number of slots, 1 bit per
// slot: 0 means free, 1 means occupied.
type Bitmap struct {
	lock  ksync.FastSpinlock
	words []uint64
	nbits int
	free  int
}

// New returns a Bitmap over n slots, all initially free.
func New(n int) *Bitmap {
	return &Bitmap{
		words: make([]uint64, (n+63)/64),
		nbits: n,
		free:  n,
	}
}

// Len returns the total number of slots.
func (b *Bitmap) Len() int { return b.nbits }

// FreeCount returns the number of currently-free slots.
func (b *Bitmap) FreeCount() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.free
}

// Test reports whether slot i is occupied. It panics if i is out of
// range.
func (b *Bitmap) Test(i int) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.test(i)
}

func (b *Bitmap) test(i int) bool {
	if i < 0 || i >= b.nbits {
		panic("bitmap: index out of range")
	}
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// Reserve marks slot i occupied unconditionally (used to force
// reserved slots — the superblock, the root inode — permanently
// occupied at mount time). It is idempotent.
func (b *Bitmap) Reserve(i int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.test(i) {
		b.words[i/64] |= 1 << uint(i%64)
		b.free--
	}
}

// Free clears slot i, making it available again. It panics if the
// slot was already free, since that indicates a double-free bug in
// the caller.
func (b *Bitmap) Free(i int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.test(i) {
		panic("bitmap: double free of slot " + strconv.Itoa(i))
	}
	b.words[i/64] &^= 1 << uint(i%64)
	b.free++
}

// Allocate finds the lowest-numbered free slot, marks it occupied,
// and returns its index. It fails with NoDisk (the shared
// "no free slot" code, named for the bitmap's dominant use tracking
// on-disk blocks and inodes) if every slot is occupied.
func (b *Bitmap) Allocate() (int, errs.Err_t) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.allocateLocked()
}

func (b *Bitmap) allocateLocked() (int, errs.Err_t) {
	for wi, w := range b.words {
		if w == ^uint64(0) {
			continue
		}
		// the lowest zero bit in w is the lowest free slot in this word
		bit := bits.TrailingZeros64(^w)
		idx := wi*64 + bit
		if idx >= b.nbits {
			continue
		}
		b.words[wi] |= 1 << uint(bit)
		b.free--
		return idx, errs.OK
	}
	return 0, errs.NoDisk
}
