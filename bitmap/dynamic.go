package bitmap

import (
	"corekernel/errs"
	"corekernel/ksync"
)

// DynamicBitmap is a Bitmap that grows as its backing storage grows,
// for trackers whose slot count isn't known up front — the fixed-size
// allocator's Quarry grows one page (and therefore one batch of slots)
// at a time as demand increases, and the bitmap needs to grow with it
// rather than being sized once at boot like the on-disk free maps
// Bitmap was built for.
type DynamicBitmap struct {
	lock ksync.FastSpinlock
	b    Bitmap
}

// NewDynamic returns a DynamicBitmap with an initial capacity of n
// slots, all free.
func NewDynamic(n int) *DynamicBitmap {
	return &DynamicBitmap{b: *New(n)}
}

// Grow extends the bitmap so it tracks n additional slots, all
// initially free, returning the index of the first newly added slot.
func (d *DynamicBitmap) Grow(n int) int {
	d.lock.Lock()
	defer d.lock.Unlock()

	first := d.b.nbits
	total := first + n
	words := (total + 63) / 64
	if words > len(d.b.words) {
		grown := make([]uint64, words)
		copy(grown, d.b.words)
		d.b.words = grown
	}
	d.b.nbits = total
	d.b.free += n
	return first
}

// Len, FreeCount, Test, Reserve, Free, and Allocate delegate to the
// underlying Bitmap under DynamicBitmap's own lock, since Grow
// mutates fields Bitmap's own lock doesn't protect against a
// concurrent Grow.
func (d *DynamicBitmap) Len() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.b.nbits
}

func (d *DynamicBitmap) FreeCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.b.free
}

func (d *DynamicBitmap) Test(i int) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.b.test(i)
}

func (d *DynamicBitmap) Reserve(i int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.b.test(i) {
		d.b.words[i/64] |= 1 << uint(i%64)
		d.b.free--
	}
}

func (d *DynamicBitmap) Free(i int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.b.test(i) {
		panic("bitmap: double free of dynamic slot")
	}
	d.b.words[i/64] &^= 1 << uint(i%64)
	d.b.free++
}

func (d *DynamicBitmap) Allocate() (int, errs.Err_t) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.b.allocateLocked()
}
