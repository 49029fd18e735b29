package heap

import (
	"unsafe"

	"corekernel/bitmap"
	"corekernel/config"
	"corekernel/errs"
	"corekernel/ksync"
	"corekernel/vmm"
)

// ClipSize bounds how many free slot pointers a single Clip may cache
// for one size class, taken from config.Default so cmd/mkfs and tests
// that build a Tunables of their own can still override it by
// assigning ClipSize directly before constructing any allocator.
var ClipSize = config.Default().FixedSizeClips

// sizeClasses lists every power-of-two slot size this heap serves:
// from the smallest allocation worth tracking individually up to one
// page. A request larger than the top class belongs to a page-grained
// allocator (vmm.BigAllocator), not here.
var sizeClasses = []uintptr{8, 16, 32, 64, 128, 256, 512, 1024, 2048, uintptr(vmm.PageSize)}

// SizeClassFor returns the smallest size class that can hold n bytes,
// and false if n exceeds the largest class (one page).
func SizeClassFor(n uintptr) (uintptr, bool) {
	for _, c := range sizeClasses {
		if n <= c {
			return c, true
		}
	}
	return 0, false
}

// FixedSizeAllocator serves fixed-size slots of one size class out of
// a Quarry, tracking occupancy in a DynamicBitmap grown in lockstep
// with it. Guard pages flank the quarry on both sides (carved by the
// kernel-half PageAllocator's own guard zone, reused rather than
// duplicated per class) so a stray write past either edge faults
// instead of corrupting a neighboring class's metadata.
type FixedSizeAllocator struct {
	lock     ksync.FastSpinlock
	slotSize uintptr
	quarry   *Quarry
	occ      *bitmap.DynamicBitmap
	stats    perClassStats
}

// NewFixedSizeAllocator returns an allocator for one size class,
// backed by as (typically the kernel address space's BigAllocator
// half), with nothing reserved yet — the first allocate or fill_clip
// call triggers the first stock_up.
func NewFixedSizeAllocator(as *vmm.AddressSpace, slotSize uintptr, flags vmm.PTEFlags) *FixedSizeAllocator {
	return &FixedSizeAllocator{
		slotSize: slotSize,
		quarry:   newQuarry(as, slotSize, flags),
		occ:      bitmap.NewDynamic(0),
	}
}

// SlotSize returns the size class this allocator serves.
func (f *FixedSizeAllocator) SlotSize() uintptr { return f.slotSize }

// stockUp extends the quarry (and its occupancy bitmap) by one
// Clip's worth of slots, rounded up to whole pages, fetching the new
// pages from the quarry's fallback address space.
func (f *FixedSizeAllocator) stockUp() errs.Err_t {
	spp := vmm.PageSize / int(f.slotSize)
	if spp == 0 {
		spp = 1
	}
	pages := (ClipSize + spp - 1) / spp
	if pages == 0 {
		pages = 1
	}
	first, err := f.quarry.Grow(uint64(pages))
	if !err.Ok() {
		return err
	}
	f.occ.Grow(pages * spp)
	_ = first
	f.stats.pagesInFlight.Add(int64(pages))
	return errs.OK
}

// allocateLocked hands out one free slot's pointer, stocking up once
// if the bitmap is currently full.
func (f *FixedSizeAllocator) allocateLocked() (uintptr, errs.Err_t) {
	idx, err := f.occ.Allocate()
	if err == errs.NoDisk {
		if err := f.stockUp(); !err.Ok() {
			return 0, err
		}
		idx, err = f.occ.Allocate()
	}
	if !err.Ok() {
		return 0, err
	}
	ptr, err := f.quarry.slotPointer(idx)
	if !err.Ok() {
		f.occ.Free(idx)
		return 0, err
	}
	f.stats.allocations.Inc()
	f.stats.bytesRequested.Add(int64(f.slotSize))
	return ptr, errs.OK
}

// Allocate hands out one free slot's pointer, growing the quarry if
// necessary.
func (f *FixedSizeAllocator) Allocate() (uintptr, errs.Err_t) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.allocateLocked()
}

// deallocateLocked returns the slot at ptr to the free bitmap.
func (f *FixedSizeAllocator) deallocateLocked(ptr uintptr) errs.Err_t {
	idx, ok := f.slotIndex(ptr)
	if !ok {
		return errs.InvalidArgument
	}
	f.occ.Free(idx)
	return errs.OK
}

// Deallocate returns ptr, previously returned by Allocate, to this
// allocator.
func (f *FixedSizeAllocator) Deallocate(ptr uintptr) errs.Err_t {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.deallocateLocked(ptr)
}

// slotIndex inverts slotPointer: it finds which slot's mapped page
// contains ptr by walking the quarry's block, the one lookup that
// requires trusting the caller's claim that ptr actually came from
// this allocator (checked as well as this hosted model can: ptr must
// fall within the quarry's currently mapped frame range).
func (f *FixedSizeAllocator) slotIndex(ptr uintptr) (int, bool) {
	spp := f.quarry.slotsPerPage()
	for p := f.quarry.block.Start; p < f.quarry.block.End; p++ {
		frame, _, err := f.quarry.as.Mapping().Walk(p.Addr()).Get()
		if !err.Ok() {
			continue
		}
		base := f.quarry.as.Phys2Virt().FrameVirt(frame)
		if ptr < base || ptr >= base+uintptr(vmm.PageSize) {
			continue
		}
		pageIdx := int(p - f.quarry.block.Start)
		inPage := (ptr - base) / f.slotSize
		return pageIdx*spp + int(inPage), true
	}
	return 0, false
}

// fillClip moves up to n free slot pointers from this allocator into
// clip, stocking up as needed, under the allocator's own lock.
func (f *FixedSizeAllocator) fillClip(clip *Clip, n int) errs.Err_t {
	f.lock.Lock()
	defer f.lock.Unlock()
	for i := 0; i < n && len(clip.ptrs) < ClipSize; i++ {
		ptr, err := f.allocateLocked()
		if !err.Ok() {
			return err
		}
		clip.ptrs = append(clip.ptrs, ptr)
	}
	return errs.OK
}

// unfillClip moves the last n pointers out of clip back to this
// allocator.
func (f *FixedSizeAllocator) unfillClip(clip *Clip, n int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	for i := 0; i < n && len(clip.ptrs) > 0; i++ {
		last := len(clip.ptrs) - 1
		ptr := clip.ptrs[last]
		clip.ptrs = clip.ptrs[:last]
		f.deallocateLocked(ptr)
	}
}

// Drop releases this allocator's quarry and bitmap. It panics if any
// slot is still outstanding; the caller must return every Clip and
// free every pointer first.
func (f *FixedSizeAllocator) Drop() {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.occ.Len()-f.occ.FreeCount() != 0 {
		panic("heap: FixedSizeAllocator dropped with slots still outstanding")
	}
	f.quarry.Unmap()
	f.occ = bitmap.NewDynamic(0)
}

// FixedSizeSnapshot is a point-in-time view of one size class's
// counters, exported for corekernel/diag's fragmentation report.
type FixedSizeSnapshot struct {
	SlotSize       uintptr
	Allocations    int64
	BytesRequested int64
	PagesInFlight  int64
	SlotsTotal     int
	SlotsFree      int
}

// Snapshot reads this allocator's current counters and occupancy.
func (f *FixedSizeAllocator) Snapshot() FixedSizeSnapshot {
	f.lock.Lock()
	defer f.lock.Unlock()
	return FixedSizeSnapshot{
		SlotSize:       f.slotSize,
		Allocations:    int64(f.stats.allocations),
		BytesRequested: int64(f.stats.bytesRequested),
		PagesInFlight:  int64(f.stats.pagesInFlight),
		SlotsTotal:     f.occ.Len(),
		SlotsFree:      f.occ.FreeCount(),
	}
}

// Bytes returns a byte slice view of the slot at ptr, for callers
// that want to read or write through the allocation directly rather
// than via unsafe.Pointer casts at every call site.
func Bytes(ptr uintptr, n uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}
