// Package heap implements the kernel heap: one FixedSizeAllocator per
// power-of-two size class, each owning a Quarry (a lazily-mapped page
// range sliced into fixed-size slots) and a DynamicBitmap tracking
// which slots are in use, fed through per-CPU Clip caches. Adapted
// from biscuit's pmap/allocator split (biscuit/src/mem/mem.go's
// Physmem_t for the "pop a free unit off an intrusive free list"
// shape) generalized to slot sizes below one page, which biscuit's
// own allocator never needed since it only ever hands out whole
// frames.
package heap

import (
	"corekernel/errs"
	"corekernel/vmm"
)

// Quarry is the reserved, lazily-mapped page range one FixedSizeAllocator
// carves its fixed-size slots from. It starts uninitialized (no pages
// reserved) and grows one batch of pages at a time as stock_up needs
// more slots, rather than mapping a whole arena up front.
type Quarry struct {
	as       *vmm.AddressSpace
	flags    vmm.PTEFlags
	slotSize uintptr
	block    vmm.Block[vmm.Page]
}

func newQuarry(as *vmm.AddressSpace, slotSize uintptr, flags vmm.PTEFlags) *Quarry {
	return &Quarry{as: as, flags: flags, slotSize: slotSize}
}

// slotsPerPage reports how many slots of this quarry's size fit in
// one page.
func (q *Quarry) slotsPerPage() int { return vmm.PageSize / int(q.slotSize) }

// Capacity reports the number of slots currently backed by mapped
// pages.
func (q *Quarry) Capacity() int { return int(q.block.Len()) * q.slotsPerPage() }

// Empty reports whether the quarry has never been grown, the state
// required for a FixedSizeAllocator to be droppable.
func (q *Quarry) Empty() bool { return q.block.Empty() }

// Grow reserves and maps nPages more pages, appended immediately
// after the quarry's current range, and returns the index of the
// first newly available slot.
func (q *Quarry) Grow(nPages uint64) (int, errs.Err_t) {
	firstSlot := int(q.block.Len()) * q.slotsPerPage()
	blk, err := q.as.Allocator(q.flags).Reserve(nPages)
	if !err.Ok() {
		return 0, err
	}
	if err := q.as.MapRangeZeroed(blk, q.flags); !err.Ok() {
		return 0, err
	}
	if q.block.Empty() {
		q.block = blk
	} else {
		q.block.End = blk.End
	}
	return firstSlot, errs.OK
}

// Unmap tears down every mapped page in the quarry and resets it to
// the empty state, the "unmap first" step FixedSizeAllocator.Drop
// requires before it will panic-check clean.
func (q *Quarry) Unmap() {
	if q.block.Empty() {
		return
	}
	q.as.UnmapBlock(q.block)
	q.block = vmm.Block[vmm.Page]{}
}

// slotPointer resolves the host-dereferenceable address of slot i by
// walking the quarry's page table for the page it falls in and
// translating through the address space's physical window — the
// quarry's own nominal virtual addresses are only meaningful inside a
// running kernel's address space, not this host process, so every
// read or write to a slot's memory goes through the frame the page
// table reports rather than through the page's virtual address
// directly.
func (q *Quarry) slotPointer(i int) (uintptr, errs.Err_t) {
	spp := q.slotsPerPage()
	page := q.block.Start + vmm.Page(i/spp)
	offset := uintptr(i%spp) * q.slotSize
	f, _, err := q.as.Mapping().Walk(page.Addr()).Get()
	if !err.Ok() {
		return 0, err
	}
	return q.as.Phys2Virt().FrameVirt(f) + offset, errs.OK
}
