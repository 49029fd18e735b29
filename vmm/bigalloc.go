package vmm

import "corekernel/errs"

// BigAllocator manages a single named range of pages within one
// AddressSpace at a coarser granularity than MapSlice/Reserve: a
// caller reserves a block once, maps or unmaps it as a unit, and can
// later hand the same backing frames to another address space's
// BigAllocator through CopyMapping without re-reading anything from
// disk — the model a block-cache-backed shared mapping or a large
// anonymous region (like fork's duplicated heap or a shared-mapping
// file) needs. Adapted from biscuit's Vmregion_t entries
// (biscuit/src/vm/vmregion.go), which similarly track a named range
// independent of the underlying Mapping's page-by-page view.
type BigAllocator struct {
	as    *AddressSpace
	flags PTEFlags
	block Block[Page]
	held  bool
}

// NewBigAllocator creates an unreserved BigAllocator over as, ready
// for Reserve or ReserveFixed.
func NewBigAllocator(as *AddressSpace, flags PTEFlags) *BigAllocator {
	return &BigAllocator{as: as, flags: flags}
}

// Reserve bump-allocates n fresh pages from the address space's
// matching half and remembers the range, without mapping anything.
func (b *BigAllocator) Reserve(n uint64) errs.Err_t {
	if b.held {
		return errs.InvalidArgument
	}
	blk, err := b.as.Allocator(b.flags).Reserve(n)
	if !err.Ok() {
		return err
	}
	b.block = blk
	b.held = true
	return errs.OK
}

// ReserveFixed claims an explicit, already-known range (e.g. one
// chosen to line up with another address space's identical range for
// CopyMapping) instead of bump-allocating a fresh one. It does not
// check the range for overlap with other reservations; callers using
// ReserveFixed are responsible for choosing disjoint, deliberate
// ranges.
func (b *BigAllocator) ReserveFixed(block Block[Page]) errs.Err_t {
	if b.held {
		return errs.InvalidArgument
	}
	b.as.Allocator(b.flags).fastForwardTo(block.End)
	b.block = block
	b.held = true
	return errs.OK
}

// Unreserve releases the mapping (if any) and forgets the reservation
// so the BigAllocator can be reused.
func (b *BigAllocator) Unreserve() {
	if !b.held {
		return
	}
	b.as.UnmapBlock(b.block)
	b.held = false
	b.block = Block[Page]{}
}

// Rereserve unreserves the current range, if any, and reserves a new
// one of size n in its place.
func (b *BigAllocator) Rereserve(n uint64) errs.Err_t {
	b.Unreserve()
	return b.Reserve(n)
}

// Block returns the reserved page range.
func (b *BigAllocator) Block() Block[Page] { return b.block }

// Map backs the already-reserved range with fresh zeroed frames.
func (b *BigAllocator) Map() errs.Err_t {
	if !b.held {
		return errs.InvalidArgument
	}
	return b.as.MapRangeZeroed(b.block, b.flags)
}

// Unmap tears down the mapping without forgetting the reservation,
// so a later Map can reuse the same range.
func (b *BigAllocator) Unmap() {
	if b.held {
		b.as.UnmapBlock(b.block)
	}
}

// CopyMapping shares the frames backing b's reserved block with dst,
// mapping the same range (or an explicitly different destination
// offset of the same length) in dst's address space and incrementing
// each frame's reference count. flags is an optional override: nil
// keeps each page's source flags unioned with dst's default; non-nil
// replaces them outright.
//
// If b and dst's allocators belong to the same address space, this is
// the remap case rather than a frame-sharing copy: the two ranges must
// be byte-identical (any other overlap is InvalidArgument), and flags
// == nil is a no-op, while flags != nil rewrites every present page's
// flags in place without touching its frame or reference count.
// Installing flags that omit User onto a User-flagged allocator fails
// with PermissionDenied.
//
// Across distinct address spaces, each page pair is handled
// independently: a non-present source page unmaps the corresponding
// destination page (dropping its frame's reference), and a present
// source page shares its frame at the destination with either the
// override or the source flags unioned with dst's default.
func (b *BigAllocator) CopyMapping(dst *BigAllocator, flags *PTEFlags) errs.Err_t {
	if !b.held {
		return errs.InvalidArgument
	}

	if dst.as == b.as {
		if dst.block != b.block {
			return errs.InvalidArgument
		}
		if flags == nil {
			return errs.OK
		}
		if dst.flags.Has(User) && !flags.Has(User) {
			return errs.PermissionDenied
		}
		for p := b.block.Start; p < b.block.End; p++ {
			f, _, err := b.as.mapping.Walk(p.Addr()).Get()
			if err == errs.NoPage {
				continue
			}
			if !err.Ok() {
				return err
			}
			if err := b.as.mapping.Map(p.Addr(), f, *flags); !err.Ok() {
				return err
			}
		}
		return errs.OK
	}

	if !dst.held {
		if err := dst.ReserveFixed(b.block); !err.Ok() {
			return err
		}
	}
	if dst.block.Len() != b.block.Len() {
		return errs.InvalidArgument
	}
	srcPage, dstPage := b.block.Start, dst.block.Start
	for srcPage < b.block.End {
		f, srcFlags, err := b.as.mapping.Walk(srcPage.Addr()).Get()
		if err == errs.NoPage {
			dst.as.UnmapBlock(MkBlock(dstPage, dstPage+1))
			srcPage++
			dstPage++
			continue
		}
		if !err.Ok() {
			return err
		}
		installFlags := srcFlags.Union(dst.flags)
		if flags != nil {
			installFlags = *flags
		}
		b.as.frames.Reference(f)
		if err := dst.as.MapPageToFrame(dstPage, f, installFlags); !err.Ok() {
			b.as.frames.Reference(f).Drop()
			return err
		}
		srcPage++
		dstPage++
	}
	return errs.OK
}

// BigPair wraps one or two address spaces that must be kept in sync
// for a single large operation — typically a CopyMapping between a
// parent and a freshly duplicated child, or (when only one
// AddressSpace is supplied) a self-pair used to reserve-then-map
// within a single space without a separate nil check at every call
// site.
type BigPair struct {
	first, second *AddressSpace
}

// MkBigPair returns a pair over one address space, reusing it for
// both sides.
func MkBigPair(as *AddressSpace) BigPair {
	return BigPair{first: as, second: as}
}

// MkBigPairAcross returns a pair spanning two distinct address
// spaces, e.g. a parent and child across a fork-style duplicate.
func MkBigPairAcross(first, second *AddressSpace) BigPair {
	return BigPair{first: first, second: second}
}

// Same reports whether both sides of the pair are the same address
// space.
func (p BigPair) Same() bool { return p.first == p.second }

// First and Second return the pair's two address spaces (identical
// when Same()).
func (p BigPair) First() *AddressSpace  { return p.first }
func (p BigPair) Second() *AddressSpace { return p.second }

// ShareBlock reserves n pages in both sides of the pair at the same
// range and shares the backing frames between them, the common
// "duplicate this heap segment" step of a fork-style operation.
func (p BigPair) ShareBlock(n uint64, flags PTEFlags) (Block[Page], errs.Err_t) {
	src := NewBigAllocator(p.first, flags)
	if err := src.Reserve(n); !err.Ok() {
		return Block[Page]{}, err
	}
	if err := src.Map(); !err.Ok() {
		return Block[Page]{}, err
	}
	if p.Same() {
		return src.Block(), errs.OK
	}
	dst := NewBigAllocator(p.second, flags)
	if err := dst.ReserveFixed(src.Block()); !err.Ok() {
		return Block[Page]{}, err
	}
	if err := src.CopyMapping(dst, nil); !err.Ok() {
		return Block[Page]{}, err
	}
	return src.Block(), errs.OK
}
