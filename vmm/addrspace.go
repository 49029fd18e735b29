package vmm

import (
	"corekernel/errs"
	"corekernel/pmm"
)

// AddressSpace composes one page-table Mapping with a PageAllocator
// per half (user, below Split; kernel, at or above Split) and the
// process-wide physical window, giving callers a single handle for
// "find me n free pages and back them with real memory" instead of
// juggling the allocator and the table walker separately — adapted
// from biscuit's Vm_t (biscuit/src/vm/as.go), generalized from one
// always-resident kernel map plus per-process user maps into a
// uniform type usable for any address space, kernel or user.
type AddressSpace struct {
	mapping *Mapping
	frames  *pmm.Allocator
	p2v     pmm.Phys2Virt

	split Page
	user  *PageAllocator
	kern  *PageAllocator
}

// NewAddressSpace wires a fresh Mapping to the given per-half page
// allocators, split at the page below which addresses are User and
// at or above which they are Kernel.
func NewAddressSpace(mapping *Mapping, frames *pmm.Allocator, p2v pmm.Phys2Virt, split Page, user, kern *PageAllocator) *AddressSpace {
	return &AddressSpace{mapping: mapping, frames: frames, p2v: p2v, split: split, user: user, kern: kern}
}

// Mapping returns the underlying page-table tree.
func (as *AddressSpace) Mapping() *Mapping { return as.mapping }

// Phys2Virt returns the physical window backing this address space,
// letting a caller that already holds a frame (from Mapping().Walk)
// turn it into a dereferenceable host pointer.
func (as *AddressSpace) Phys2Virt() pmm.Phys2Virt { return as.p2v }

// Frames returns the physical frame allocator backing this address
// space's mappings.
func (as *AddressSpace) Frames() *pmm.Allocator { return as.frames }

func (as *AddressSpace) half(b Block[Page]) (*PageAllocator, PTEFlags, errs.Err_t) {
	switch {
	case b.End <= as.split:
		return as.user, User, errs.OK
	case b.Start >= as.split:
		return as.kern, 0, errs.OK
	default:
		// straddles the user/kernel boundary: never valid, since a
		// single PTE can't be both user- and kernel-only.
		return nil, 0, errs.PermissionDenied
	}
}

// Allocator returns the page allocator serving the half that owns
// flags (User present selects the user half, its absence the kernel
// half) — the accessor spec callers use to Reserve raw page ranges
// before mapping them.
func (as *AddressSpace) Allocator(flags PTEFlags) *PageAllocator {
	if flags.Has(User) {
		return as.user
	}
	return as.kern
}

// MapPageToFrame installs a single present mapping from page to
// frame with the given flags, rejecting flag combinations that would
// cross the user/kernel split (a User-flagged page whose block falls
// in the kernel half, or vice versa).
func (as *AddressSpace) MapPageToFrame(page Page, frame pmm.Frame, flags PTEFlags) errs.Err_t {
	b := MkBlock(page, page+1)
	if _, _, err := as.half(b); !err.Ok() {
		return err
	}
	if flags.Has(User) != (page < as.split) {
		return errs.PermissionDenied
	}
	return as.mapping.Map(page.Addr(), frame, flags)
}

// MapBlock maps every page in b to consecutive frames starting at
// frames, or fails partway through and returns the error — callers
// needing atomicity should Reserve and map into a range scanned as
// empty rather than relying on rollback here.
func (as *AddressSpace) MapBlock(b Block[Page], frame pmm.Frame, flags PTEFlags) errs.Err_t {
	if _, _, err := as.half(b); !err.Ok() {
		return err
	}
	f := frame
	for p := b.Start; p < b.End; p++ {
		if err := as.MapPageToFrame(p, f, flags); !err.Ok() {
			return err
		}
		f++
	}
	return errs.OK
}

// UnmapBlock tears down every present mapping in b, releasing the
// frame allocator's reference on each mapped frame, and is a no-op
// for any page in b that was never mapped.
func (as *AddressSpace) UnmapBlock(b Block[Page]) {
	for p := b.Start; p < b.End; p++ {
		if f, err := as.mapping.Unmap(p.Addr()); err.Ok() {
			as.frames.Reference(f).Drop()
		}
	}
}

// MapSlice reserves len(data) pages (rounded up) from the half
// selected by flags, maps them, and copies data in through the
// physical window — the common path for loading a file's contents or
// a block cache page into an address space.
func (as *AddressSpace) MapSlice(data []byte, flags PTEFlags) (Block[Page], errs.Err_t) {
	b, err := as.MapSliceZeroed(uint64(len(data)), flags)
	if !err.Ok() {
		return Block[Page]{}, err
	}
	off := 0
	for p := b.Start; p < b.End && off < len(data); p++ {
		va := as.p2v.FrameVirt(mustFrame(as, p))
		n := copy(pageBytes(va), data[off:])
		off += n
	}
	return b, errs.OK
}

// MapSliceZeroed reserves and maps ceil(n/PageSize) fresh, zeroed
// pages from the half selected by flags.
func (as *AddressSpace) MapSliceZeroed(n uint64, flags PTEFlags) (Block[Page], errs.Err_t) {
	alloc := as.Allocator(flags)
	npages := (n + PageSize - 1) / PageSize
	if npages == 0 {
		npages = 1
	}
	b, err := alloc.Reserve(npages)
	if !err.Ok() {
		return Block[Page]{}, err
	}
	if err := as.MapRangeZeroed(b, flags); !err.Ok() {
		return Block[Page]{}, err
	}
	return b, errs.OK
}

// MapRangeZeroed backs an already-reserved page range with fresh
// zeroed frames, without touching any allocator — the primitive
// MapSliceZeroed and BigAllocator.Map share, since a BigAllocator's
// range is reserved separately from when it is mapped.
func (as *AddressSpace) MapRangeZeroed(b Block[Page], flags PTEFlags) errs.Err_t {
	for p := b.Start; p < b.End; p++ {
		g, err := as.frames.Allocate()
		if !err.Ok() {
			as.UnmapBlock(MkBlock(b.Start, p))
			return err
		}
		zeroFrame(as.p2v, g.Frame())
		if err := as.MapPageToFrame(p, g.Frame(), flags); !err.Ok() {
			g.Drop()
			as.UnmapBlock(MkBlock(b.Start, p))
			return err
		}
	}
	return errs.OK
}

// UnmapSlice is an alias for UnmapBlock kept for symmetry with
// MapSlice/MapSliceZeroed at call sites that think in terms of byte
// slices rather than page blocks.
func (as *AddressSpace) UnmapSlice(b Block[Page]) { as.UnmapBlock(b) }

// Duplicate shares every kernel-half mapping of as into dst at the
// same virtual addresses (incrementing the underlying frames'
// reference counts rather than copying their contents) and rewinds
// both of dst's page allocators to as's current cursors so neither
// space can later hand out a page the other already owns. The
// user half is never copied: dst's user allocator is only
// fast-forwarded to as's cursor, leaving dst with no user-half
// mappings at all — the whole-address-space analogue of fork(),
// built on the same frame-sharing Reference call BigAllocator.CopyMapping
// uses for a single block.
func (as *AddressSpace) Duplicate(dst *AddressSpace) errs.Err_t {
	dst.user.fastForwardTo(as.user.Cursor())
	return as.duplicateHalf(as.kern, dst.kern, dst)
}

func (as *AddressSpace) duplicateHalf(src, dstAlloc *PageAllocator, dst *AddressSpace) errs.Err_t {
	cursor := src.Cursor()
	dstAlloc.fastForwardTo(cursor)
	for p := src.Base(); p < cursor; p++ {
		f, flags, err := as.mapping.Walk(p.Addr()).Get()
		if err == errs.NoPage {
			continue
		}
		if !err.Ok() {
			return err
		}
		as.frames.Reference(f)
		if err := dst.mapping.Map(p.Addr(), f, flags); !err.Ok() {
			as.frames.Reference(f).Drop()
			return err
		}
	}
	return errs.OK
}

// CR3Loader abstracts loading an address space's root into the
// hardware paging-root register. The real MMU-level write is an
// external collaborator outside this module's scope (it depends on
// which CPU executes it and how translations are flushed); tests and
// host tooling use NopCR3Loader.
type CR3Loader interface {
	Load(root pmm.Frame)
}

// NopCR3Loader is the host-side CR3Loader: it records nothing, since
// there is no MMU register to write outside a booted kernel.
type NopCR3Loader struct{}

func (NopCR3Loader) Load(pmm.Frame) {}

// CR3 is the process-wide paging-root loader. Kernel boot code
// installs the real implementation; it defaults to NopCR3Loader.
var CR3 CR3Loader = NopCR3Loader{}

// SwitchTo loads this address space's root table as the active one.
func (as *AddressSpace) SwitchTo() {
	CR3.Load(as.mapping.root)
}

func mustFrame(as *AddressSpace, p Page) pmm.Frame {
	f, _, err := as.mapping.Walk(p.Addr()).Get()
	if !err.Ok() {
		panic("vmm: MapSlice copy into page that failed to map")
	}
	return f
}

func pageBytes(va uintptr) []byte {
	return unsafeSlice(va, PageSize)
}
