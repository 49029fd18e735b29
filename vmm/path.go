package vmm

import (
	"corekernel/errs"
	"corekernel/pmm"
)

// Path is the result of descending a Mapping's tree for one virtual
// address: the level the descent actually reached (3 = PML4 down to
// 0 = the innermost page table holding leaf PTEs) and the entry found
// there. Descent stops at the first non-present entry, or at a HUGE
// intermediate entry representing a large page, whichever comes
// first — so a fully resolved 4 KiB mapping always has Level() == 0,
// and an unmapped or huge-mapped address stops above that.
type Path struct {
	mapping *Mapping
	va      uintptr
	level   int
	entry   pte
}

// Walk descends the tree for va without allocating anything, suitable
// for inspecting an existing mapping (Get) or tearing one down
// (Unmap).
func (m *Mapping) Walk(va uintptr) *Path {
	_, level, entry, _ := m.slotPtr(va, 0, false, 0)
	return &Path{mapping: m, va: va, level: level, entry: entry}
}

// Level reports how far the descent reached.
func (p *Path) Level() int { return p.level }

// Present reports whether the entry at the reached level is present.
func (p *Path) Present() bool { return p.entry.present() }

// Huge reports whether the reached entry maps a large page rather
// than being a leaf 4 KiB PTE.
func (p *Path) Huge() bool { return p.entry.huge() }

// Get returns the frame and flags of a fully resolved mapping. It
// fails with NoPage if the address is unmapped, and Unimplemented if
// the descent stopped on a HUGE intermediate (large-page decoding is
// out of scope for this path).
func (p *Path) Get() (pmm.Frame, PTEFlags, errs.Err_t) {
	if !p.entry.present() {
		return 0, 0, errs.NoPage
	}
	if p.level != 0 {
		return 0, 0, errs.Unimplemented
	}
	return p.entry.frame(), p.entry.flags(), errs.OK
}

// GetMut rewrites the flags of an already-present leaf entry in
// place, preserving its frame — used to flip DIRTY/ACCESSED during
// block cache writeback or to narrow permissions (e.g. marking a
// shared page read-only for copy-on-write).
func (p *Path) GetMut(flags PTEFlags) errs.Err_t {
	if !p.entry.present() {
		return errs.NoPage
	}
	if p.level != 0 {
		return errs.Unimplemented
	}
	ptr, _, _, err := p.mapping.slotPtr(p.va, 0, false, 0)
	if !err.Ok() {
		return err
	}
	newE := mkPTE(p.entry.frame(), flags)
	*ptr = newE
	p.entry = newE
	return errs.OK
}

// Block returns the frame a fully resolved leaf entry maps, without
// the flags — a convenience for callers (block cache eviction,
// address space teardown) that only care about which frame to
// release.
func (p *Path) Block() (pmm.Frame, errs.Err_t) {
	f, _, err := p.Get()
	return f, err
}

// Map installs a leaf mapping from va to frame f with the given
// flags, allocating any missing intermediate tables along the way and
// broadening their flags (never narrowing) to stay at least as
// permissive as the new leaf. If va is already mapped, Map overwrites
// the leaf PTE instead of failing: flags are unioned onto the
// existing entry, and if f differs from the frame already mapped
// there, the previous frame's guard is dropped (its reference count
// decremented) since nothing now points at it. It fails with
// InvalidAlignment if va is not page-aligned, InvalidArgument if an
// intermediate HUGE entry blocks the descent, and whatever error the
// frame allocator returns if a table frame cannot be allocated. Either
// way, any cached translation for va is invalidated before returning.
func (m *Mapping) Map(va uintptr, f pmm.Frame, flags PTEFlags) errs.Err_t {
	if va&(PageSize-1) != 0 {
		return errs.InvalidAlignment
	}
	ptr, _, entry, err := m.slotPtr(va, 0, true, flags)
	if !err.Ok() {
		return err
	}
	if entry.present() {
		newFlags := entry.flags().Union(flags)
		*ptr = mkPTE(f, newFlags)
		if entry.frame() != f {
			m.frames.Reference(entry.frame()).Drop()
		}
		InvalidatePage(va)
		return errs.OK
	}
	*ptr = mkPTE(f, flags)
	InvalidatePage(va)
	return errs.OK
}

// Unmap clears the leaf entry for va and returns the frame it mapped.
// It does not reclaim now-empty intermediate tables; callers that
// tear down a whole address space free those via the tree walk in
// AddressSpace's teardown rather than per-page. Any cached translation
// for va is invalidated.
func (m *Mapping) Unmap(va uintptr) (pmm.Frame, errs.Err_t) {
	ptr, _, entry, err := m.slotPtr(va, 0, false, 0)
	if !err.Ok() {
		return 0, err
	}
	if !entry.present() {
		return 0, errs.NoPage
	}
	f := entry.frame()
	*ptr = 0
	InvalidatePage(va)
	return f, errs.OK
}
