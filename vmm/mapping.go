package vmm

import (
	"unsafe"

	"corekernel/errs"
	"corekernel/pmm"
)

// Mapping owns one page-table tree: a root frame plus the recursive
// slot that, on real hardware, makes every table page in the tree
// addressable as ordinary virtual memory, adapted from biscuit's
// Vm_t/pmap handling in biscuit/src/vm/as.go. The self-map entry is
// installed at construction as the structural invariant the rest of
// the core relies on (a Path can report the virtual address a table
// would have if the MMU were walking it), but the traversal code
// below reaches every table through the physical window instead of
// dereferencing that recursive address directly, since this module
// runs equally against a booted kernel's real address space and a
// host process's plain heap, and only the physical window is valid in
// both.
type Mapping struct {
	root    pmm.Frame
	recSlot uint
	p2v     pmm.Phys2Virt
	frames  *pmm.Allocator
}

// NewMapping allocates a fresh, zeroed root table and wires its
// recursive slot to point at itself.
func NewMapping(frames *pmm.Allocator, p2v pmm.Phys2Virt, recSlot uint) (*Mapping, *pmm.FrameGuard, errs.Err_t) {
	g, err := frames.Allocate()
	if !err.Ok() {
		return nil, nil, err
	}
	m := &Mapping{root: g.Frame(), recSlot: recSlot, p2v: p2v, frames: frames}
	zeroFrame(p2v, g.Frame())
	tableAt(p2v, g.Frame())[recSlot] = mkPTE(g.Frame(), KernelRW)
	return m, g, errs.OK
}

func zeroFrame(p2v pmm.Phys2Virt, f pmm.Frame) {
	table := tableAt(p2v, f)
	for i := range table {
		table[i] = 0
	}
}

// tableAt views the 512-entry page table stored in frame f through
// the physical window.
func tableAt(p2v pmm.Phys2Virt, f pmm.Frame) *[512]pte {
	return (*[512]pte)(unsafe.Pointer(p2v.FrameVirt(f)))
}

// Root returns the physical frame holding the root table.
func (m *Mapping) Root() pmm.Frame { return m.root }

// RecursiveAddress returns the virtual address at which the table
// holding va's entry at the given level would be mapped through the
// recursive self-map entry — a diagnostic/documentation helper (e.g.
// for a backtrace that wants to show where a page fault's faulting
// PTE lives) rather than something this package dereferences itself.
func (m *Mapping) RecursiveAddress(va uintptr, level int) uintptr {
	idx3, idx2, idx1 := Offset(va, 3), Offset(va, 2), Offset(va, 1)
	depth := 3 - level
	tbl := tableAddr(m.recSlot, idx3, idx2, idx1, depth)
	idx := Offset(va, uint(level))
	return tbl + uintptr(idx)*8
}

// tableAddr computes the recursive-slot virtual address of the table
// that would be reached after `depth` real index components (depth in
// 0..3), given the full four-component address index3/2/1/0. depth==0
// yields the root table's own address; depth==3 yields the address of
// the innermost (level-0) page table, the one holding leaf PTEs.
func tableAddr(rec uint, idx3, idx2, idx1 uint, depth int) uintptr {
	comps := [4]uint{rec, rec, rec, rec}
	real := [3]uint{idx3, idx2, idx1}
	for i := 0; i < depth; i++ {
		comps[4-depth+i] = real[i]
	}
	return MakeAddr(comps[0], comps[1], comps[2], comps[3], 0)
}

// slotPtr returns a pointer to the PTE slot at `level` for va,
// descending physically from the root through each intermediate
// table. With allocate set, a missing intermediate table is given a
// fresh zeroed frame and its flags broadened to stay at least as
// permissive as `flags`; without it, a missing intermediate reports
// NoPage. A HUGE intermediate always stops the descent with
// InvalidArgument, since this walker only resolves 4 KiB leaves.
func (m *Mapping) slotPtr(va uintptr, level int, allocate bool, flags PTEFlags) (ptr *pte, stopLevel int, entry pte, err errs.Err_t) {
	frame := m.root
	for lvl := 3; lvl > level; lvl-- {
		tbl := tableAt(m.p2v, frame)
		idx := Offset(va, uint(lvl))
		e := &tbl[idx]
		switch {
		case !e.present():
			if !allocate {
				return nil, lvl, *e, errs.NoPage
			}
			g, aerr := m.frames.Allocate()
			if !aerr.Ok() {
				return nil, lvl, *e, aerr
			}
			zeroFrame(m.p2v, g.Frame())
			*e = mkPTE(g.Frame(), flags.Union(KernelRW))
		case e.huge():
			return nil, lvl, *e, errs.InvalidArgument
		case allocate:
			if broadened := e.flags().Union(flags); broadened != e.flags() {
				*e = mkPTE(e.frame(), broadened)
			}
		}
		frame = e.frame()
	}
	tbl := tableAt(m.p2v, frame)
	idx := Offset(va, uint(level))
	return &tbl[idx], level, tbl[idx], errs.OK
}
