package vmm

import "corekernel/pmm"

// pte is the raw 64-bit value of one page-table slot, with the same
// flag layout biscuit uses for its Pa_t-typed page table entries
// (biscuit/src/mem/mem.go: PTE_P, PTE_W, PTE_U, ...), extended with
// ACCESSED/DIRTY/HUGE/NO_EXECUTE bits.
type pte uint64

const (
	ptePresent   pte = 1 << 0
	pteWritable  pte = 1 << 1
	pteUser      pte = 1 << 2
	pteAccessed  pte = 1 << 5
	pteDirty     pte = 1 << 6
	pteHuge      pte = 1 << 7
	pteNoExecute pte = 1 << 63

	pteFlagsMask pte = ptePresent | pteWritable | pteUser | pteAccessed |
		pteDirty | pteHuge | pteNoExecute
	pteAddrMask pte = ^pteFlagsMask &^ (1 << 63)
)

func (e pte) present() bool  { return e&ptePresent != 0 }
func (e pte) writable() bool { return e&pteWritable != 0 }
func (e pte) user() bool     { return e&pteUser != 0 }
func (e pte) huge() bool     { return e&pteHuge != 0 }
func (e pte) dirty() bool    { return e&pteDirty != 0 }

func (e pte) frame() pmm.Frame {
	return pmm.FrameOf(uintptr(e & pteAddrMask))
}

func (e pte) flags() PTEFlags {
	return PTEFlags(e & pteFlagsMask)
}

func mkPTE(f pmm.Frame, flags PTEFlags) pte {
	return pte(f.Addr())&pteAddrMask | pte(flags)&pteFlagsMask
}

// PTEFlags is the public flag set exposed on MappedBlock and passed to
// Map/reserve operations.
type PTEFlags uint64

const (
	Present   PTEFlags = PTEFlags(ptePresent)
	Writable  PTEFlags = PTEFlags(pteWritable)
	User      PTEFlags = PTEFlags(pteUser)
	Accessed  PTEFlags = PTEFlags(pteAccessed)
	Dirty     PTEFlags = PTEFlags(pteDirty)
	Huge      PTEFlags = PTEFlags(pteHuge)
	NoExecute PTEFlags = PTEFlags(pteNoExecute)

	// KernelRW is the common case of a present, writable, supervisor
	// mapping.
	KernelRW PTEFlags = Present | Writable
	// UserRW is a present, writable, user-accessible mapping.
	UserRW PTEFlags = Present | Writable | User
	// UserRO is a present, read-only, user-accessible mapping.
	UserRO PTEFlags = Present | User
)

// Has reports whether every bit in mask is set.
func (f PTEFlags) Has(mask PTEFlags) bool { return f&mask == mask }

// Union returns f broadened by other, never narrowing — intermediate
// page-table entries must stay at least as permissive as any leaf
// mapped beneath them.
func (f PTEFlags) Union(other PTEFlags) PTEFlags { return f | other }

// Clear returns f with every bit in mask cleared, e.g. dropping Dirty
// after a block cache flush writes a dirty page back to disk.
func (f PTEFlags) Clear(mask PTEFlags) PTEFlags { return f &^ mask }
