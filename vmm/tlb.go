package vmm

// TLBInvalidator abstracts invalidating a single translation, the
// `invlpg`-equivalent step after a PTE is changed under it. Real
// invalidation is a local-CPU instruction with no multi-CPU shootdown
// here: every AddressSpace in this module is used by at most one CPU
// at a time, so a remote IPI-based shootdown protocol has nothing to
// coordinate.
type TLBInvalidator interface {
	Invalidate(va uintptr)
}

// NopTLB is the host-side TLBInvalidator: there is no TLB to
// invalidate outside a booted kernel.
type NopTLB struct{}

func (NopTLB) Invalidate(uintptr) {}

// TLB is the process-wide translation invalidator. Kernel boot code
// installs the real invlpg-backed implementation; it defaults to
// NopTLB.
var TLB TLBInvalidator = NopTLB{}

// InvalidatePage invalidates any cached translation for va on the
// current CPU.
func InvalidatePage(va uintptr) {
	TLB.Invalidate(va)
}
