package heap

import "corekernel/errs"

// Clip is a per-CPU (or per-thread) cache of up to ClipSize free
// pointers for one size class, bound to the FixedSizeAllocator it
// draws from and returns to. A goroutine's allocate path tries its
// own Clip first; on empty it refills from the bound allocator in
// bulk via fillClip. Deallocate pushes back onto the Clip; on full it
// spills half back via unfillClip. Dropping a Clip returns everything
// it still holds to its bound allocator, matching the invariant a
// FixedSizeAllocator's own Drop depends on.
type Clip struct {
	owner *FixedSizeAllocator
	ptrs  []uintptr
}

// NewClip returns an empty Clip bound to owner.
func NewClip(owner *FixedSizeAllocator) *Clip {
	return &Clip{owner: owner, ptrs: make([]uintptr, 0, ClipSize)}
}

// Allocate returns a pointer from the clip's own cache, refilling
// half a clip's worth from the bound allocator first if empty.
func (c *Clip) Allocate() (uintptr, errs.Err_t) {
	if len(c.ptrs) == 0 {
		if err := c.owner.fillClip(c, ClipSize/2); !err.Ok() {
			return 0, err
		}
	}
	if len(c.ptrs) == 0 {
		return 0, errs.NoPage
	}
	last := len(c.ptrs) - 1
	ptr := c.ptrs[last]
	c.ptrs = c.ptrs[:last]
	return ptr, errs.OK
}

// Deallocate pushes ptr onto the clip, spilling half of it back to
// the bound allocator first if the clip is already full.
func (c *Clip) Deallocate(ptr uintptr) {
	if len(c.ptrs) == ClipSize {
		c.owner.unfillClip(c, ClipSize/2)
	}
	c.ptrs = append(c.ptrs, ptr)
}

// Len reports how many pointers the clip currently holds.
func (c *Clip) Len() int { return len(c.ptrs) }

// Drop returns every pointer the clip still holds to its bound
// allocator, leaving the clip empty.
func (c *Clip) Drop() {
	if len(c.ptrs) == 0 {
		return
	}
	c.owner.unfillClip(c, len(c.ptrs))
}

// ClipSet holds one Clip per CPU for a single size class, indexed by
// CPU id — the array-indexed-by-CPU-id fallback for runtimes without
// real thread-locals, rather than a map keyed by goroutine identity
// (which Go doesn't expose) or a sync.Pool (which drops entries under
// GC pressure instead of under this allocator's own control).
type ClipSet struct {
	owner *FixedSizeAllocator
	clips []*Clip
}

// NewClipSet returns a ClipSet with one Clip per CPU, 0..ncpu-1.
func NewClipSet(owner *FixedSizeAllocator, ncpu int) *ClipSet {
	cs := &ClipSet{owner: owner, clips: make([]*Clip, ncpu)}
	for i := range cs.clips {
		cs.clips[i] = NewClip(owner)
	}
	return cs
}

// For returns the Clip belonging to the given CPU id.
func (cs *ClipSet) For(cpu int) *Clip { return cs.clips[cpu] }

// DropAll returns every CPU's cached pointers to the owning allocator,
// the step required before the owning FixedSizeAllocator can Drop.
func (cs *ClipSet) DropAll() {
	for _, c := range cs.clips {
		c.Drop()
	}
}
