package vmm

import (
	"corekernel/errs"
	"corekernel/ksync"
)

// PageAllocator hands out unused virtual pages within one address
// space's user or kernel half. It scans its pool once at construction
// for the longest run of pages nothing already occupies, carves a
// fixed number of guard pages off the low end of that run (left
// permanently unmapped, to turn a stack overrun into a page fault
// instead of silent corruption), and then serves requests as a
// forward bump allocator over what remains — adapted from biscuit's
// Vmregion_t scan in biscuit/src/vm/vmregion.go, simplified from an
// interval tree to a single bump cursor since this allocator only
// ever grows.
type PageAllocator struct {
	lock ksync.FastSpinlock

	pool  Block[Page]
	guard Block[Page]
	next  Page
}

// occupied reports whether any page in [start,end) is already in use,
// per a caller-supplied predicate (typically "does the Mapping have a
// present PTE here").
type occupiedFunc func(Page) bool

// NewPageAllocator scans pool for the longest run of pages for which
// occupied returns false, reserves guardPages at its low end, and
// returns an allocator bump-serving the rest. It fails with NoPage if
// no run at least guardPages+1 long exists.
func NewPageAllocator(pool Block[Page], guardPages int, occupied occupiedFunc) (*PageAllocator, errs.Err_t) {
	bestStart, bestLen := pool.Start, uint64(0)
	runStart, runLen := pool.Start, uint64(0)
	for p := pool.Start; p < pool.End; p++ {
		if occupied(p) {
			runStart, runLen = p+1, 0
			continue
		}
		runLen++
		if runLen > bestLen {
			bestStart, bestLen = runStart, runLen
		}
	}
	if bestLen <= uint64(guardPages) {
		return nil, errs.NoPage
	}
	run := MkBlock(bestStart, bestStart+Page(bestLen))
	guard := run.Slice(0, uint64(guardPages))
	return &PageAllocator{
		pool:  run,
		guard: guard,
		next:  run.Start + Page(guardPages),
	}, errs.OK
}

// Guard returns the unmapped guard region at the low end of the pool.
func (a *PageAllocator) Guard() Block[Page] { return a.guard }

// Reserve bump-allocates a run of n contiguous pages and returns it.
// It fails with NoPage once the pool is exhausted.
func (a *PageAllocator) Reserve(n uint64) (Block[Page], errs.Err_t) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if uint64(a.pool.End-a.next) < n {
		return Block[Page]{}, errs.NoPage
	}
	b := MkBlock(a.next, a.next+Page(n))
	a.next += Page(n)
	return b, errs.OK
}

// Remaining returns the number of pages still available to Reserve.
func (a *PageAllocator) Remaining() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return uint64(a.pool.End - a.next)
}

// fastForwardTo advances the bump cursor to at least `to`, used when
// duplicating an address space so the copy's allocator starts past
// every page the original already handed out.
func (a *PageAllocator) fastForwardTo(to Page) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if to > a.next {
		a.next = to
	}
}

// Cursor returns the current bump position, i.e. one past the last
// page ever reserved.
func (a *PageAllocator) Cursor() Page {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.next
}

// Base returns the first page in the allocator's usable pool (after
// guard pages).
func (a *PageAllocator) Base() Page { return a.pool.Start }

