// Package pmm is the physical frame allocator, adapted from biscuit's
// mem.Physmem_t (biscuit/src/mem/mem.go): a flat array
// of per-frame state with an intrusive free list, protected by a
// single lock, bootstrapped in two phases so the virtual memory
// subsystem can come up before the real frame-info table can be
// allocated.
package pmm

import (
	"corekernel/errs"
	"corekernel/ksync"
)

// PageShift is the base-2 exponent of the frame size.
const PageShift = 12

// PageSize is the size of one physical frame in bytes.
const PageSize = 1 << PageShift

// Frame identifies a physical frame by its absolute frame number
// (byte address >> PageShift).
type Frame uint64

// Addr returns the physical byte address of the frame.
func (f Frame) Addr() uintptr { return uintptr(f) << PageShift }

// FrameOf returns the frame containing the physical address pa.
func FrameOf(pa uintptr) Frame { return Frame(pa >> PageShift) }

type frameState uint8

const (
	stateAbsent frameState = iota
	stateFree
	stateUsed
)

type frameInfo struct {
	state  frameState
	refcnt int32
	// index of the next free frame in the intrusive free list, or
	// noNext if this is the list's tail. Only meaningful when
	// state == stateFree.
	next uint32
}

const noNext = ^uint32(0)

// FrameGuard is an owning handle on a frame: it decrements the
// frame's reference count exactly once, on Drop. Multiple guards may
// coexist for the same frame (shared ownership). The zero FrameGuard
// is not valid; use Allocator.Allocate or Allocator.Reference to
// obtain one.
type FrameGuard struct {
	frame   Frame
	owner   *Allocator
	dropped bool
}

// Frame returns the guarded frame.
func (g *FrameGuard) Frame() Frame { return g.frame }

// Drop releases this guard's ownership share, decrementing the
// frame's reference count. Drop is idempotent: dropping an
// already-dropped guard is a no-op, which lets callers defer Drop
// unconditionally.
func (g *FrameGuard) Drop() {
	if g == nil || g.dropped {
		return
	}
	g.dropped = true
	g.owner.deallocate(g.frame)
}

// Clone returns a new guard sharing ownership of the same frame,
// incrementing its reference count.
func (g *FrameGuard) Clone() *FrameGuard {
	return g.owner.reference(g.frame)
}

// Allocator is the physical frame allocator singleton's
// implementation type. The zero value is not usable; call Bootstrap
// first.
type Allocator struct {
	lock ksync.FastSpinlock

	frames []frameInfo
	// startFrame is the Frame number frames[0] describes, so frame
	// indices below it are always Absent.
	startFrame Frame

	freeHead uint32
	freeLen  uint32

	// accessBeyondFrameInfo is set when a caller references a frame
	// index beyond the current frames table; Resize panics if this
	// flag is set, since the corresponding reference count was
	// silently dropped on the floor.
	accessBeyondFrameInfo bool
}

func (a *Allocator) indexOf(f Frame) (uint32, bool) {
	if f < a.startFrame {
		return 0, false
	}
	idx := uint32(f - a.startFrame)
	if int(idx) >= len(a.frames) {
		return 0, false
	}
	return idx, true
}

// Bootstrap builds the allocator over a statically reserved range of
// n frames starting at `start`, all initially free. This is phase 1 of
// a two-phase init: it runs before the virtual memory subsystem can
// map arbitrary physical frames, using only a small, pre-reserved
// FrameInfo array.
func (a *Allocator) Bootstrap(start Frame, n int) {
	a.startFrame = start
	a.frames = make([]frameInfo, n)
	for i := range a.frames {
		a.frames[i] = frameInfo{state: stateFree, next: uint32(i + 1)}
	}
	if n > 0 {
		a.frames[n-1].next = noNext
	}
	a.freeHead = 0
	a.freeLen = uint32(n)
}

// Resize replaces the frame-info table with a full-sized one covering
// `total` frames starting at `start`, copying the bootstrap state for
// frames that are still described by the current table and applying
// `classify` to every frame beyond it — phase 2, initializing the tail
// from the memory map. Resize panics if any caller referenced a frame
// beyond the current table
// (accessBeyondFrameInfo), since that reference count was lost.
func (a *Allocator) Resize(start Frame, total int, classify func(Frame) (used bool)) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.accessBeyondFrameInfo {
		panic("pmm: resize after an out-of-range frame reference; a refcount was dropped")
	}

	next := make([]frameInfo, total)
	oldStart := a.startFrame
	oldLen := len(a.frames)

	for i := range next {
		f := start + Frame(i)
		if f >= oldStart && int(f-oldStart) < oldLen {
			next[i] = a.frames[f-oldStart]
			continue
		}
		if classify(f) {
			next[i] = frameInfo{state: stateUsed, refcnt: 1}
		} else {
			next[i] = frameInfo{state: stateFree}
		}
	}

	// Rebuild the free list from scratch; indices shifted because the
	// table's base frame and length both changed.
	head := noNext
	count := uint32(0)
	last := noNext
	for i := len(next) - 1; i >= 0; i-- {
		if next[i].state != stateFree {
			continue
		}
		next[i].next = head
		head = uint32(i)
		count++
		if last == noNext {
			last = uint32(i)
		}
	}

	a.frames = next
	a.startFrame = start
	a.freeHead = head
	a.freeLen = count
}

// FreeCount returns the number of currently free frames.
func (a *Allocator) FreeCount() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return int(a.freeLen)
}

// Allocate pops one frame off the free list and marks it Used with a
// reference count of 1.
func (a *Allocator) Allocate() (*FrameGuard, errs.Err_t) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.freeHead == noNext {
		return nil, errs.NoFrame
	}
	idx := a.freeHead
	fi := &a.frames[idx]
	a.freeHead = fi.next
	a.freeLen--
	fi.state = stateUsed
	fi.refcnt = 1
	return &FrameGuard{frame: a.startFrame + Frame(idx), owner: a}, errs.OK
}

func (a *Allocator) deallocate(f Frame) {
	a.lock.Lock()
	defer a.lock.Unlock()

	idx, ok := a.indexOf(f)
	if !ok {
		// Absent frames are silently ignored: idempotent no-op so
		// accidental release of reserved memory is harmless.
		return
	}
	fi := &a.frames[idx]
	switch fi.state {
	case stateFree:
		panic("pmm: deallocate of an already-free frame")
	case stateAbsent:
		return
	}
	fi.refcnt--
	if fi.refcnt > 0 {
		return
	}
	fi.state = stateFree
	fi.next = a.freeHead
	a.freeHead = idx
	a.freeLen++
}

// Reference increments the reference count of an already-Used frame
// and returns a new guard for it. It panics if the frame is Free (a
// caller cannot legitimately hold a reference to a free frame), and
// silently returns a no-op guard if the frame is Absent, tolerating
// references to memory outside the tracked range.
func (a *Allocator) Reference(f Frame) *FrameGuard {
	return a.reference(f)
}

func (a *Allocator) reference(f Frame) *FrameGuard {
	a.lock.Lock()
	defer a.lock.Unlock()

	idx, ok := a.indexOf(f)
	if !ok {
		a.accessBeyondFrameInfo = true
		return &FrameGuard{frame: f, owner: a, dropped: true}
	}
	fi := &a.frames[idx]
	switch fi.state {
	case stateFree:
		panic("pmm: reference to a free frame")
	case stateAbsent:
		return &FrameGuard{frame: f, owner: a, dropped: true}
	}
	fi.refcnt++
	return &FrameGuard{frame: f, owner: a}
}

// ReferenceCount reports the current reference count of f: NoFrame
// error for an Absent frame, 0 for Free, the live count otherwise.
func (a *Allocator) ReferenceCount(f Frame) (int, errs.Err_t) {
	a.lock.Lock()
	defer a.lock.Unlock()

	idx, ok := a.indexOf(f)
	if !ok {
		return 0, errs.NoFrame
	}
	fi := &a.frames[idx]
	if fi.state == stateFree {
		return 0, errs.OK
	}
	return int(fi.refcnt), errs.OK
}

// MarkAbsent marks the range of n frames starting at f as outside
// usable physical memory (reserved, MMIO, or otherwise never to be
// allocated). Used by Resize's classify callback and by callers
// reserving early boot ranges.
func (a *Allocator) MarkAbsent(f Frame, n int) {
	a.lock.Lock()
	defer a.lock.Unlock()
	for i := 0; i < n; i++ {
		idx, ok := a.indexOf(f + Frame(i))
		if !ok {
			continue
		}
		a.frames[idx] = frameInfo{state: stateAbsent}
	}
}

// Stats reports free/used/absent frame counts, for corekernel/diag's
// fragmentation report.
type Stats struct {
	Free, Used, Absent int
}

// Stats returns a snapshot of frame accounting.
func (a *Allocator) Stats() Stats {
	a.lock.Lock()
	defer a.lock.Unlock()
	var s Stats
	for i := range a.frames {
		switch a.frames[i].state {
		case stateFree:
			s.Free++
		case stateUsed:
			s.Used++
		case stateAbsent:
			s.Absent++
		}
	}
	return s
}
