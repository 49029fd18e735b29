package vmm

import (
	"testing"
	"unsafe"

	"corekernel/errs"
	"corekernel/pmm"
)

// testEnv holds every piece a test needs kept alive together: the
// arena backs every physical frame in this test's Allocator, and the
// struct keeps it reachable for as long as the AddressSpace built on
// top of it is in use.
type testEnv struct {
	arena   []byte
	frames  *pmm.Allocator
	p2v     pmm.Phys2Virt
	mapping *Mapping
	root    *pmm.FrameGuard
	as      *AddressSpace
}

const testRecSlot = 256

func mkTestEnv(t *testing.T, nFrames int, split Page, userPool, kernPool Block[Page]) *testEnv {
	t.Helper()
	arena := make([]byte, nFrames*PageSize)
	base := uintptr(unsafe.Pointer(&arena[0]))
	p2v := pmm.MkPhys2Virt(base, uintptr(nFrames*PageSize))

	frames := &pmm.Allocator{}
	frames.Bootstrap(pmm.Frame(0), nFrames)

	mapping, root, err := NewMapping(frames, p2v, testRecSlot)
	if !err.Ok() {
		t.Fatalf("NewMapping: %v", err)
	}

	user, err := NewPageAllocator(userPool, 0, func(Page) bool { return false })
	if !err.Ok() {
		t.Fatalf("NewPageAllocator(user): %v", err)
	}
	kern, err := NewPageAllocator(kernPool, 0, func(Page) bool { return false })
	if !err.Ok() {
		t.Fatalf("NewPageAllocator(kern): %v", err)
	}

	as := NewAddressSpace(mapping, frames, p2v, split, user, kern)
	return &testEnv{arena: arena, frames: frames, p2v: p2v, mapping: mapping, root: root, as: as}
}

func mkSmallEnv(t *testing.T) *testEnv {
	return mkTestEnv(t, 64, Page(100),
		MkBlock(Page(0), Page(50)),
		MkBlock(Page(200), Page(250)))
}

func TestOffsetMakeAddrRoundTrip(t *testing.T) {
	va := MakeAddr(17, 511, 3, 200, 0xab)
	if got := Offset(va, 3); got != 17 {
		t.Fatalf("level 3 offset = %d, want 17", got)
	}
	if got := Offset(va, 2); got != 511 {
		t.Fatalf("level 2 offset = %d, want 511", got)
	}
	if got := Offset(va, 1); got != 3 {
		t.Fatalf("level 1 offset = %d, want 3", got)
	}
	if got := Offset(va, 0); got != 200 {
		t.Fatalf("level 0 offset = %d, want 200", got)
	}
	if got := va & (PageSize - 1); got != 0xab {
		t.Fatalf("page offset = %#x, want 0xab", got)
	}
}

func TestMapWalkUnmapRoundTrip(t *testing.T) {
	env := mkSmallEnv(t)
	g, err := env.frames.Allocate()
	if !err.Ok() {
		t.Fatal(err)
	}
	va := Page(210).Addr()

	if err := env.mapping.Map(va, g.Frame(), KernelRW); !err.Ok() {
		t.Fatalf("Map: %v", err)
	}
	f, flags, err := env.mapping.Walk(va).Get()
	if !err.Ok() {
		t.Fatalf("Get after Map: %v", err)
	}
	if f != g.Frame() {
		t.Fatalf("Get returned frame %v, want %v", f, g.Frame())
	}
	if !flags.Has(KernelRW) {
		t.Fatalf("Get returned flags %v, want KernelRW set", flags)
	}

	// Remapping an already-present page overwrites the leaf PTE rather
	// than failing: a different frame drops the old one's guard, and
	// flags are unioned onto the new entry.
	g2, err := env.frames.Allocate()
	if !err.Ok() {
		t.Fatal(err)
	}
	if err := env.mapping.Map(va, g2.Frame(), UserRW); !err.Ok() {
		t.Fatalf("re-Map: %v", err)
	}
	f2, flags2, err := env.mapping.Walk(va).Get()
	if !err.Ok() {
		t.Fatalf("Get after re-Map: %v", err)
	}
	if f2 != g2.Frame() {
		t.Fatalf("Get after re-Map returned frame %v, want %v", f2, g2.Frame())
	}
	if !flags2.Has(KernelRW) || !flags2.Has(UserRW) {
		t.Fatalf("Get after re-Map returned flags %v, want union of KernelRW and UserRW", flags2)
	}
	if n, err := env.frames.ReferenceCount(g.Frame()); !err.Ok() || n != 0 {
		t.Fatalf("old frame reference count = %d, %v, want 0", n, err)
	}

	freed, err := env.mapping.Unmap(va)
	if !err.Ok() {
		t.Fatalf("Unmap: %v", err)
	}
	if freed != g2.Frame() {
		t.Fatalf("Unmap returned frame %v, want %v", freed, g2.Frame())
	}
	if _, _, err := env.mapping.Walk(va).Get(); err != errs.NoPage {
		t.Fatalf("Get after Unmap: want NoPage, got %v", err)
	}
}

func TestAddressSpaceUserKernelSplitEnforced(t *testing.T) {
	env := mkSmallEnv(t)
	g, err := env.frames.Allocate()
	if !err.Ok() {
		t.Fatal(err)
	}
	// page 210 lies in the kernel half (>= split 100); mapping it with
	// the User flag must be rejected.
	if err := env.as.MapPageToFrame(Page(210), g.Frame(), UserRW); err != errs.PermissionDenied {
		t.Fatalf("expected PermissionDenied mapping a kernel-half page as User, got %v", err)
	}
	// page 10 lies in the user half; mapping it without User must also
	// be rejected.
	if err := env.as.MapPageToFrame(Page(10), g.Frame(), KernelRW); err != errs.PermissionDenied {
		t.Fatalf("expected PermissionDenied mapping a user-half page as kernel-only, got %v", err)
	}
}

func TestMapSliceZeroedRoundTrip(t *testing.T) {
	env := mkSmallEnv(t)
	b, err := env.as.MapSliceZeroed(3*PageSize, KernelRW)
	if !err.Ok() {
		t.Fatalf("MapSliceZeroed: %v", err)
	}
	if b.Len() != 3 {
		t.Fatalf("expected 3 pages, got %d", b.Len())
	}
	for p := b.Start; p < b.End; p++ {
		f, flags, err := env.as.mapping.Walk(p.Addr()).Get()
		if !err.Ok() {
			t.Fatalf("page %d not mapped: %v", p, err)
		}
		if !flags.Has(KernelRW) {
			t.Fatalf("page %d missing KernelRW flags", p)
		}
		data := unsafeSlice(env.p2v.FrameVirt(f), PageSize)
		for i, bb := range data {
			if bb != 0 {
				t.Fatalf("page %d byte %d not zeroed: %d", p, i, bb)
			}
		}
	}
	env.as.UnmapBlock(b)
	for p := b.Start; p < b.End; p++ {
		if _, _, err := env.as.mapping.Walk(p.Addr()).Get(); err != errs.NoPage {
			t.Fatalf("page %d still mapped after UnmapBlock", p)
		}
	}
}

func TestDuplicateSharesFrameReferenceCounts(t *testing.T) {
	env := mkSmallEnv(t)
	b, err := env.as.MapSliceZeroed(PageSize, KernelRW)
	if !err.Ok() {
		t.Fatal(err)
	}
	f, _, err := env.as.mapping.Walk(b.Start.Addr()).Get()
	if !err.Ok() {
		t.Fatal(err)
	}
	if cnt, _ := env.frames.ReferenceCount(f); cnt != 1 {
		t.Fatalf("expected refcount 1 before duplicate, got %d", cnt)
	}

	dstMapping, dstRoot, err := NewMapping(env.frames, env.p2v, testRecSlot)
	if !err.Ok() {
		t.Fatal(err)
	}
	dstUser, err := NewPageAllocator(MkBlock(Page(0), Page(50)), 0, func(Page) bool { return false })
	if !err.Ok() {
		t.Fatal(err)
	}
	dstKern, err := NewPageAllocator(MkBlock(Page(200), Page(250)), 0, func(Page) bool { return false })
	if !err.Ok() {
		t.Fatal(err)
	}
	dst := NewAddressSpace(dstMapping, env.frames, env.p2v, Page(100), dstUser, dstKern)
	defer dstRoot.Drop()

	if err := env.as.Duplicate(dst); !err.Ok() {
		t.Fatalf("Duplicate: %v", err)
	}
	if cnt, _ := env.frames.ReferenceCount(f); cnt != 2 {
		t.Fatalf("expected refcount 2 after duplicate, got %d", cnt)
	}
	f2, _, err := dst.mapping.Walk(b.Start.Addr()).Get()
	if !err.Ok() || f2 != f {
		t.Fatalf("duplicated mapping points at %v (err %v), want %v", f2, err, f)
	}

	dst.UnmapBlock(b)
	if cnt, _ := env.frames.ReferenceCount(f); cnt != 1 {
		t.Fatalf("expected refcount 1 after dropping the duplicate, got %d", cnt)
	}
}

func TestDuplicateCopiesNoUserHalfMappings(t *testing.T) {
	env := mkSmallEnv(t)
	ub, err := env.as.MapSliceZeroed(PageSize, UserRW)
	if !err.Ok() {
		t.Fatal(err)
	}

	dstMapping, dstRoot, err := NewMapping(env.frames, env.p2v, testRecSlot)
	if !err.Ok() {
		t.Fatal(err)
	}
	defer dstRoot.Drop()
	dstUser, err := NewPageAllocator(MkBlock(Page(0), Page(50)), 0, func(Page) bool { return false })
	if !err.Ok() {
		t.Fatal(err)
	}
	dstKern, err := NewPageAllocator(MkBlock(Page(200), Page(250)), 0, func(Page) bool { return false })
	if !err.Ok() {
		t.Fatal(err)
	}
	dst := NewAddressSpace(dstMapping, env.frames, env.p2v, Page(100), dstUser, dstKern)

	if err := env.as.Duplicate(dst); !err.Ok() {
		t.Fatalf("Duplicate: %v", err)
	}
	if _, _, err := dst.mapping.Walk(ub.Start.Addr()).Get(); err != errs.NoPage {
		t.Fatalf("Duplicate copied a user-half mapping: got err %v, want NoPage", err)
	}
	// dst's user allocator must still be rewound to match env.as's
	// cursor so it cannot later hand out a page env.as already owns.
	if dst.user.Cursor() != env.as.user.Cursor() {
		t.Fatalf("dst user cursor = %v, want %v", dst.user.Cursor(), env.as.user.Cursor())
	}
}

func TestBigPairShareBlockAcrossAddressSpaces(t *testing.T) {
	env := mkSmallEnv(t)
	dstMapping, dstRoot, err := NewMapping(env.frames, env.p2v, testRecSlot)
	if !err.Ok() {
		t.Fatal(err)
	}
	defer dstRoot.Drop()
	dstUser, _ := NewPageAllocator(MkBlock(Page(0), Page(50)), 0, func(Page) bool { return false })
	dstKern, _ := NewPageAllocator(MkBlock(Page(200), Page(250)), 0, func(Page) bool { return false })
	dst := NewAddressSpace(dstMapping, env.frames, env.p2v, Page(100), dstUser, dstKern)

	pair := MkBigPairAcross(env.as, dst)
	if pair.Same() {
		t.Fatal("expected distinct address spaces to report Same() == false")
	}
	b, err := pair.ShareBlock(2, KernelRW)
	if !err.Ok() {
		t.Fatalf("ShareBlock: %v", err)
	}
	f1, _, err := env.as.mapping.Walk(b.Start.Addr()).Get()
	if !err.Ok() {
		t.Fatal(err)
	}
	f2, _, err := dst.mapping.Walk(b.Start.Addr()).Get()
	if !err.Ok() {
		t.Fatal(err)
	}
	if f1 != f2 {
		t.Fatalf("ShareBlock mapped different frames: %v vs %v", f1, f2)
	}
	if cnt, _ := env.frames.ReferenceCount(f1); cnt != 2 {
		t.Fatalf("expected refcount 2 for a shared frame, got %d", cnt)
	}
}

func TestCopyMappingSameAddressSpaceRemapsFlags(t *testing.T) {
	env := mkSmallEnv(t)
	src := NewBigAllocator(env.as, KernelRW)
	if err := src.Reserve(1); !err.Ok() {
		t.Fatal(err)
	}
	if err := src.Map(); !err.Ok() {
		t.Fatal(err)
	}
	f, _, err := env.as.mapping.Walk(src.Block().Start.Addr()).Get()
	if !err.Ok() {
		t.Fatal(err)
	}

	dst := NewBigAllocator(env.as, KernelRW)
	if err := dst.ReserveFixed(src.Block()); !err.Ok() {
		t.Fatal(err)
	}
	newFlags := Present
	if err := src.CopyMapping(dst, &newFlags); !err.Ok() {
		t.Fatalf("CopyMapping remap: %v", err)
	}
	f2, flags2, err := env.as.mapping.Walk(src.Block().Start.Addr()).Get()
	if !err.Ok() {
		t.Fatal(err)
	}
	if f2 != f {
		t.Fatalf("remap changed frame: got %v, want %v", f2, f)
	}
	if flags2 != Present {
		t.Fatalf("remap flags = %v, want %v", flags2, Present)
	}
	if cnt, _ := env.frames.ReferenceCount(f); cnt != 1 {
		t.Fatalf("remap changed reference count: got %d, want 1", cnt)
	}
}

func TestCopyMappingSameAddressSpaceNilFlagsIsNoOp(t *testing.T) {
	env := mkSmallEnv(t)
	src := NewBigAllocator(env.as, KernelRW)
	if err := src.Reserve(1); !err.Ok() {
		t.Fatal(err)
	}
	if err := src.Map(); !err.Ok() {
		t.Fatal(err)
	}
	dst := NewBigAllocator(env.as, KernelRW)
	if err := dst.ReserveFixed(src.Block()); !err.Ok() {
		t.Fatal(err)
	}
	if err := src.CopyMapping(dst, nil); !err.Ok() {
		t.Fatalf("CopyMapping no-op: %v", err)
	}
}

func TestCopyMappingSameAddressSpaceOverlapRejected(t *testing.T) {
	env := mkSmallEnv(t)
	src := NewBigAllocator(env.as, KernelRW)
	if err := src.Reserve(3); !err.Ok() {
		t.Fatal(err)
	}
	if err := src.Map(); !err.Ok() {
		t.Fatal(err)
	}
	dst := NewBigAllocator(env.as, KernelRW)
	overlap := MkBlock(src.Block().Start+1, src.Block().Start+4)
	if err := dst.ReserveFixed(overlap); !err.Ok() {
		t.Fatal(err)
	}
	newFlags := Present
	if err := src.CopyMapping(dst, &newFlags); err != errs.InvalidArgument {
		t.Fatalf("CopyMapping over a partial overlap: want InvalidArgument, got %v", err)
	}
}

func TestCopyMappingAcrossSpacesUnmapsOnAbsentSource(t *testing.T) {
	env := mkSmallEnv(t)
	src := NewBigAllocator(env.as, KernelRW)
	if err := src.Reserve(2); !err.Ok() {
		t.Fatal(err)
	}
	if err := src.Map(); !err.Ok() {
		t.Fatal(err)
	}
	// Leave the second page unmapped so its source PTE is absent.
	env.as.UnmapBlock(MkBlock(src.Block().Start+1, src.Block().End))

	dstMapping, dstRoot, err := NewMapping(env.frames, env.p2v, testRecSlot)
	if !err.Ok() {
		t.Fatal(err)
	}
	defer dstRoot.Drop()
	dstUser, _ := NewPageAllocator(MkBlock(Page(0), Page(50)), 0, func(Page) bool { return false })
	dstKern, _ := NewPageAllocator(MkBlock(Page(200), Page(250)), 0, func(Page) bool { return false })
	dstAS := NewAddressSpace(dstMapping, env.frames, env.p2v, Page(100), dstUser, dstKern)
	dst := NewBigAllocator(dstAS, KernelRW)
	if err := dst.ReserveFixed(src.Block()); !err.Ok() {
		t.Fatal(err)
	}
	// Pre-map the destination's second page so there is something for
	// CopyMapping to tear down when it finds the source page absent.
	g, err := env.frames.Allocate()
	if !err.Ok() {
		t.Fatal(err)
	}
	secondPage := src.Block().Start + 1
	if err := dstAS.MapPageToFrame(secondPage, g.Frame(), KernelRW); !err.Ok() {
		t.Fatal(err)
	}

	if err := src.CopyMapping(dst, nil); !err.Ok() {
		t.Fatalf("CopyMapping: %v", err)
	}
	if _, _, err := dstMapping.Walk(secondPage.Addr()).Get(); err != errs.NoPage {
		t.Fatalf("destination page for an absent source: want NoPage, got %v", err)
	}
	if cnt, _ := env.frames.ReferenceCount(g.Frame()); cnt != 0 {
		t.Fatalf("destination frame reference count after unmap = %d, want 0", cnt)
	}
}

func TestPageAllocatorCarvesGuardPages(t *testing.T) {
	pool := MkBlock(Page(1000), Page(1010))
	alloc, err := NewPageAllocator(pool, 3, func(Page) bool { return false })
	if !err.Ok() {
		t.Fatalf("NewPageAllocator: %v", err)
	}
	guard := alloc.Guard()
	if guard.Start != Page(1000) || guard.End != Page(1003) {
		t.Fatalf("unexpected guard range %+v", guard)
	}
	b, err := alloc.Reserve(2)
	if !err.Ok() {
		t.Fatalf("Reserve: %v", err)
	}
	if b.Start < guard.End {
		t.Fatalf("Reserve handed out a page inside the guard region: %+v", b)
	}
}

func TestPageAllocatorSkipsOccupiedRuns(t *testing.T) {
	pool := MkBlock(Page(0), Page(20))
	occupied := map[Page]bool{5: true, 6: true, 7: true}
	alloc, err := NewPageAllocator(pool, 0, func(p Page) bool { return occupied[p] })
	if !err.Ok() {
		t.Fatalf("NewPageAllocator: %v", err)
	}
	// the longest free run is [8,20), 12 pages long, longer than [0,5).
	if alloc.Base() != Page(8) {
		t.Fatalf("expected allocator to pick the run starting at page 8, got %d", alloc.Base())
	}
}
