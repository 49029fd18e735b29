package blockcache

import (
	"testing"
	"unsafe"

	"corekernel/disk"
	"corekernel/errs"
	"corekernel/pmm"
	"corekernel/vmm"
)

// memDisk is an in-memory disk.Disk for tests that don't need a real
// backing file, tracking which sectors have been written for
// ReadSector-before-WriteSector tests.
type memDisk struct {
	sectors [][disk.SectorSize]byte
}

func newMemDisk(n int) *memDisk {
	return &memDisk{sectors: make([][disk.SectorSize]byte, n)}
}

func (d *memDisk) ReadSector(lba uint32, into []byte) errs.Err_t {
	if len(into) != disk.SectorSize || int(lba) >= len(d.sectors) {
		return errs.InvalidArgument
	}
	copy(into, d.sectors[lba][:])
	return errs.OK
}

func (d *memDisk) WriteSector(lba uint32, data []byte) errs.Err_t {
	if len(data) != disk.SectorSize || int(lba) >= len(d.sectors) {
		return errs.InvalidArgument
	}
	copy(d.sectors[lba][:], data)
	return errs.OK
}

func (d *memDisk) Flush() errs.Err_t { return errs.OK }

func (d *memDisk) MaxSector() (uint32, errs.Err_t) { return uint32(len(d.sectors)), errs.OK }

type testEnv struct {
	arena []byte
	as    *vmm.AddressSpace
}

func mkTestEnv(t *testing.T, nFrames int) *testEnv {
	t.Helper()
	arena := make([]byte, nFrames*vmm.PageSize)
	base := uintptr(unsafe.Pointer(&arena[0]))
	p2v := pmm.MkPhys2Virt(base, uintptr(nFrames*vmm.PageSize))

	frames := &pmm.Allocator{}
	frames.Bootstrap(pmm.Frame(0), nFrames)

	mapping, _, err := vmm.NewMapping(frames, p2v, 256)
	if !err.Ok() {
		t.Fatalf("NewMapping: %v", err)
	}
	user, err := vmm.NewPageAllocator(vmm.MkBlock(vmm.Page(0), vmm.Page(10)), 0, func(vmm.Page) bool { return false })
	if !err.Ok() {
		t.Fatalf("NewPageAllocator user: %v", err)
	}
	kern, err := vmm.NewPageAllocator(vmm.MkBlock(vmm.Page(50), vmm.Page(250)), 0, func(vmm.Page) bool { return false })
	if !err.Ok() {
		t.Fatalf("NewPageAllocator kern: %v", err)
	}
	as := vmm.NewAddressSpace(mapping, frames, p2v, vmm.Page(50), user, kern)
	return &testEnv{arena: arena, as: as}
}

const sectorsPerTestBlock = BlockSize / disk.SectorSize

func TestAccessFaultsInBlockFromDisk(t *testing.T) {
	env := mkTestEnv(t, 64)
	d := newMemDisk(8 * sectorsPerTestBlock)
	var want [disk.SectorSize]byte
	for i := range want {
		want[i] = 0x42
	}
	if err := d.WriteSector(uint32(3*sectorsPerTestBlock), want[:]); !err.Ok() {
		t.Fatal(err)
	}

	c, err := New(env.as, d, 8, 4)
	if !err.Ok() {
		t.Fatalf("New: %v", err)
	}
	ptr, err := c.Access(3)
	if !err.Ok() {
		t.Fatalf("Access: %v", err)
	}
	data := unsafeSlice(ptr, disk.SectorSize)
	if data[0] != 0x42 {
		t.Fatalf("Access(3) first byte = %#x, want 0x42", data[0])
	}
	if !c.Resident(3) {
		t.Fatal("block 3 not resident after Access")
	}
}

func TestAccessOutOfRange(t *testing.T) {
	env := mkTestEnv(t, 64)
	d := newMemDisk(4 * sectorsPerTestBlock)
	c, err := New(env.as, d, 4, 2)
	if !err.Ok() {
		t.Fatal(err)
	}
	if _, err := c.Access(4); err != errs.InvalidArgument {
		t.Fatalf("Access out of range: want InvalidArgument, got %v", err)
	}
}

func TestMarkDirtyThenFlushWritesBack(t *testing.T) {
	env := mkTestEnv(t, 64)
	d := newMemDisk(4 * sectorsPerTestBlock)
	c, err := New(env.as, d, 4, 2)
	if !err.Ok() {
		t.Fatal(err)
	}
	ptr, err := c.Access(1)
	if !err.Ok() {
		t.Fatal(err)
	}
	data := unsafeSlice(ptr, BlockSize)
	for i := range data {
		data[i] = byte(i)
	}
	if err := c.MarkDirty(1); !err.Ok() {
		t.Fatalf("MarkDirty: %v", err)
	}
	if err := c.Flush(); !err.Ok() {
		t.Fatalf("Flush: %v", err)
	}

	var got [disk.SectorSize]byte
	if err := d.ReadSector(uint32(1*sectorsPerTestBlock), got[:]); !err.Ok() {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("disk sector byte %d = %d, want %d after Flush", i, got[i], byte(i))
		}
	}
}

func TestEvictionFlushesDirtyBlockFirst(t *testing.T) {
	env := mkTestEnv(t, 64)
	d := newMemDisk(4 * sectorsPerTestBlock)
	c, err := New(env.as, d, 4, 1)
	if !err.Ok() {
		t.Fatal(err)
	}
	ptr, err := c.Access(0)
	if !err.Ok() {
		t.Fatal(err)
	}
	data := unsafeSlice(ptr, BlockSize)
	data[0] = 0x55
	if err := c.MarkDirty(0); !err.Ok() {
		t.Fatal(err)
	}

	// capacity is 1, so accessing a second block must evict block 0,
	// flushing its dirty content back to disk first.
	if _, err := c.Access(1); !err.Ok() {
		t.Fatalf("Access(1): %v", err)
	}
	if c.Resident(0) {
		t.Fatal("block 0 still resident after an eviction-triggering access")
	}

	var got [disk.SectorSize]byte
	if err := d.ReadSector(0, got[:]); !err.Ok() {
		t.Fatal(err)
	}
	if got[0] != 0x55 {
		t.Fatalf("evicted dirty block was not flushed: byte 0 = %#x, want 0x55", got[0])
	}
}

func TestCleanEvictionDoesNotTouchDisk(t *testing.T) {
	env := mkTestEnv(t, 64)
	d := newMemDisk(4 * sectorsPerTestBlock)
	c, err := New(env.as, d, 4, 1)
	if !err.Ok() {
		t.Fatal(err)
	}
	if _, err := c.Access(0); !err.Ok() {
		t.Fatal(err)
	}
	if _, err := c.Access(1); !err.Ok() {
		t.Fatalf("Access(1): %v", err)
	}
	if c.stats.dirtyFlushes != 0 {
		t.Fatalf("dirtyFlushes = %d, want 0 for a clean eviction", c.stats.dirtyFlushes)
	}
	if c.stats.cleanDiscards == 0 {
		t.Fatal("expected a clean discard to be counted")
	}
}

func TestLenTracksResidentBlocks(t *testing.T) {
	env := mkTestEnv(t, 64)
	d := newMemDisk(4 * sectorsPerTestBlock)
	c, err := New(env.as, d, 4, 4)
	if !err.Ok() {
		t.Fatal(err)
	}
	for i := uint32(0); i < 3; i++ {
		if _, err := c.Access(i); !err.Ok() {
			t.Fatalf("Access(%d): %v", i, err)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
}
