// Package blockcache maps fixed-size disk blocks into a reserved
// window of kernel virtual memory on demand, evicting the
// least-recently-used block when the window's mapped page budget is
// exhausted. Adapted from biscuit's Bdev_block_t/BlkList_t
// (biscuit/src/fs/blk.go), which keeps every cached block resident in
// a goroutine-heap byte array under a free list; here the block's
// storage is instead a lazily-mapped page in a fixed-size virtual
// window, so the cache's footprint is bounded by mapped pages rather
// than by how many *Bdev_block_t the garbage collector happens to
// keep alive.
//
// A real kernel would back Access with CPU page-fault trapping: the
// first touch of an unmapped block faults, the handler maps a frame
// and resumes the faulting instruction, and a write through the
// mapping sets the PTE's hardware DIRTY bit with no further software
// involvement. Neither mechanism exists in a hosted Go process, so
// Access performs the presence check and the fault-equivalent mapping
// step explicitly before returning a pointer, and MarkDirty stands in
// for the hardware dirty bit: callers that write through the pointer
// Access returns must call MarkDirty themselves.
package blockcache

import (
	"container/list"

	"corekernel/disk"
	"corekernel/errs"
	"corekernel/ksync"
	"corekernel/pmm"
	"corekernel/vmm"
)

// BlockSize is the size in bytes of one cached block: one page, so
// every block occupies exactly one leaf mapping.
const BlockSize = vmm.PageSize

const sectorsPerBlock = BlockSize / disk.SectorSize

type entry struct {
	block uint32
	dirty bool
}

// BlockCache is the fault-driven cache of fixed-size disk blocks
// backing the file system's reads and writes.
type BlockCache struct {
	lock ksync.IrqSpinlock

	as  *vmm.AddressSpace
	dsk disk.Disk

	window   vmm.Block[vmm.Page]
	nblocks  uint32
	capacity int

	lru   *list.List
	index map[uint32]*list.Element

	stats stats
}

type stats struct {
	faults        uint64
	evictions     uint64
	dirtyFlushes  uint64
	cleanDiscards uint64
}

// New reserves a kernel-half virtual window covering every block
// number in [0, blockCount) but maps none of it yet, and returns a
// BlockCache that keeps at most capacity blocks mapped at once.
func New(as *vmm.AddressSpace, dsk disk.Disk, blockCount uint32, capacity int) (*BlockCache, errs.Err_t) {
	if capacity <= 0 {
		capacity = 1
	}
	window, err := as.Allocator(0).Reserve(uint64(blockCount))
	if !err.Ok() {
		return nil, err
	}
	return &BlockCache{
		as:       as,
		dsk:      dsk,
		window:   window,
		nblocks:  blockCount,
		capacity: capacity,
		lru:      list.New(),
		index:    make(map[uint32]*list.Element),
	}, errs.OK
}

func (c *BlockCache) pageFor(b uint32) vmm.Page { return c.window.Start + vmm.Page(b) }

// Access returns a dereferenceable pointer to block b's BlockSize
// bytes, mapping and filling it from disk first if it is not already
// resident, and marks it as the most recently used. It fails with
// InvalidArgument if b is out of range.
func (c *BlockCache) Access(b uint32) (uintptr, errs.Err_t) {
	if b >= c.nblocks {
		return 0, errs.InvalidArgument
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	if el, ok := c.index[b]; ok {
		c.lru.MoveToFront(el)
		return c.pointerLocked(b)
	}
	if err := c.faultLocked(b); !err.Ok() {
		return 0, err
	}
	return c.pointerLocked(b)
}

func (c *BlockCache) pointerLocked(b uint32) (uintptr, errs.Err_t) {
	f, _, err := c.as.Mapping().Walk(c.pageFor(b).Addr()).Get()
	if !err.Ok() {
		return 0, err
	}
	return c.as.Phys2Virt().FrameVirt(f), errs.OK
}

// faultLocked is the stand-in for a CPU page fault on block b: evict
// if the cache is already at capacity, map a fresh frame, and read
// the block's sectors in from disk.
func (c *BlockCache) faultLocked(b uint32) errs.Err_t {
	if len(c.index) >= c.capacity {
		if err := c.evictOneLocked(); !err.Ok() {
			return err
		}
	}
	page := c.pageFor(b)
	g, err := c.as.Frames().Allocate()
	if !err.Ok() {
		return err
	}
	if err := c.as.MapPageToFrame(page, g.Frame(), vmm.KernelRW); !err.Ok() {
		g.Drop()
		return err
	}
	if err := c.readBlockLocked(b, g.Frame()); !err.Ok() {
		c.as.UnmapBlock(vmm.MkBlock(page, page+1))
		return err
	}
	el := c.lru.PushFront(&entry{block: b})
	c.index[b] = el
	c.stats.faults++
	return errs.OK
}

func (c *BlockCache) readBlockLocked(b uint32, f pmm.Frame) errs.Err_t {
	base := c.as.Phys2Virt().FrameVirt(f)
	buf := unsafeSlice(base, BlockSize)
	firstSector := uint32(b) * sectorsPerBlock
	for i := 0; i < sectorsPerBlock; i++ {
		sector := buf[i*disk.SectorSize : (i+1)*disk.SectorSize]
		if err := c.dsk.ReadSector(firstSector+uint32(i), sector); !err.Ok() {
			return err
		}
	}
	return errs.OK
}

func (c *BlockCache) writeBlockLocked(b uint32, f pmm.Frame) errs.Err_t {
	base := c.as.Phys2Virt().FrameVirt(f)
	buf := unsafeSlice(base, BlockSize)
	firstSector := uint32(b) * sectorsPerBlock
	for i := 0; i < sectorsPerBlock; i++ {
		sector := buf[i*disk.SectorSize : (i+1)*disk.SectorSize]
		if err := c.dsk.WriteSector(firstSector+uint32(i), sector); !err.Ok() {
			return err
		}
	}
	return errs.OK
}

// MarkDirty records that block b has been written through the
// pointer Access returned, standing in for the DIRTY bit real
// hardware would set automatically on the write. It fails with
// InvalidArgument if b is not currently resident.
func (c *BlockCache) MarkDirty(b uint32) errs.Err_t {
	c.lock.Lock()
	defer c.lock.Unlock()

	el, ok := c.index[b]
	if !ok {
		return errs.InvalidArgument
	}
	page := c.pageFor(b)
	path := c.as.Mapping().Walk(page.Addr())
	_, flags, err := path.Get()
	if !err.Ok() {
		return err
	}
	if err := path.GetMut(flags.Union(vmm.Dirty)); !err.Ok() {
		return err
	}
	el.Value.(*entry).dirty = true
	return errs.OK
}

// flushBlockLocked writes b back to disk if its DIRTY bit (real or
// software-tracked) is set, then clears DIRTY and invalidates any
// cached translation for the page.
func (c *BlockCache) flushBlockLocked(b uint32) errs.Err_t {
	el, ok := c.index[b]
	if !ok {
		return errs.OK
	}
	page := c.pageFor(b)
	path := c.as.Mapping().Walk(page.Addr())
	f, flags, err := path.Get()
	if !err.Ok() {
		return err
	}
	ent := el.Value.(*entry)
	if !flags.Has(vmm.Dirty) && !ent.dirty {
		c.stats.cleanDiscards++
		return errs.OK
	}
	if err := c.writeBlockLocked(b, f); !err.Ok() {
		return err
	}
	if err := path.GetMut(flags.Clear(vmm.Dirty)); !err.Ok() {
		return err
	}
	vmm.InvalidatePage(page.Addr())
	ent.dirty = false
	c.stats.dirtyFlushes++
	return errs.OK
}

// evictOneLocked flushes (if dirty) and unmaps the least-recently-used
// block, freeing its frame back to the allocator.
func (c *BlockCache) evictOneLocked() errs.Err_t {
	back := c.lru.Back()
	if back == nil {
		return errs.NoPage
	}
	b := back.Value.(*entry).block
	if err := c.flushBlockLocked(b); !err.Ok() {
		return err
	}
	page := c.pageFor(b)
	c.as.UnmapBlock(vmm.MkBlock(page, page+1))
	c.lru.Remove(back)
	delete(c.index, b)
	c.stats.evictions++
	return errs.OK
}

// Flush writes back every dirty resident block without evicting any
// of them, for a file system sync or clean unmount.
func (c *BlockCache) Flush() errs.Err_t {
	c.lock.Lock()
	defer c.lock.Unlock()
	for el := c.lru.Front(); el != nil; el = el.Next() {
		if err := c.flushBlockLocked(el.Value.(*entry).block); !err.Ok() {
			return err
		}
	}
	return c.dsk.Flush()
}

// Resident reports whether b currently has a mapped page.
func (c *BlockCache) Resident(b uint32) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, ok := c.index[b]
	return ok
}

// Len returns the number of blocks currently resident.
func (c *BlockCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.index)
}
