package fs

import (
	"strings"

	"corekernel/bitmap"
	"corekernel/blockcache"
	"corekernel/disk"
	"corekernel/errs"
	"corekernel/vmm"
)

const sectorsPerBlock = BlockSize / disk.SectorSize

// FileSystem is a mounted on-disk file system: a validated
// Superblock, the block cache backing every block read/write, and
// the two free-space bitmaps mirrored into memory at mount time.
// Caller-owned: concurrent callers that share one FileSystem must
// wrap it in their own lock, mirroring biscuit's Fs_t convention of
// one lock per open file description rather than one inside the file
// system object itself.
type FileSystem struct {
	dsk   disk.Disk
	cache *blockcache.BlockCache
	sb    Superblock

	blockBitmap *bitmap.Bitmap
	inodeBitmap *bitmap.Bitmap

	resolve *ResolveCache
}

// Mount opens dsk, brings up a block cache over it, reads and
// validates the Superblock, and loads the block/inode bitmaps into
// memory, per the mount sequence: open disk, init cache, read
// superblock, build bitmaps, validate the root inode.
func Mount(as *vmm.AddressSpace, dsk disk.Disk, cacheCapacity int) (*FileSystem, errs.Err_t) {
	maxSector, err := dsk.MaxSector()
	if !err.Ok() {
		return nil, err
	}
	totalBlocks := uint32(maxSector) / sectorsPerBlock

	cache, err := blockcache.New(as, dsk, totalBlocks, cacheCapacity)
	if !err.Ok() {
		return nil, err
	}

	sbPtr, err := cache.Access(SuperblockNumber)
	if !err.Ok() {
		return nil, err
	}
	sb, err := decodeSuperblock(blockBytes(sbPtr))
	if !err.Ok() {
		return nil, err
	}
	if sb.BlockCount > uint64(totalBlocks) {
		return nil, errs.Medium
	}

	blockBM, err := loadBitmap(cache, sb.BlockBitmapStart, sb.BlockBitmapLen, int(sb.BlockCount))
	if !err.Ok() {
		return nil, err
	}
	inodeBM, err := loadBitmap(cache, sb.InodeBitmapStart, sb.InodeBitmapLen, int(sb.InodeCount))
	if !err.Ok() {
		return nil, err
	}

	fsys := &FileSystem{
		dsk:         dsk,
		cache:       cache,
		sb:          sb,
		blockBitmap: blockBM,
		inodeBitmap: inodeBM,
		resolve:     NewResolveCache(64),
	}

	root, err := fsys.readInode(RootInode)
	if !err.Ok() {
		return nil, err
	}
	if root.Kind != Directory {
		return nil, errs.Medium
	}
	return fsys, errs.OK
}

// Unmount flushes every dirty resident block back to disk.
func (fsys *FileSystem) Unmount() errs.Err_t {
	return fsys.cache.Flush()
}

func loadBitmap(cache *blockcache.BlockCache, start, length uint64, nbits int) (*bitmap.Bitmap, errs.Err_t) {
	bm := bitmap.New(nbits)
	for i := uint64(0); i < length; i++ {
		ptr, err := cache.Access(uint32(start + i))
		if !err.Ok() {
			return nil, err
		}
		buf := blockBytes(ptr)
		base := int(i) * bitsPerBlock
		for bit := 0; bit < bitsPerBlock && base+bit < nbits; bit++ {
			if buf[bit/8]&(1<<uint(bit%8)) != 0 {
				bm.Reserve(base + bit)
			}
		}
	}
	return bm, errs.OK
}

func (fsys *FileSystem) persistBitmapBit(start uint64, idx int, set bool) errs.Err_t {
	blockOff := uint64(idx / bitsPerBlock)
	bitOff := idx % bitsPerBlock
	ptr, err := fsys.cache.Access(uint32(start + blockOff))
	if !err.Ok() {
		return err
	}
	buf := blockBytes(ptr)
	byteIdx := bitOff / 8
	mask := byte(1 << uint(bitOff%8))
	if set {
		buf[byteIdx] |= mask
	} else {
		buf[byteIdx] &^= mask
	}
	return fsys.cache.MarkDirty(uint32(start + blockOff))
}

// allocBlock allocates a free data or indirect block, zeroes it, and
// returns its block number.
func (fsys *FileSystem) allocBlock() (uint64, errs.Err_t) {
	idx, err := fsys.blockBitmap.Allocate()
	if err == errs.NoDisk {
		return 0, errs.NoDisk
	}
	if !err.Ok() {
		return 0, err
	}
	if err := fsys.persistBitmapBit(fsys.sb.BlockBitmapStart, idx, true); !err.Ok() {
		return 0, err
	}
	ptr, err := fsys.cache.Access(uint32(idx))
	if !err.Ok() {
		return 0, err
	}
	buf := blockBytes(ptr)
	for i := range buf {
		buf[i] = 0
	}
	if err := fsys.cache.MarkDirty(uint32(idx)); !err.Ok() {
		return 0, err
	}
	return uint64(idx), errs.OK
}

func (fsys *FileSystem) freeBlock(b uint64) errs.Err_t {
	fsys.blockBitmap.Free(int(b))
	return fsys.persistBitmapBit(fsys.sb.BlockBitmapStart, int(b), false)
}

func (fsys *FileSystem) allocInode() (uint64, errs.Err_t) {
	idx, err := fsys.inodeBitmap.Allocate()
	if !err.Ok() {
		return 0, err
	}
	if err := fsys.persistBitmapBit(fsys.sb.InodeBitmapStart, idx, true); !err.Ok() {
		return 0, err
	}
	return uint64(idx), errs.OK
}

func (fsys *FileSystem) freeInodeNumber(n uint64) errs.Err_t {
	fsys.inodeBitmap.Free(int(n))
	return fsys.persistBitmapBit(fsys.sb.InodeBitmapStart, int(n), false)
}

func (fsys *FileSystem) inodeLocation(n uint64) (block uint64, off int) {
	block = fsys.sb.InodeTableStart + n/InodesPerBlock
	off = int(n%InodesPerBlock) * InodeSize
	return
}

func (fsys *FileSystem) readInode(n uint64) (Inode, errs.Err_t) {
	block, off := fsys.inodeLocation(n)
	ptr, err := fsys.cache.Access(uint32(block))
	if !err.Ok() {
		return Inode{}, err
	}
	return decodeInode(blockBytes(ptr)[off : off+InodeSize]), errs.OK
}

func (fsys *FileSystem) writeInode(n uint64, in Inode) errs.Err_t {
	block, off := fsys.inodeLocation(n)
	ptr, err := fsys.cache.Access(uint32(block))
	if !err.Ok() {
		return err
	}
	in.encode(blockBytes(ptr)[off : off+InodeSize])
	return fsys.cache.MarkDirty(uint32(block))
}

// CreateInode allocates a fresh inode number and writes a zeroed
// record of the given kind.
func (fsys *FileSystem) CreateInode(kind Kind) (uint64, errs.Err_t) {
	n, err := fsys.allocInode()
	if !err.Ok() {
		return 0, err
	}
	in := Inode{Kind: kind}
	if err := fsys.writeInode(n, in); !err.Ok() {
		return 0, err
	}
	return n, errs.OK
}

// RemoveInode releases an inode's data blocks and its inode number.
func (fsys *FileSystem) RemoveInode(n uint64) errs.Err_t {
	if err := fsys.SetSize(n, 0); !err.Ok() {
		return err
	}
	return fsys.freeInodeNumber(n)
}

// Read copies up to len(buf) bytes starting at offset out of inode
// n's content, stopping at the inode's recorded size, and returns the
// number of bytes copied.
func (fsys *FileSystem) Read(n uint64, offset uint64, buf []byte) (int, errs.Err_t) {
	in, err := fsys.readInode(n)
	if !err.Ok() {
		return 0, err
	}
	if offset >= in.Size {
		return 0, errs.OK
	}
	remaining := in.Size - offset
	if uint64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	total := 0
	for total < len(buf) {
		pos := offset + uint64(total)
		fileBlock := pos / BlockSize
		inBlock := pos % BlockSize

		slot, _, err := fsys.blockEntry(&in, fileBlock, nil)
		n := BlockSize - int(inBlock)
		if n > len(buf)-total {
			n = len(buf) - total
		}
		if err == errs.NoDisk || (err.Ok() && *slot == NoBlock) {
			for i := 0; i < n; i++ {
				buf[total+i] = 0
			}
			total += n
			continue
		}
		if !err.Ok() {
			return total, err
		}
		ptr, aerr := fsys.cache.Access(uint32(*slot))
		if !aerr.Ok() {
			return total, aerr
		}
		copy(buf[total:total+n], blockBytes(ptr)[inBlock:int(inBlock)+n])
		total += n
	}
	return total, errs.OK
}

// Write copies buf into inode n's content starting at offset,
// growing the file and allocating blocks as needed, and updates size
// and modify time.
func (fsys *FileSystem) Write(n uint64, offset uint64, buf []byte, now int64) (int, errs.Err_t) {
	in, err := fsys.readInode(n)
	if !err.Ok() {
		return 0, err
	}
	total := 0
	for total < len(buf) {
		pos := offset + uint64(total)
		fileBlock := pos / BlockSize
		inBlock := pos % BlockSize

		slot, _, err := fsys.blockEntry(&in, fileBlock, fsys.allocBlock)
		if !err.Ok() {
			return total, err
		}
		avail := BlockSize - int(inBlock)
		chunk := len(buf) - total
		if chunk > avail {
			chunk = avail
		}
		ptr, aerr := fsys.cache.Access(uint32(*slot))
		if !aerr.Ok() {
			return total, aerr
		}
		copy(blockBytes(ptr)[inBlock:int(inBlock)+chunk], buf[total:total+chunk])
		if derr := fsys.cache.MarkDirty(uint32(*slot)); !derr.Ok() {
			return total, derr
		}
		total += chunk
	}
	newSize := offset + uint64(total)
	if newSize > in.Size {
		in.Size = newSize
	}
	in.ModifyTime = now
	if err := fsys.writeInode(n, in); !err.Ok() {
		return total, err
	}
	return total, errs.OK
}

// SetSize truncates or extends inode n to newSize. Shrinking frees
// every data and indirect block beyond the new size; growing only
// updates the recorded size, since block allocation happens lazily
// on first write.
func (fsys *FileSystem) SetSize(n uint64, newSize uint64) errs.Err_t {
	in, err := fsys.readInode(n)
	if !err.Ok() {
		return err
	}
	if newSize < in.Size {
		firstFreed := (newSize + BlockSize - 1) / BlockSize
		lastBlock := (in.Size + BlockSize - 1) / BlockSize
		for fb := firstFreed; fb < lastBlock; fb++ {
			slot, owner, err := fsys.blockEntry(&in, fb, nil)
			if err == errs.NoDisk {
				continue
			}
			if !err.Ok() {
				return err
			}
			if *slot != NoBlock {
				if err := fsys.freeBlock(*slot); !err.Ok() {
					return err
				}
				*slot = NoBlock
				if owner != 0 {
					if err := fsys.cache.MarkDirty(uint32(owner)); !err.Ok() {
						return err
					}
				}
			}
		}
		if newSize == 0 {
			// every leaf has already been freed above (and their
			// owning indirect blocks' slots zeroed), so this just
			// prunes the now-empty indirect block trees themselves.
			for t := 0; t < MaxHeight; t++ {
				if err := fsys.freeSubtree(in.RootBlocks[t], t); !err.Ok() {
					return err
				}
				in.RootBlocks[t] = NoBlock
			}
		}
	}
	in.Size = newSize
	return fsys.writeInode(n, in)
}

// Find scans dirInode's directory entries for name, returning its
// child inode number.
func (fsys *FileSystem) Find(dirInode uint64, name string) (uint64, errs.Err_t) {
	if child, ok := fsys.resolve.Lookup(dirInode, name); ok {
		return child, errs.OK
	}
	in, err := fsys.readInode(dirInode)
	if !err.Ok() {
		return 0, err
	}
	if in.Kind != Directory {
		return 0, errs.NotDirectory
	}
	nblocks := in.Size / BlockSize
	for fb := uint64(0); fb < nblocks; fb++ {
		slot, _, err := fsys.blockEntry(&in, fb, nil)
		if !err.Ok() || *slot == NoBlock {
			continue
		}
		ptr, aerr := fsys.cache.Access(uint32(*slot))
		if !aerr.Ok() {
			return 0, aerr
		}
		for i := 0; i < EntriesPerBlock; i++ {
			ent := decodeDirEntry(dirEntrySlot(ptr, i))
			if !ent.Free() && ent.Name == name {
				fsys.resolve.Insert(dirInode, name, ent.InodeNumber)
				return ent.InodeNumber, errs.OK
			}
		}
	}
	return 0, errs.FileNotFound
}

// Insert adds a new directory entry (name -> childInode) into
// dirInode, extending the directory by one block if every existing
// entry is occupied.
func (fsys *FileSystem) Insert(dirInode uint64, name string, childInode uint64, now int64) errs.Err_t {
	if len(name) > MaxNameLen {
		return errs.InvalidArgument
	}
	if _, err := fsys.Find(dirInode, name); err.Ok() {
		return errs.FileExists
	}
	in, err := fsys.readInode(dirInode)
	if !err.Ok() {
		return err
	}
	if in.Kind != Directory {
		return errs.NotDirectory
	}

	nblocks := in.Size / BlockSize
	for fb := uint64(0); fb < nblocks; fb++ {
		slot, _, err := fsys.blockEntry(&in, fb, nil)
		if !err.Ok() || *slot == NoBlock {
			continue
		}
		ptr, aerr := fsys.cache.Access(uint32(*slot))
		if !aerr.Ok() {
			return aerr
		}
		for i := 0; i < EntriesPerBlock; i++ {
			rec := dirEntrySlot(ptr, i)
			if decodeDirEntry(rec).Free() {
				encodeDirEntry(rec, DirectoryEntry{InodeNumber: childInode, Name: name})
				if derr := fsys.cache.MarkDirty(uint32(*slot)); !derr.Ok() {
					return derr
				}
				fsys.resolve.Insert(dirInode, name, childInode)
				return errs.OK
			}
		}
	}

	// every existing block is full: extend the directory by one block
	// of free entries and take the first slot.
	slot, _, err := fsys.blockEntry(&in, nblocks, fsys.allocBlock)
	if !err.Ok() {
		return err
	}
	ptr, aerr := fsys.cache.Access(uint32(*slot))
	if !aerr.Ok() {
		return aerr
	}
	rec := dirEntrySlot(ptr, 0)
	encodeDirEntry(rec, DirectoryEntry{InodeNumber: childInode, Name: name})
	if derr := fsys.cache.MarkDirty(uint32(*slot)); !derr.Ok() {
		return derr
	}

	in.Size = (nblocks + 1) * BlockSize
	in.ModifyTime = now
	if err := fsys.writeInode(dirInode, in); !err.Ok() {
		return err
	}
	fsys.resolve.Insert(dirInode, name, childInode)
	return errs.OK
}

// List returns every occupied entry in dirInode's directory.
func (fsys *FileSystem) List(dirInode uint64) ([]DirectoryEntry, errs.Err_t) {
	in, err := fsys.readInode(dirInode)
	if !err.Ok() {
		return nil, err
	}
	if in.Kind != Directory {
		return nil, errs.NotDirectory
	}
	var out []DirectoryEntry
	nblocks := in.Size / BlockSize
	for fb := uint64(0); fb < nblocks; fb++ {
		slot, _, err := fsys.blockEntry(&in, fb, nil)
		if !err.Ok() || *slot == NoBlock {
			continue
		}
		ptr, aerr := fsys.cache.Access(uint32(*slot))
		if !aerr.Ok() {
			return nil, aerr
		}
		for i := 0; i < EntriesPerBlock; i++ {
			ent := decodeDirEntry(dirEntrySlot(ptr, i))
			if !ent.Free() {
				out = append(out, ent)
			}
		}
	}
	return out, errs.OK
}

// Remove marks name's entry in dirInode free and releases the child
// inode it named.
func (fsys *FileSystem) Remove(dirInode uint64, name string) errs.Err_t {
	in, err := fsys.readInode(dirInode)
	if !err.Ok() {
		return err
	}
	if in.Kind != Directory {
		return errs.NotDirectory
	}
	nblocks := in.Size / BlockSize
	for fb := uint64(0); fb < nblocks; fb++ {
		slot, _, err := fsys.blockEntry(&in, fb, nil)
		if !err.Ok() || *slot == NoBlock {
			continue
		}
		ptr, aerr := fsys.cache.Access(uint32(*slot))
		if !aerr.Ok() {
			return aerr
		}
		for i := 0; i < EntriesPerBlock; i++ {
			rec := dirEntrySlot(ptr, i)
			ent := decodeDirEntry(rec)
			if ent.Free() || ent.Name != name {
				continue
			}
			encodeDirEntry(rec, DirectoryEntry{InodeNumber: freeInode})
			if derr := fsys.cache.MarkDirty(uint32(*slot)); !derr.Ok() {
				return derr
			}
			fsys.resolve.Invalidate(dirInode, name)
			return fsys.RemoveInode(ent.InodeNumber)
		}
	}
	return errs.FileNotFound
}

// Open resolves a '/'-separated path starting from the root
// directory, rejecting any intermediate component that is not itself
// a directory.
func (fsys *FileSystem) Open(path string) (uint64, errs.Err_t) {
	trailingSlash := len(path) > 0 && path[len(path)-1] == '/'
	cur := uint64(RootInode)
	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		if len(comp) > MaxNameLen {
			return 0, errs.InvalidArgument
		}
		child, err := fsys.Find(cur, comp)
		if !err.Ok() {
			return 0, err
		}
		cur = child
	}
	// A trailing slash constrains the final component to a directory:
	// open("/dir-1/dir-2/") succeeds, open("/dir-1/file-5/") fails.
	if trailingSlash {
		in, err := fsys.readInode(cur)
		if !err.Ok() {
			return 0, err
		}
		if in.Kind != Directory {
			return 0, errs.InvalidArgument
		}
	}
	return cur, errs.OK
}
