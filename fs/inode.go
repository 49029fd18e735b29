package fs

import (
	"encoding/binary"

	"corekernel/errs"
)

// Kind distinguishes a regular file from a directory.
type Kind uint64

const (
	File Kind = iota
	Directory
)

// MaxHeight is the number of trees in an inode's root_blocks forest;
// tree i has height i and ARITY^i leaves, so the largest file is
// BlockSize * (1 + Arity + Arity^2 + Arity^3) bytes.
const MaxHeight = 4

// blockNumberSize is sizeof(block number) on disk, an 8-byte index.
const blockNumberSize = 8

// Arity is how many block-number children one indirect block holds.
const Arity = BlockSize / blockNumberSize

// NoBlock marks a root_blocks/indirect-block slot as unallocated.
const NoBlock = 0

// RootInode is the fixed inode number of the file system root
// directory; inodes below it are reserved.
const RootInode = 2

// InodeSize is the fixed on-disk record size of one Inode, padded up
// from {kind, modify_time, size, root_blocks[MaxHeight]} (56 bytes) to
// a round power of two so InodesPerBlock divides BlockSize evenly.
const InodeSize = 64

const (
	inKindOff   = 0
	inMtimeOff  = 8
	inSizeOff   = 16
	inBlocksOff = 24
)

// InodesPerBlock is how many fixed-size Inode records fit in one
// BlockSize block of the inode table.
const InodesPerBlock = BlockSize / InodeSize

// Inode is the in-memory decoding of one on-disk inode record.
type Inode struct {
	Kind       Kind
	ModifyTime int64
	Size       uint64
	RootBlocks [MaxHeight]uint64
}

func decodeInode(buf []byte) Inode {
	var in Inode
	in.Kind = Kind(binary.LittleEndian.Uint64(buf[inKindOff:]))
	in.ModifyTime = int64(binary.LittleEndian.Uint64(buf[inMtimeOff:]))
	in.Size = binary.LittleEndian.Uint64(buf[inSizeOff:])
	for i := 0; i < MaxHeight; i++ {
		in.RootBlocks[i] = binary.LittleEndian.Uint64(buf[inBlocksOff+i*blockNumberSize:])
	}
	return in
}

func (in *Inode) encode(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[inKindOff:], uint64(in.Kind))
	binary.LittleEndian.PutUint64(buf[inMtimeOff:], uint64(in.ModifyTime))
	binary.LittleEndian.PutUint64(buf[inSizeOff:], in.Size)
	for i := 0; i < MaxHeight; i++ {
		binary.LittleEndian.PutUint64(buf[inBlocksOff+i*blockNumberSize:], in.RootBlocks[i])
	}
}

// treeLeaves returns ARITY^height.
func treeLeaves(height int) uint64 {
	n := uint64(1)
	for i := 0; i < height; i++ {
		n *= Arity
	}
	return n
}

// findLeaf locates the smallest tree index t such that the cumulative
// leaf count through tree t exceeds fileBlock, and fileBlock's leaf
// index within that tree.
func findLeaf(fileBlock uint64) (tree int, leafInTree uint64) {
	base := uint64(0)
	for t := 0; t < MaxHeight; t++ {
		leaves := treeLeaves(t)
		if fileBlock < base+leaves {
			return t, fileBlock - base
		}
		base += leaves
	}
	return MaxHeight, 0
}

// MaxFileBlocks is the number of file blocks addressable by the
// forest, one past the highest valid fileBlock index.
func MaxFileBlocks() uint64 {
	total := uint64(0)
	for t := 0; t < MaxHeight; t++ {
		total += treeLeaves(t)
	}
	return total
}

// blockEntry resolves the on-disk block number slot holding file
// block fileBlock's data block number, walking root_blocks[tree] down
// `tree` levels of indirect blocks using base-Arity digits of
// leafInTree. alloc, if non-nil, is called to obtain a fresh zeroed
// indirect or data block number whenever the walk finds NoBlock; a
// nil alloc makes a missing block NoDisk instead of allocating. owner
// is the block number containing the slot actually written (0 if the
// slot lives in the inode record itself, which the caller is
// responsible for marking dirty in the inode table).
func (fsys *FileSystem) blockEntry(in *Inode, fileBlock uint64, alloc func() (uint64, errs.Err_t)) (slot *uint64, owner uint64, err errs.Err_t) {
	tree, leafInTree := findLeaf(fileBlock)
	if tree >= MaxHeight {
		return nil, 0, errs.Overflow
	}

	if tree == 0 {
		if err := fsys.resolveSlot(&in.RootBlocks[0], 0, alloc); !err.Ok() {
			return nil, 0, err
		}
		return &in.RootBlocks[0], 0, errs.OK
	}

	digits := make([]uint64, tree)
	rem := leafInTree
	for i := tree - 1; i >= 0; i-- {
		digits[i] = rem % Arity
		rem /= Arity
	}

	cur := &in.RootBlocks[tree]
	curOwner := uint64(0)
	for level := 0; level < tree; level++ {
		if err := fsys.resolveSlot(cur, curOwner, alloc); !err.Ok() {
			return nil, 0, err
		}
		ptr, err := fsys.cache.Access(uint32(*cur))
		if !err.Ok() {
			return nil, 0, err
		}
		curOwner = *cur
		cur = indirectSlot(ptr, digits[level])
	}
	return cur, curOwner, errs.OK
}

// resolveSlot returns nil if slot already holds a block number,
// otherwise allocates one via alloc (failing with NoDisk if alloc is
// nil), writes it into slot, and marks owner dirty if owner is a real
// block (owner == 0 means slot lives in the inode record, which the
// caller persists separately).
func (fsys *FileSystem) resolveSlot(slot *uint64, owner uint64, alloc func() (uint64, errs.Err_t)) errs.Err_t {
	if *slot != NoBlock {
		return errs.OK
	}
	if alloc == nil {
		return errs.NoDisk
	}
	b, err := alloc()
	if !err.Ok() {
		return err
	}
	*slot = b
	if owner != 0 {
		if err := fsys.cache.MarkDirty(uint32(owner)); !err.Ok() {
			return err
		}
	}
	return errs.OK
}

func indirectSlot(base uintptr, idx uint64) *uint64 {
	return (*uint64)(addOffset(base, uintptr(idx)*blockNumberSize))
}

// freeSubtree recursively frees every indirect block of the subtree
// rooted at block (a root_blocks[height] entry), then block itself.
// height 0 means block is a data block with no indirection.
func (fsys *FileSystem) freeSubtree(block uint64, height int) errs.Err_t {
	if block == NoBlock {
		return errs.OK
	}
	if height > 0 {
		ptr, err := fsys.cache.Access(uint32(block))
		if !err.Ok() {
			return err
		}
		buf := blockBytes(ptr)
		children := make([]uint64, Arity)
		for i := range children {
			children[i] = binary.LittleEndian.Uint64(buf[i*blockNumberSize:])
		}
		for _, child := range children {
			if err := fsys.freeSubtree(child, height-1); !err.Ok() {
				return err
			}
		}
	}
	return fsys.freeBlock(block)
}
