package fs

import (
	"encoding/binary"

	"corekernel/errs"
)

// Report summarizes one consistency check of a mounted file system:
// every inode and block reachable by walking the directory tree from
// the root, cross-checked against what the free-space bitmaps say is
// allocated.
type Report struct {
	InodesAllocated int
	InodesReachable int
	BlocksAllocated int
	BlocksReachable int
	OrphanInodes    []uint64
	Consistent      bool
}

// Check walks every directory reachable from the root, recording
// every inode and block it visits, and compares the totals against
// the block/inode bitmaps: an allocated inode no directory entry
// reaches is an orphan, and a mismatched block count means something
// is marked occupied (or free) that the directory tree disagrees
// with.
func (fsys *FileSystem) Check() (Report, errs.Err_t) {
	reachableInodes := map[uint64]bool{RootInode: true}
	reachableBlocks := map[uint64]bool{}

	var walk func(n uint64) errs.Err_t
	walk = func(n uint64) errs.Err_t {
		in, err := fsys.readInode(n)
		if !err.Ok() {
			return err
		}
		if err := fsys.walkInodeBlocks(&in, func(b uint64) { reachableBlocks[b] = true }); !err.Ok() {
			return err
		}
		if in.Kind != Directory {
			return errs.OK
		}
		entries, err := fsys.List(n)
		if !err.Ok() {
			return err
		}
		for _, e := range entries {
			if reachableInodes[e.InodeNumber] {
				continue
			}
			reachableInodes[e.InodeNumber] = true
			if err := walk(e.InodeNumber); !err.Ok() {
				return err
			}
		}
		return errs.OK
	}
	if err := walk(RootInode); !err.Ok() {
		return Report{}, err
	}

	var orphans []uint64
	for n := uint64(RootInode) + 1; n < fsys.sb.InodeCount; n++ {
		if fsys.inodeBitmap.Test(int(n)) && !reachableInodes[n] {
			orphans = append(orphans, n)
		}
	}

	blocksAllocated := int(fsys.sb.BlockCount) - fsys.blockBitmap.FreeCount()
	blocksReachable := int(fsys.sb.DataStart) + len(reachableBlocks)

	rep := Report{
		InodesAllocated: int(fsys.sb.InodeCount) - fsys.inodeBitmap.FreeCount(),
		InodesReachable: len(reachableInodes),
		BlocksAllocated: blocksAllocated,
		BlocksReachable: blocksReachable,
		OrphanInodes:    orphans,
	}
	rep.Consistent = len(orphans) == 0 && blocksAllocated == blocksReachable
	return rep, errs.OK
}

// walkInodeBlocks visits every block number referenced anywhere in
// in's root_blocks forest: the root pointers themselves, every
// indirect block, and every data leaf.
func (fsys *FileSystem) walkInodeBlocks(in *Inode, visit func(uint64)) errs.Err_t {
	for t := 0; t < MaxHeight; t++ {
		if err := fsys.walkSubtree(in.RootBlocks[t], t, visit); !err.Ok() {
			return err
		}
	}
	return errs.OK
}

func (fsys *FileSystem) walkSubtree(block uint64, height int, visit func(uint64)) errs.Err_t {
	if block == NoBlock {
		return errs.OK
	}
	visit(block)
	if height == 0 {
		return errs.OK
	}
	ptr, err := fsys.cache.Access(uint32(block))
	if !err.Ok() {
		return err
	}
	buf := blockBytes(ptr)
	for i := 0; i < Arity; i++ {
		child := binary.LittleEndian.Uint64(buf[i*blockNumberSize:])
		if err := fsys.walkSubtree(child, height-1, visit); !err.Ok() {
			return err
		}
	}
	return errs.OK
}
