package fs

import (
	"corekernel/bitmap"
	"corekernel/disk"
	"corekernel/errs"
)

// Format writes a fresh, empty file system image directly to dsk: a
// Superblock sized for blockCount blocks and inodeCount inodes, fully
// reserved block/inode bitmaps covering the metadata regions plus one
// data block for the root directory, and a root directory Inode
// pointing at that block. Format talks to dsk with raw sector writes
// rather than through a BlockCache, since cmd/mkfs builds an image
// before any address space exists to map one into.
func Format(dsk disk.Disk, blockCount, inodeCount uint64) errs.Err_t {
	sb := MkSuperblock(blockCount, inodeCount)

	sbBuf := make([]byte, BlockSize)
	sb.encode(sbBuf)
	if err := writeRawBlock(dsk, SuperblockNumber, sbBuf); !err.Ok() {
		return err
	}

	rootData := sb.DataStart
	blockBM := bitmap.New(int(blockCount))
	for i := uint64(0); i < sb.DataStart; i++ {
		blockBM.Reserve(int(i))
	}
	blockBM.Reserve(int(rootData))
	if err := writeBitmapRaw(dsk, sb.BlockBitmapStart, sb.BlockBitmapLen, blockBM); !err.Ok() {
		return err
	}

	inodeBM := bitmap.New(int(inodeCount))
	for i := uint64(0); i <= RootInode; i++ {
		inodeBM.Reserve(int(i))
	}
	if err := writeBitmapRaw(dsk, sb.InodeBitmapStart, sb.InodeBitmapLen, inodeBM); !err.Ok() {
		return err
	}

	root := Inode{Kind: Directory, Size: BlockSize}
	root.RootBlocks[0] = rootData
	itBlock := sb.InodeTableStart + RootInode/InodesPerBlock
	itOff := int(RootInode%InodesPerBlock) * InodeSize
	itBuf := make([]byte, BlockSize)
	root.encode(itBuf[itOff : itOff+InodeSize])
	if err := writeRawBlock(dsk, itBlock, itBuf); !err.Ok() {
		return err
	}

	if err := writeRawBlock(dsk, rootData, make([]byte, BlockSize)); !err.Ok() {
		return err
	}
	return dsk.Flush()
}

func writeRawBlock(dsk disk.Disk, block uint64, buf []byte) errs.Err_t {
	for i := 0; i < sectorsPerBlock; i++ {
		lba := uint32(block)*uint32(sectorsPerBlock) + uint32(i)
		if err := dsk.WriteSector(lba, buf[i*disk.SectorSize:(i+1)*disk.SectorSize]); !err.Ok() {
			return err
		}
	}
	return errs.OK
}

func writeBitmapRaw(dsk disk.Disk, start, length uint64, bm *bitmap.Bitmap) errs.Err_t {
	for blk := uint64(0); blk < length; blk++ {
		buf := make([]byte, BlockSize)
		base := int(blk) * bitsPerBlock
		for bit := 0; bit < bitsPerBlock && base+bit < bm.Len(); bit++ {
			if bm.Test(base + bit) {
				buf[bit/8] |= 1 << uint(bit%8)
			}
		}
		if err := writeRawBlock(dsk, start+blk, buf); !err.Ok() {
			return err
		}
	}
	return errs.OK
}
