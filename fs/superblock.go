// Package fs implements the on-disk Unix-style file system: a
// Superblock describing layout, two free-space Bitmaps (blocks and
// inodes), an inode table reached a block at a time through the
// block cache, and directory entries packed BlockSize per block.
// Adapted from biscuit's fs/fs.go and fs/super.go (the superblock
// read/validate sequence and the block/inode bitmap scan), with the
// root_blocks forest and fixed-record directory entries following
// the on-disk shapes described for this project's teaching kernel.
package fs

import (
	"encoding/binary"

	"corekernel/blockcache"
	"corekernel/errs"
)

// BlockSize is the file system's block size: one block cache page.
const BlockSize = blockcache.BlockSize

// SuperblockNumber is the fixed block holding the Superblock.
const SuperblockNumber = 1

// bitsPerBlock is how many free-space bits one bitmap block records.
const bitsPerBlock = BlockSize * 8

const magicString = "Nikka's simple file system"

// endianMarker is written verbatim so a mount can detect a disk image
// built with the opposite byte order.
const endianMarker = 0x0102030405060708

const (
	sbMagicOff   = 0
	sbMagicLen   = 32
	sbEndianOff  = sbMagicOff + sbMagicLen
	sbBlocksOff  = sbEndianOff + 8
	sbInodesOff  = sbBlocksOff + 8
	sbRecordSize = sbInodesOff + 8
)

// Superblock is the fixed on-disk record at SuperblockNumber plus the
// ranges derived from its two counts.
type Superblock struct {
	BlockCount uint64
	InodeCount uint64

	BlockBitmapStart uint64
	BlockBitmapLen   uint64
	InodeBitmapStart uint64
	InodeBitmapLen   uint64
	InodeTableStart  uint64
	InodeTableLen    uint64
	DataStart        uint64
}

func divCeil(n, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	return (n + d - 1) / d
}

// MkSuperblock derives every range from blockCount/inodeCount, for
// cmd/mkfs building a fresh image.
func MkSuperblock(blockCount, inodeCount uint64) Superblock {
	sb := Superblock{BlockCount: blockCount, InodeCount: inodeCount}
	sb.deriveRanges()
	return sb
}

func (sb *Superblock) deriveRanges() {
	sb.BlockBitmapStart = SuperblockNumber + 1
	sb.BlockBitmapLen = divCeil(sb.BlockCount, bitsPerBlock)
	sb.InodeBitmapStart = sb.BlockBitmapStart + sb.BlockBitmapLen
	sb.InodeBitmapLen = divCeil(sb.InodeCount, bitsPerBlock)
	sb.InodeTableStart = sb.InodeBitmapStart + sb.InodeBitmapLen
	sb.InodeTableLen = divCeil(sb.InodeCount*InodeSize, BlockSize)
	sb.DataStart = sb.InodeTableStart + sb.InodeTableLen
}

// encode packs sb into one BlockSize-byte block.
func (sb *Superblock) encode(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf[sbMagicOff:sbMagicOff+sbMagicLen], magicString)
	binary.LittleEndian.PutUint64(buf[sbEndianOff:], endianMarker)
	binary.LittleEndian.PutUint64(buf[sbBlocksOff:], sb.BlockCount)
	binary.LittleEndian.PutUint64(buf[sbInodesOff:], sb.InodeCount)
}

// decode validates and reads a Superblock out of one BlockSize-byte
// block, failing with Medium if the magic or endian marker doesn't
// match.
func decodeSuperblock(buf []byte) (Superblock, errs.Err_t) {
	want := make([]byte, sbMagicLen)
	copy(want, magicString)
	if string(buf[sbMagicOff:sbMagicOff+sbMagicLen]) != string(want) {
		return Superblock{}, errs.Medium
	}
	if binary.LittleEndian.Uint64(buf[sbEndianOff:]) != endianMarker {
		return Superblock{}, errs.Medium
	}
	sb := Superblock{
		BlockCount: binary.LittleEndian.Uint64(buf[sbBlocksOff:]),
		InodeCount: binary.LittleEndian.Uint64(buf[sbInodesOff:]),
	}
	sb.deriveRanges()
	return sb, errs.OK
}
