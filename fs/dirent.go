package fs

import "encoding/binary"

// MaxNameLen is the longest name a DirectoryEntry can hold.
const MaxNameLen = 64

// DirEntrySize is the fixed on-disk record size of one directory
// entry: an 8-byte inode number plus a NUL-padded MaxNameLen name,
// padded up to a power of two so EntriesPerBlock divides BlockSize
// evenly.
const DirEntrySize = 128

const (
	deInodeOff = 0
	deNameOff  = 8
)

// freeInode is the reserved inode number marking a directory entry
// as unused, repurposing a reserved inode number rather than a
// separate tombstone byte (inode 0 is never allocatable: the root is
// a fixed constant at RootInode).
const freeInode = 0

// EntriesPerBlock is how many fixed-size directory entries fit in
// one BlockSize block.
const EntriesPerBlock = BlockSize / DirEntrySize

// DirectoryEntry is the in-memory decoding of one on-disk directory
// record.
type DirectoryEntry struct {
	InodeNumber uint64
	Name        string
}

// Free reports whether this entry is the free-slot sentinel.
func (d DirectoryEntry) Free() bool { return d.InodeNumber == freeInode }

func decodeDirEntry(buf []byte) DirectoryEntry {
	inode := binary.LittleEndian.Uint64(buf[deInodeOff:])
	nameBuf := buf[deNameOff : deNameOff+MaxNameLen]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	return DirectoryEntry{InodeNumber: inode, Name: string(nameBuf[:n])}
}

func encodeDirEntry(buf []byte, d DirectoryEntry) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[deInodeOff:], d.InodeNumber)
	copy(buf[deNameOff:deNameOff+MaxNameLen], d.Name)
}

func dirEntrySlot(blockPtr uintptr, i int) []byte {
	return blockBytes(blockPtr)[i*DirEntrySize : (i+1)*DirEntrySize]
}
