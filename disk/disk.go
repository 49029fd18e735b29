// Package disk implements the block-cache's storage boundary: a
// bit-exact PATA PIO driver talking the real IDE port protocol
// through an external PortIO collaborator, and a host-file-backed
// FileDisk for tests and cmd/mkfs, adapted from biscuit's
// ahci_disk_t (biscuit/src/ufs/driver.go) which plays the same role
// against a plain os.File.
package disk

import "corekernel/errs"

// SectorSize is the fixed sector size every Disk implementation
// reads and writes in units of.
const SectorSize = 512

// Disk is the sector-addressed block device contract both PATA and
// FileDisk satisfy, the boundary the block cache's fault handler
// reads and writes sectors through.
type Disk interface {
	// ReadSector reads one SectorSize-byte sector at lba into into,
	// which must be exactly SectorSize bytes long.
	ReadSector(lba uint32, into []byte) errs.Err_t

	// WriteSector writes data, exactly SectorSize bytes, to the
	// sector at lba.
	WriteSector(lba uint32, data []byte) errs.Err_t

	// Flush ensures every previously written sector has reached
	// stable storage.
	Flush() errs.Err_t

	// MaxSector returns the number of addressable sectors.
	MaxSector() (uint32, errs.Err_t)
}
