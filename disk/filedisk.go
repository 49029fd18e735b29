package disk

import (
	"os"

	"golang.org/x/sys/unix"

	"corekernel/errs"
)

// FileDisk backs a Disk with an ordinary host file, using positioned
// pread/pwrite rather than a Seek-then-Read/Write pair so concurrent
// sector accesses don't race on the file's shared offset. Adapted
// from biscuit's ahci_disk_t (biscuit/src/ufs/driver.go), which gets
// the same safety by serializing every access behind a mutex around a
// Seek call; pread/pwrite's own atomicity makes that lock unnecessary
// here.
type FileDisk struct {
	f *os.File
}

// OpenFileDisk opens an existing disk image file.
func OpenFileDisk(path string) (*FileDisk, errs.Err_t) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errs.Medium
	}
	return &FileDisk{f: f}, errs.OK
}

// CreateFileDisk creates (truncating if necessary) a disk image file
// sized to hold nsectors sectors, for cmd/mkfs building a fresh image.
func CreateFileDisk(path string, nsectors uint32) (*FileDisk, errs.Err_t) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errs.Medium
	}
	if err := f.Truncate(int64(nsectors) * SectorSize); err != nil {
		f.Close()
		return nil, errs.Medium
	}
	return &FileDisk{f: f}, errs.OK
}

func (d *FileDisk) ReadSector(lba uint32, into []byte) errs.Err_t {
	if len(into) != SectorSize {
		return errs.InvalidArgument
	}
	n, err := unix.Pread(int(d.f.Fd()), into, int64(lba)*SectorSize)
	if err != nil || n != SectorSize {
		return errs.Medium
	}
	return errs.OK
}

func (d *FileDisk) WriteSector(lba uint32, data []byte) errs.Err_t {
	if len(data) != SectorSize {
		return errs.InvalidArgument
	}
	n, err := unix.Pwrite(int(d.f.Fd()), data, int64(lba)*SectorSize)
	if err != nil || n != SectorSize {
		return errs.Medium
	}
	return errs.OK
}

// Flush calls fdatasync on the backing file.
func (d *FileDisk) Flush() errs.Err_t {
	if err := unix.Fdatasync(int(d.f.Fd())); err != nil {
		return errs.Medium
	}
	return errs.OK
}

func (d *FileDisk) MaxSector() (uint32, errs.Err_t) {
	info, err := d.f.Stat()
	if err != nil {
		return 0, errs.Medium
	}
	return uint32(info.Size() / SectorSize), errs.OK
}

// Close closes the backing file. Callers that need every write
// durable first should call Flush.
func (d *FileDisk) Close() errs.Err_t {
	if err := d.f.Close(); err != nil {
		return errs.Medium
	}
	return errs.OK
}
