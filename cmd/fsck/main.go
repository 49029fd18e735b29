// Command fsck mounts a file system image and checks that every
// allocated inode is reachable from the root directory and that the
// block/inode bitmaps agree with what the directory tree actually
// references. Unlike cmd/mkfs, this has no direct teacher analogue;
// it is built in fs.Check's idiom (corekernel/fs/check.go) purely to
// give the image format a standalone diagnostic the way any Unix-style
// file system pairs its formatter with a consistency checker.
package main

import (
	"flag"
	"fmt"
	"os"
	"unsafe"

	"corekernel/disk"
	"corekernel/errs"
	"corekernel/fs"
	"corekernel/pmm"
	"corekernel/vmm"
)

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fsck <image>")
		os.Exit(1)
	}
	image := flag.Arg(0)

	d, err := disk.OpenFileDisk(image)
	if !err.Ok() {
		fmt.Fprintf(os.Stderr, "fsck: open %s: %v\n", image, err)
		os.Exit(1)
	}
	defer d.Close()

	maxSector, err := d.MaxSector()
	if !err.Ok() {
		fmt.Fprintf(os.Stderr, "fsck: %s: %v\n", image, err)
		os.Exit(1)
	}
	blockCount := uint64(maxSector) / uint64(fs.BlockSize/disk.SectorSize)

	as, err := hostAddressSpace(blockCount)
	if !err.Ok() {
		fmt.Fprintf(os.Stderr, "fsck: build address space: %v\n", err)
		os.Exit(1)
	}

	fsys, err := fs.Mount(as, d, 256)
	if !err.Ok() {
		fmt.Fprintf(os.Stderr, "fsck: mount %s: %v\n", image, err)
		os.Exit(1)
	}
	defer fsys.Unmount()

	report, err := fsys.Check()
	if !err.Ok() {
		fmt.Fprintf(os.Stderr, "fsck: check %s: %v\n", image, err)
		os.Exit(1)
	}

	fmt.Printf("inodes: %d allocated, %d reachable\n", report.InodesAllocated, report.InodesReachable)
	fmt.Printf("blocks: %d allocated, %d reachable\n", report.BlocksAllocated, report.BlocksReachable)
	if len(report.OrphanInodes) > 0 {
		fmt.Printf("orphan inodes: %v\n", report.OrphanInodes)
	}
	if !report.Consistent {
		fmt.Println("fsck: inconsistent")
		os.Exit(1)
	}
	fmt.Println("fsck: clean")
}

// hostAddressSpace builds the same host-process stand-in for a
// kernel address space that the fs and blockcache test suites use: an
// arena of ordinary Go memory playing the role of physical RAM, with
// a page-table Mapping and a kernel-half PageAllocator sized to cover
// the whole block cache window this image needs.
func hostAddressSpace(blockCount uint64) (*vmm.AddressSpace, errs.Err_t) {
	const nFrames = 4096
	arena := make([]byte, nFrames*vmm.PageSize)
	base := uintptr(unsafe.Pointer(&arena[0]))
	p2v := pmm.MkPhys2Virt(base, uintptr(nFrames*vmm.PageSize))

	frames := &pmm.Allocator{}
	frames.Bootstrap(pmm.Frame(0), nFrames)

	mapping, _, err := vmm.NewMapping(frames, p2v, 256)
	if !err.Ok() {
		return nil, err
	}
	user, err := vmm.NewPageAllocator(vmm.MkBlock(vmm.Page(0), vmm.Page(10)), 0, func(vmm.Page) bool { return false })
	if !err.Ok() {
		return nil, err
	}
	kernEnd := vmm.Page(50) + vmm.Page(blockCount) + vmm.Page(256)
	kern, err := vmm.NewPageAllocator(vmm.MkBlock(vmm.Page(50), kernEnd), 0, func(vmm.Page) bool { return false })
	if !err.Ok() {
		return nil, err
	}
	return vmm.NewAddressSpace(mapping, frames, p2v, vmm.Page(50), user, kern), errs.OK
}
