// Command mkfs builds a fresh file system image on a host file,
// adapted from biscuit's mkfs command (biscuit/src/mkfs/mkfs.go),
// which drove ufs.MkDisk/ufs.BootFS to lay out a bootable disk image
// from a bootloader, a kernel image, and a skeleton directory tree.
// This mkfs only formats the file system region itself: the on-disk
// layout this project's kernel mounts has no bootloader or kernel
// image section to splice in.
package main

import (
	"flag"
	"fmt"
	"os"

	"corekernel/disk"
	"corekernel/fs"
)

func main() {
	blocks := flag.Uint64("blocks", 4096, "total blocks in the image")
	inodes := flag.Uint64("inodes", 1024, "total inodes in the image")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mkfs [-blocks N] [-inodes N] <image>")
		os.Exit(1)
	}
	image := flag.Arg(0)

	sectorsPerBlock := uint32(fs.BlockSize / disk.SectorSize)
	d, err := disk.CreateFileDisk(image, uint32(*blocks)*sectorsPerBlock)
	if !err.Ok() {
		fmt.Fprintf(os.Stderr, "mkfs: create %s: %v\n", image, err)
		os.Exit(1)
	}
	defer d.Close()

	if err := fs.Format(d, *blocks, *inodes); !err.Ok() {
		fmt.Fprintf(os.Stderr, "mkfs: format %s: %v\n", image, err)
		os.Exit(1)
	}
	fmt.Printf("mkfs: %s: %d blocks, %d inodes\n", image, *blocks, *inodes)
}
